package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/logging"
	"github.com/picklr-io/microstrate/internal/mapping"
	"github.com/picklr-io/microstrate/internal/resource"
)

// DefaultStage is used when neither the caller nor the template names a stage.
const DefaultStage = "dev"

// ProviderName is the provider name written into migrated templates.
const ProviderName = "microstrate"

// Engine builds deployment plans and drives them against the remote API.
type Engine struct {
	registry *mapping.Registry
	api      StackAPI
}

func NewEngine(registry *mapping.Registry, api StackAPI) *Engine {
	return &Engine{
		registry: registry,
		api:      api,
	}
}

// Plan is the full resource set of one deployment.
type Plan struct {
	Service  string
	Stage    string
	Provider ir.ProviderDefaults

	// Resources holds explicit resources plus the collection and gateway.
	Resources []*resource.Resource
	Functions []*resource.Resource
	Assets    []*resource.Resource
	Mappings  []*resource.Resource
	Deps      Dependencies

	CollectionKey string
	GatewayKey    string
}

// Dependencies links every function to the resources derived from it.
type Dependencies struct {
	// Assets maps a function key to its asset keys.
	Assets map[string][]string
	// Mappings maps a function key to its gateway mapping keys.
	Mappings map[string][]string
}

// Ref returns the identity of the plan's stack.
func (p *Plan) Ref() ir.StackRef {
	return ir.StackRef{Name: p.Service, Stage: p.Stage}
}

// All returns every resource in deployment order.
func (p *Plan) All() []*resource.Resource {
	all := make([]*resource.Resource, 0, len(p.Resources)+len(p.Functions)+len(p.Assets)+len(p.Mappings))
	all = append(all, p.Resources...)
	all = append(all, p.Functions...)
	all = append(all, p.Assets...)
	all = append(all, p.Mappings...)
	return all
}

// ValidationError reports the first resource with configuration errors.
type ValidationError struct {
	Key      string
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resource '%s' config contains errors:\n%s", e.Key, strings.Join(e.Messages, "\n"))
}

// Validate checks resources, functions and mappings and stops at the first
// resource that does not validate.
func (p *Plan) Validate() error {
	groups := [][]*resource.Resource{p.Resources, p.Functions, p.Mappings}
	for _, group := range groups {
		for _, res := range group {
			if msgs := res.Validate(); len(msgs) > 0 {
				return &ValidationError{Key: res.Key(), Messages: msgs}
			}
		}
	}
	return nil
}

// PlanOptions tunes CreatePlan.
type PlanOptions struct {
	// Stage overrides the template stage.
	Stage string
	// NotFound is invoked for every declaration without a target equivalent.
	NotFound func(key string)
}

// ResolveStage picks the deployment stage: explicit, template, then default.
func ResolveStage(explicit string, tpl *ir.Template) string {
	if explicit != "" {
		return explicit
	}
	if tpl != nil && tpl.Provider.Stage != "" {
		return tpl.Provider.Stage
	}
	return DefaultStage
}

// CreatePlan maps the template into the complete resource set of a deployment.
func (e *Engine) CreatePlan(ctx context.Context, tpl *ir.Template, opts PlanOptions) (*Plan, error) {
	if tpl.Service == "" {
		return nil, fmt.Errorf("template has no service name")
	}

	plan := &Plan{
		Service:  tpl.Service,
		Stage:    ResolveStage(opts.Stage, tpl),
		Provider: tpl.Provider,
		Deps: Dependencies{
			Assets:   make(map[string][]string),
			Mappings: make(map[string][]string),
		},
	}

	notFound := func(key string, _ mapping.Source) {
		if opts.NotFound != nil {
			opts.NotFound(key)
			return
		}
		logging.Warn(fmt.Sprintf("Could not find compatible resource in %s for resource '%s'.", ProviderName, key))
	}

	// 1. Explicit resources
	var decls map[string]ir.ResourceDecl
	if tpl.Resources != nil {
		decls = tpl.Resources.Resources
	}
	resources, err := e.registry.MapAll(ctx, plan.Provider, mapping.FromDecls(decls), mapping.Options{NotFound: notFound})
	if err != nil {
		return nil, err
	}
	for _, res := range resources {
		if res.IsMigrated() {
			logging.Info(fmt.Sprintf("We migrated resource '%s'. Template for %s:\n%s", res.Key(), ProviderName, res.Template()))
		}
	}
	plan.Resources = resources

	// 2. Collection anchor
	collection, err := e.registry.Map(ctx, plan.Provider, collectionSource(tpl), "")
	if err != nil {
		return nil, err
	}
	plan.CollectionKey = collection.Key()
	plan.Resources = append(plan.Resources, collection)

	// 3. Functions
	fnKeys := sortedKeys(tpl.Functions)
	plan.Functions, err = e.registry.MapAll(ctx, plan.Provider, functionSources(tpl, fnKeys), mapping.Options{
		OverrideType: mapping.TypeLambdaFunction,
		NotFound:     notFound,
	})
	if err != nil {
		return nil, err
	}
	mapped := make(map[string]bool, len(plan.Functions))
	for _, fn := range plan.Functions {
		mapped[fn.Key()] = true
	}

	// 4. Function assets
	layers := layerIndex(tpl.Layers)
	var assetSources []mapping.Source
	for _, key := range fnKeys {
		if !mapped[key] {
			continue
		}
		fn := tpl.Functions[key]
		assetKey := AssetKey(key)
		assetSources = append(assetSources, mapping.Source{
			Key:      assetKey,
			Function: fn,
			Layers:   resolveLayers(fn.Layers, layers),
		})
		plan.Deps.Assets[key] = append(plan.Deps.Assets[key], assetKey)
	}
	plan.Assets, err = e.registry.MapAll(ctx, plan.Provider, assetSources, mapping.Options{
		OverrideType: mapping.TypeLambdaFunctionAsset,
		NotFound:     notFound,
	})
	if err != nil {
		return nil, err
	}

	// 5. HTTP mappings
	if err := e.planMappings(ctx, plan, tpl, fnKeys, mapped); err != nil {
		return nil, err
	}

	// 6. Default gateway
	plan.GatewayKey = findKey(plan.Resources, resource.KindGateway)
	if len(plan.Mappings) > 0 && plan.GatewayKey == "" {
		gateway, err := e.registry.Map(ctx, plan.Provider, gatewaySource(tpl), "")
		if err != nil {
			return nil, err
		}
		plan.GatewayKey = gateway.Key()
		plan.Resources = append(plan.Resources, gateway)
	}

	logging.Debug("plan created", "service", plan.Service, "stage", plan.Stage,
		"resources", len(plan.Resources), "functions", len(plan.Functions),
		"assets", len(plan.Assets), "mappings", len(plan.Mappings))

	return plan, nil
}

func (e *Engine) planMappings(ctx context.Context, plan *Plan, tpl *ir.Template, fnKeys []string, mapped map[string]bool) error {
	index := make(map[string]int)
	for _, key := range fnKeys {
		if !mapped[key] {
			continue
		}
		fn := tpl.Functions[key]

		var sources []mapping.Source
		for i := range fn.Events {
			ev := fn.Events[i]
			if ev.HTTP == nil && ev.HTTPAPI == nil {
				continue
			}
			sources = append(sources, mapping.Source{
				Key:      mapping.EventMappingKey(tpl.Service, key, &ev),
				Function: fn,
				Event:    &ev,
			})
		}
		for _, gw := range fn.Gateway {
			sources = append(sources, mapping.Source{
				Key:      mapping.GatewayMappingKey(tpl.Service, key, gw),
				Function: fn,
				Gateway:  gw,
			})
		}

		for _, src := range sources {
			res, err := e.registry.Map(ctx, plan.Provider, src, mapping.TypeLambdaHTTPMapping)
			if err != nil {
				return err
			}
			if res == nil {
				logging.Debug("dropping unroutable http event", "function", key, "mapping", src.Key)
				continue
			}

			// a repeated key replaces the earlier declaration
			if i, ok := index[res.Key()]; ok {
				plan.Mappings[i] = res
				continue
			}
			index[res.Key()] = len(plan.Mappings)
			plan.Mappings = append(plan.Mappings, res)
			plan.Deps.Mappings[key] = append(plan.Deps.Mappings[key], res.Key())
		}
	}
	return nil
}

// AssetKey returns the key of a function's asset resource.
func AssetKey(fnKey string) string {
	return fnKey + "_asset"
}

// VersionKey returns the key of a mapping's version resource.
func VersionKey(mappingKey string) string {
	return mappingKey + "_version"
}

func collectionSource(tpl *ir.Template) mapping.Source {
	props := map[string]any{
		"name":            tpl.Service,
		"collection_type": "function",
	}
	if tpl.Provider.CollectionTopic != "" {
		props["subject"] = fmt.Sprintf("ms.compute.%s.collection", tpl.Provider.CollectionTopic)
	}

	return mapping.Source{
		Key:  tpl.Service + "Collection",
		Type: string(resource.KindCollection),
		Decl: ir.ResourceDecl{
			"type":            string(resource.KindCollection),
			"deletion_policy": "retain",
			"properties":      props,
		},
	}
}

func gatewaySource(tpl *ir.Template) mapping.Source {
	key := tpl.Service + "Gateway"
	return mapping.Source{
		Key:  key,
		Type: string(resource.KindGateway),
		Decl: ir.ResourceDecl{
			"type":            string(resource.KindGateway),
			"deletion_policy": "retain",
			"properties":      map[string]any{"name": key, "active": true},
		},
	}
}

func functionSources(tpl *ir.Template, keys []string) []mapping.Source {
	out := make([]mapping.Source, 0, len(keys))
	for _, key := range keys {
		out = append(out, mapping.Source{Key: key, Function: tpl.Functions[key]})
	}
	return out
}

// layerIndex keys the declared layers by lower-cased name.
func layerIndex(layers map[string]*ir.Layer) map[string]*ir.Layer {
	out := make(map[string]*ir.Layer, len(layers))
	for name, l := range layers {
		if l == nil {
			continue
		}
		layer := *l
		if layer.Name == "" {
			layer.Name = name
		}
		out[strings.ToLower(name)] = &layer
	}
	return out
}

// resolveLayers matches function layer references by name or by {Ref: "<Name>LambdaLayer"}.
func resolveLayers(refs []any, layers map[string]*ir.Layer) []*ir.Layer {
	var out []*ir.Layer
	for _, ref := range refs {
		var layer *ir.Layer
		switch v := ref.(type) {
		case string:
			layer = layers[strings.ToLower(v)]
		case map[string]any:
			name, _ := v["Ref"].(string)
			if name == "" {
				continue
			}
			layer = layers[strings.ToLower(strings.Replace(name, "LambdaLayer", "", 1))]
			if layer == nil {
				layer = layers[strings.ToLower(name)]
			}
		}
		if layer != nil {
			out = append(out, layer)
		}
	}
	return out
}

func findKey(resources []*resource.Resource, kind resource.Kind) string {
	for _, res := range resources {
		if res.Type() == kind {
			return res.Key()
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
