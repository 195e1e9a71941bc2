package mapping

import (
	"context"
	"regexp"
	"strings"

	apitypes "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"
	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/resource"
	"github.com/picklr-io/microstrate/internal/values"
)

// defaultTrafficDistribution sends all traffic to revision 1.
func defaultTrafficDistribution() map[string]any {
	return map[string]any{"1": 100}
}

func mapHTTPMapping(_ context.Context, src Source, _ ir.ProviderDefaults) (*resource.Resource, error) {
	var props map[string]any

	switch {
	case src.Gateway != nil:
		props = values.CloneMap(src.Gateway)
	case src.Event != nil:
		method, path, ok := eventRoute(src.Event)
		if !ok {
			return nil, nil
		}
		props = map[string]any{"path": path, "method": method}
	case src.Decl != nil:
		props = values.CloneMap(src.Decl.Properties())
	default:
		return nil, nil
	}

	if _, ok := props["trafficDistribution"]; !ok {
		props["trafficDistribution"] = defaultTrafficDistribution()
	}

	return resource.New(src.Key, resource.KindGatewayMapping, props,
		resource.WithDeletionPolicy(src.Decl.DeletionPolicy()), resource.Migrated()), nil
}

// eventRoute resolves the route of an http or httpApi event. Malformed
// httpApi strings are not routable.
func eventRoute(ev *ir.Event) (method, path string, ok bool) {
	if ev.HTTP != nil {
		if ev.HTTP.Raw != "" {
			return ev.HTTP.Resolve()
		}
		return ev.HTTP.Method, ev.HTTP.Path, true
	}
	if ev.HTTPAPI != nil {
		return ev.HTTPAPI.Resolve()
	}
	return "", "", false
}

func mapAPIGateway(_ context.Context, src Source, _ ir.ProviderDefaults) (*resource.Resource, error) {
	props := src.Decl.Properties()

	// websocket APIs have no gateway equivalent
	if protocol := values.String(props["ProtocolType"]); protocol != "" &&
		apitypes.ProtocolType(strings.ToUpper(protocol)) != apitypes.ProtocolTypeHttp {
		return nil, nil
	}

	name := values.String(props["Name"])
	if name == "" {
		name = src.Key
	}

	return resource.New(src.Key, resource.KindGateway, map[string]any{
		"name":        name,
		"description": props["Description"],
		"active":      true,
	}, resource.WithDeletionPolicy(src.Decl.DeletionPolicy()), resource.Migrated()), nil
}

var (
	keySeparators = regexp.MustCompile(`[/: ]`)
	keyUnderscore = regexp.MustCompile(`_+`)
)

// BuildMappingKey joins the non-empty parts into a gateway mapping key,
// e.g. ("svc", "fn", "/a/b", "GET") becomes "svc_fn_a_b_get_mapping".
func BuildMappingKey(parts ...string) string {
	kept := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	kept = append(kept, "mapping")

	key := keySeparators.ReplaceAllString(strings.Join(kept, "_"), "_")
	key = keyUnderscore.ReplaceAllString(key, "_")
	return strings.ToLower(key)
}

// EventMappingKey builds the mapping key of a function event.
func EventMappingKey(service, fnKey string, ev *ir.Event) string {
	parts := []string{service, fnKey}
	if ev.HTTP != nil {
		parts = append(parts, ev.HTTP.Path, ev.HTTP.Method, ev.HTTP.Raw)
	}
	if ev.HTTPAPI != nil {
		parts = append(parts, ev.HTTPAPI.Method, ev.HTTPAPI.Path, ev.HTTPAPI.Raw)
	}
	return BuildMappingKey(parts...)
}

// GatewayMappingKey builds the mapping key of a native gateway declaration.
func GatewayMappingKey(service, fnKey string, gateway map[string]any) string {
	return BuildMappingKey(service, fnKey, values.String(gateway["path"]), values.String(gateway["method"]))
}
