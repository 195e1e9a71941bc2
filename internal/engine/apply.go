package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/picklr-io/microstrate/internal/deployapi"
	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/logging"
	"github.com/picklr-io/microstrate/internal/resource"
)

var (
	// ErrMissingCollection is returned when the collection has no namespace after the Resources phase.
	ErrMissingCollection = errors.New("function collection resource is missing")
	// ErrMissingGateway is returned when mappings exist but the gateway has no subject.
	ErrMissingGateway = errors.New("gateway resource is missing")
	// ErrMissingSubject is returned when a deployed resource has no usable subject.
	ErrMissingSubject = errors.New("resource subject is missing")
)

// StackAPI is the remote control plane used by the engine.
type StackAPI interface {
	DeployStack(ctx context.Context, stack *ir.Stack) (*ir.DeploymentResult, error)
	GetStack(ctx context.Context, ref ir.StackRef, keys []string) (*ir.DeploymentResult, error)
	RemoveStack(ctx context.Context, ref ir.StackRef) (*ir.DeploymentResult, error)
}

// Phase is a step of a staged deployment.
type Phase int

const (
	PhaseResources Phase = iota
	PhaseFunctions
	PhaseAssets
	PhaseGatewayMappings
	PhaseMappingVersions
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseResources:
		return "resources"
	case PhaseFunctions:
		return "functions"
	case PhaseAssets:
		return "assets"
	case PhaseGatewayMappings:
		return "gateway-mappings"
	case PhaseMappingVersions:
		return "mapping-versions"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// PhaseEvent represents a progress event during deployment.
type PhaseEvent struct {
	Phase    Phase
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// PhaseCallback is called for each phase event if set.
type PhaseCallback func(event PhaseEvent)

// Outcome summarizes a deployment run.
type Outcome struct {
	// Phase is PhaseDone once the run completes, otherwise the phase that failed.
	Phase Phase
	// Halted is set when a phase reported failed resources and later phases were skipped.
	Halted bool
	// Result is the final remote view of the stack.
	Result *ir.DeploymentResult
}

// run carries the identifiers discovered by one phase into the next.
type run struct {
	api  StackAPI
	plan *Plan

	namespace string
	functions *ir.DeploymentResult
	halted    bool
}

// Deploy validates the plan and drives it through every phase.
func (e *Engine) Deploy(ctx context.Context, plan *Plan) (*Outcome, error) {
	return e.DeployWithCallback(ctx, plan, nil)
}

// DeployWithCallback deploys the plan, reporting phase progress to callback.
// Nothing is sent to the remote API when validation fails.
func (e *Engine) DeployWithCallback(ctx context.Context, plan *Plan, callback PhaseCallback) (*Outcome, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	emit := func(event PhaseEvent) {
		if callback != nil {
			callback(event)
		}
	}

	r := &run{api: e.api, plan: plan}
	outcome := &Outcome{Phase: PhaseResources}

	for outcome.Phase != PhaseDone {
		phase := outcome.Phase
		start := time.Now()
		emit(PhaseEvent{Phase: phase, Status: "started"})
		logging.Debug("entering phase", "phase", phase.String())

		next, err := r.step(ctx, phase)
		if err != nil {
			emit(PhaseEvent{Phase: phase, Status: "failed", Duration: time.Since(start), Error: err})
			return outcome, fmt.Errorf("%s phase failed: %w", phase, err)
		}
		emit(PhaseEvent{Phase: phase, Status: "completed", Duration: time.Since(start)})
		outcome.Phase = next
	}

	outcome.Halted = r.halted
	final, err := e.api.GetStack(ctx, plan.Ref(), nil)
	if err != nil {
		return outcome, err
	}
	outcome.Result = final
	return outcome, nil
}

// step executes one phase and returns the phase to run next.
func (r *run) step(ctx context.Context, phase Phase) (Phase, error) {
	switch phase {
	case PhaseResources:
		return r.deployResources(ctx)
	case PhaseFunctions:
		return r.deployFunctions(ctx)
	case PhaseAssets:
		return r.deployAssets(ctx)
	case PhaseGatewayMappings:
		return r.deployMappings(ctx)
	case PhaseMappingVersions:
		return r.deployVersions(ctx)
	}
	return PhaseDone, nil
}

func (r *run) deployResources(ctx context.Context) (Phase, error) {
	res, err := r.api.DeployStack(ctx, r.stack(r.plan.Resources, nil))
	if err != nil {
		return PhaseDone, err
	}

	subject, ok := ParseSubject(res.Subject(r.plan.CollectionKey))
	if !ok || subject.Namespace == "" {
		return PhaseDone, ErrMissingCollection
	}
	r.namespace = subject.Namespace

	if len(r.plan.Functions) == 0 {
		return PhaseGatewayMappings, nil
	}
	return PhaseFunctions, nil
}

func (r *run) deployFunctions(ctx context.Context) (Phase, error) {
	stack := r.stack(r.plan.Functions, func(_ string, props map[string]any) {
		asset, ok := props["compute_asset"].(map[string]any)
		if !ok {
			asset = map[string]any{}
			props["compute_asset"] = asset
		}
		asset["namespace"] = r.namespace
	})

	res, err := r.api.DeployStack(ctx, stack)
	if err != nil {
		return PhaseDone, err
	}
	r.functions = res
	return PhaseAssets, nil
}

func (r *run) deployAssets(ctx context.Context) (Phase, error) {
	assets := make(map[string]*resource.Resource, len(r.plan.Assets))
	for _, a := range r.plan.Assets {
		assets[a.Key()] = a
	}

	// one submission per function, each waiting for the previous one
	for _, fn := range r.plan.Functions {
		var group []*resource.Resource
		for _, key := range r.plan.Deps.Assets[fn.Key()] {
			if a, ok := assets[key]; ok {
				group = append(group, a)
			}
		}
		if len(group) == 0 {
			continue
		}

		subject, ok := ParseSubject(r.functions.Subject(fn.Key()))
		if !ok || subject.Service == "" {
			return PhaseDone, fmt.Errorf("function %s: %w", fn.Key(), ErrMissingSubject)
		}

		res, err := r.api.DeployStack(ctx, r.stack(group, func(_ string, props map[string]any) {
			props["namespace"] = subject.Namespace
			props["service"] = subject.Service
		}))
		if err != nil {
			return PhaseDone, err
		}
		if !deployapi.IsSuccessful(res) {
			logging.Warn("asset deployment did not succeed, skipping remaining phases", "function", fn.Key())
			r.halted = true
			return PhaseDone, nil
		}
	}
	return PhaseGatewayMappings, nil
}

func (r *run) deployMappings(ctx context.Context) (Phase, error) {
	if len(r.plan.Mappings) == 0 {
		return PhaseDone, nil
	}

	// the gateway may have been created implicitly, so read it from the live stack
	current, err := r.api.GetStack(ctx, r.plan.Ref(), nil)
	if err != nil {
		return PhaseDone, err
	}
	gateway := current.Subject(r.plan.GatewayKey)
	if gateway == "" {
		return PhaseDone, ErrMissingGateway
	}

	_, err = r.api.DeployStack(ctx, r.stack(r.plan.Mappings, func(_ string, props map[string]any) {
		props["gateway"] = gateway
	}))
	if err != nil {
		return PhaseDone, err
	}
	return PhaseMappingVersions, nil
}

func (r *run) deployVersions(ctx context.Context) (Phase, error) {
	current, err := r.api.GetStack(ctx, r.plan.Ref(), nil)
	if err != nil {
		return PhaseDone, err
	}

	var versions []*resource.Resource
	for _, fn := range r.plan.Functions {
		for _, mappingKey := range r.plan.Deps.Mappings[fn.Key()] {
			fnSubject := current.Subject(fn.Key())
			if fnSubject == "" {
				return PhaseDone, fmt.Errorf("function %s: %w", fn.Key(), ErrMissingSubject)
			}
			mappingSubject := current.Subject(mappingKey)
			if mappingSubject == "" {
				return PhaseDone, fmt.Errorf("mapping %s: %w", mappingKey, ErrMissingSubject)
			}

			versions = append(versions, resource.New(VersionKey(mappingKey), resource.KindGatewayMappingVersion, map[string]any{
				"active":       true,
				"mapping":      mappingSubject,
				"resource":     fnSubject,
				"resourceType": "compute",
			}))
		}
	}
	if len(versions) == 0 {
		return PhaseDone, nil
	}

	if _, err := r.api.DeployStack(ctx, r.stack(versions, nil)); err != nil {
		return PhaseDone, err
	}
	return PhaseDone, nil
}

// stack projects resources into a stack submission. enrich, when set, may
// rewrite each payload's properties in place.
func (r *run) stack(resources []*resource.Resource, enrich func(key string, props map[string]any)) *ir.Stack {
	stack := &ir.Stack{
		Name:      r.plan.Service,
		Stage:     r.plan.Stage,
		Resources: make(map[string]ir.ResourcePayload, len(resources)),
	}
	for _, res := range resources {
		for key, payload := range res.Deploy() {
			if enrich != nil {
				if payload.Properties == nil {
					payload.Properties = map[string]any{}
				}
				enrich(key, payload.Properties)
			}
			stack.Resources[key] = payload
		}
	}
	return stack
}

// Remove deletes the stack of a service stage.
func (e *Engine) Remove(ctx context.Context, ref ir.StackRef) (*ir.DeploymentResult, error) {
	logging.Debug("removing stack", "name", ref.Name, "stage", ref.Stage)
	return e.api.RemoveStack(ctx, ref)
}
