package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/mapping"
	"github.com/picklr-io/microstrate/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReader map[string]string

func (m memReader) Read(_ context.Context, location string) ([]byte, error) {
	data, ok := m[location]
	if !ok {
		return nil, fmt.Errorf("%s: not found", location)
	}
	return []byte(data), nil
}

// fakeAPI assigns subjects to deployed resources the way the control plane does.
type fakeAPI struct {
	resources map[string]ir.ResourceStatus
	stacks    []*ir.Stack
	calls     []string

	noCollectionSubject bool
	failAssets          bool
	failAsset           string
	deployErr           error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{resources: map[string]ir.ResourceStatus{}}
}

func (f *fakeAPI) DeployStack(_ context.Context, stack *ir.Stack) (*ir.DeploymentResult, error) {
	f.calls = append(f.calls, "deploy")
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	f.stacks = append(f.stacks, stack)

	out := &ir.DeploymentResult{Status: "SUCCESS", Resources: map[string]ir.ResourceStatus{}}
	for key, payload := range stack.Resources {
		status := ir.ResourceStatus{Status: ir.StatusSuccess, Type: payload.Type}
		switch resource.Kind(payload.Type) {
		case resource.KindCollection:
			if !f.noCollectionSubject {
				status.Subject = "ms.compute.ns1.collection"
			}
		case resource.KindFunction:
			ns := payload.Properties["compute_asset"].(map[string]any)["namespace"]
			status.Subject = fmt.Sprintf("ms.compute.%v.%s.%s", ns, stack.Name, key)
		case resource.KindFunctionAsset:
			if f.failAssets || key == f.failAsset {
				status.Status = ir.StatusFailed
				status.Error = "archive rejected"
			}
		case resource.KindGateway:
			status.Subject = "ms.gateway.gw1"
		case resource.KindGatewayMapping:
			status.Subject = "ms.gateway.gw1.mapping." + key
		}
		f.resources[key] = status
		out.Resources[key] = status
	}
	return out, nil
}

func (f *fakeAPI) GetStack(_ context.Context, _ ir.StackRef, _ []string) (*ir.DeploymentResult, error) {
	f.calls = append(f.calls, "get")
	out := &ir.DeploymentResult{Status: "SUCCESS", Resources: map[string]ir.ResourceStatus{}}
	for k, v := range f.resources {
		out.Resources[k] = v
	}
	return out, nil
}

func (f *fakeAPI) RemoveStack(_ context.Context, ref ir.StackRef) (*ir.DeploymentResult, error) {
	f.calls = append(f.calls, "remove")
	out := &ir.DeploymentResult{Message: "removed " + ref.Name, Resources: map[string]ir.ResourceStatus{}}
	for k := range f.resources {
		out.Resources[k] = ir.ResourceStatus{Status: ir.StatusDeleted}
	}
	return out, nil
}

func newTestEngine(api StackAPI) *Engine {
	reg := mapping.NewRegistry(memReader{"users.zip": "users", "orders.zip": "orders", "common.zip": "common"})
	return NewEngine(reg, api)
}

func usersTemplate() *ir.Template {
	return &ir.Template{
		Service:  "shop",
		Provider: ir.ProviderDefaults{Name: "microstrate", Runtime: "nodejs20.x"},
		Functions: map[string]*ir.Function{
			"users": {
				Handler: "index.users",
				Package: &ir.Package{Artifact: "users.zip"},
				Events:  []ir.Event{{HTTPAPI: &ir.Route{Raw: "GET /users"}}},
			},
		},
	}
}

func keys(resources []*resource.Resource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.Key())
	}
	return out
}

func TestCreatePlanSingleFunction(t *testing.T) {
	eng := newTestEngine(nil)

	plan, err := eng.CreatePlan(context.Background(), usersTemplate(), PlanOptions{})
	require.NoError(t, err)

	assert.Equal(t, "dev", plan.Stage)
	assert.Equal(t, []string{"shopCollection", "shopGateway"}, keys(plan.Resources))
	assert.Equal(t, []string{"users"}, keys(plan.Functions))
	assert.Equal(t, []string{"users_asset"}, keys(plan.Assets))
	assert.Equal(t, []string{"shop_users_get_users_mapping"}, keys(plan.Mappings))
	assert.Equal(t, "shopCollection", plan.CollectionKey)
	assert.Equal(t, "shopGateway", plan.GatewayKey)

	assert.Equal(t, map[string][]string{"users": {"users_asset"}}, plan.Deps.Assets)
	assert.Equal(t, map[string][]string{"users": {"shop_users_get_users_mapping"}}, plan.Deps.Mappings)

	gateway := plan.Resources[1]
	assert.Equal(t, resource.KindGateway, gateway.Type())
	assert.Equal(t, "retain", gateway.DeletionPolicy())
	assert.Equal(t, true, gateway.Properties()["active"])

	collection := plan.Resources[0]
	assert.Equal(t, map[string]any{"name": "shop", "collection_type": "function"}, collection.Properties())

	assert.NoError(t, plan.Validate())
}

func TestCreatePlanExplicitGatewayAndDroppedResources(t *testing.T) {
	tpl := usersTemplate()
	tpl.Provider.Stage = "prod"
	tpl.Provider.CollectionTopic = "shop-topic"
	tpl.Resources = &ir.ResourceSection{Resources: map[string]ir.ResourceDecl{
		"api":   {"Type": "AWS::ApiGatewayV2::Api", "Properties": map[string]any{"Name": "shop-api"}},
		"queue": {"Type": "AWS::SQS::Queue"},
	}}

	var missing []string
	plan, err := newTestEngine(nil).CreatePlan(context.Background(), tpl, PlanOptions{
		NotFound: func(key string) { missing = append(missing, key) },
	})
	require.NoError(t, err)

	assert.Equal(t, "prod", plan.Stage)
	assert.Equal(t, []string{"queue"}, missing)
	assert.Equal(t, []string{"api", "shopCollection"}, keys(plan.Resources))
	assert.Equal(t, "api", plan.GatewayKey)
	assert.Equal(t, "ms.compute.shop-topic.collection", plan.Resources[1].Properties()["subject"])
}

func TestCreatePlanNoMappingsNoGateway(t *testing.T) {
	tpl := usersTemplate()
	tpl.Functions["users"].Events = []ir.Event{{HTTPAPI: &ir.Route{Raw: "onlyonetoken"}}, {}}

	plan, err := newTestEngine(nil).CreatePlan(context.Background(), tpl, PlanOptions{Stage: "qa"})
	require.NoError(t, err)

	assert.Equal(t, "qa", plan.Stage)
	assert.Empty(t, plan.Mappings)
	assert.Empty(t, plan.GatewayKey)
	assert.Equal(t, []string{"shopCollection"}, keys(plan.Resources))
}

func TestCreatePlanLayers(t *testing.T) {
	tpl := usersTemplate()
	tpl.Layers = map[string]*ir.Layer{
		"Common": {Path: "./layers/common", Package: &ir.Package{Artifact: "common.zip"}},
	}
	tpl.Functions["users"].Layers = []any{map[string]any{"Ref": "CommonLambdaLayer"}}
	tpl.Functions["orders"] = &ir.Function{
		Handler: "index.orders",
		Package: &ir.Package{Artifact: "orders.zip"},
		Layers:  []any{"common", "unknown"},
	}

	plan, err := newTestEngine(nil).CreatePlan(context.Background(), tpl, PlanOptions{})
	require.NoError(t, err)
	require.Len(t, plan.Assets, 2)

	for _, asset := range plan.Assets {
		assets := asset.Properties()["assets"].([]any)
		require.Len(t, assets, 2, asset.Key())
		assert.Equal(t, "/layers/common", assets[1].(map[string]any)["asset_name"])
	}
}

func TestCreatePlanSkipsUnsupportedFunctions(t *testing.T) {
	tpl := usersTemplate()
	tpl.Functions["py"] = &ir.Function{
		Handler: "main.handler",
		Runtime: "python3.12",
		Events:  []ir.Event{{HTTPAPI: &ir.Route{Raw: "GET /py"}}},
	}

	var missing []string
	plan, err := newTestEngine(nil).CreatePlan(context.Background(), tpl, PlanOptions{
		NotFound: func(key string) { missing = append(missing, key) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"py"}, missing)
	assert.Equal(t, []string{"users"}, keys(plan.Functions))
	assert.Equal(t, []string{"users_asset"}, keys(plan.Assets))
	assert.Len(t, plan.Mappings, 1)
}

func TestDeployEndToEnd(t *testing.T) {
	api := newFakeAPI()
	eng := newTestEngine(api)

	plan, err := eng.CreatePlan(context.Background(), usersTemplate(), PlanOptions{})
	require.NoError(t, err)

	var phases []Phase
	outcome, err := eng.DeployWithCallback(context.Background(), plan, func(ev PhaseEvent) {
		if ev.Status == "started" {
			phases = append(phases, ev.Phase)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []Phase{PhaseResources, PhaseFunctions, PhaseAssets, PhaseGatewayMappings, PhaseMappingVersions}, phases)
	assert.Equal(t, PhaseDone, outcome.Phase)
	assert.False(t, outcome.Halted)
	require.Len(t, api.stacks, 5)

	// the function carries the collection namespace
	fn := api.stacks[1].Resources["users"]
	assert.Equal(t, "ns1", fn.Properties["compute_asset"].(map[string]any)["namespace"])

	// the asset is scoped by the deployed function subject
	asset := api.stacks[2].Resources["users_asset"]
	assert.Equal(t, "ns1", asset.Properties["namespace"])
	assert.Equal(t, "shop", asset.Properties["service"])

	// mappings point at the gateway subject
	route := api.stacks[3].Resources["shop_users_get_users_mapping"]
	assert.Equal(t, "ms.gateway.gw1", route.Properties["gateway"])

	// exactly one version links the mapping to the function
	versions := api.stacks[4].Resources
	require.Len(t, versions, 1)
	version := versions["shop_users_get_users_mapping_version"]
	assert.Equal(t, string(resource.KindGatewayMappingVersion), version.Type)
	assert.Equal(t, map[string]any{
		"active":       true,
		"mapping":      "ms.gateway.gw1.mapping.shop_users_get_users_mapping",
		"resource":     "ms.compute.ns1.shop.users",
		"resourceType": "compute",
	}, version.Properties)

	require.NotNil(t, outcome.Result)
	assert.Len(t, outcome.Result.Resources, 6)
}

func TestDeployMissingCollectionStops(t *testing.T) {
	api := newFakeAPI()
	api.noCollectionSubject = true
	eng := newTestEngine(api)

	plan, err := eng.CreatePlan(context.Background(), usersTemplate(), PlanOptions{})
	require.NoError(t, err)

	outcome, err := eng.Deploy(context.Background(), plan)
	require.ErrorIs(t, err, ErrMissingCollection)
	assert.Equal(t, PhaseResources, outcome.Phase)
	assert.Equal(t, []string{"deploy"}, api.calls)
}

func TestDeployValidationFailureMakesNoCalls(t *testing.T) {
	api := newFakeAPI()
	eng := newTestEngine(api)

	tpl := usersTemplate()
	tpl.Functions["users"].Handler = ""

	plan, err := eng.CreatePlan(context.Background(), tpl, PlanOptions{})
	require.NoError(t, err)

	_, err = eng.Deploy(context.Background(), plan)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "users", verr.Key)
	assert.Contains(t, verr.Error(), "compute_asset.handler")
	assert.Empty(t, api.calls)
}

func TestDeployHaltsOnFailedAssets(t *testing.T) {
	api := newFakeAPI()
	api.failAssets = true
	eng := newTestEngine(api)

	plan, err := eng.CreatePlan(context.Background(), usersTemplate(), PlanOptions{})
	require.NoError(t, err)

	outcome, err := eng.Deploy(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, outcome.Halted)
	assert.Len(t, api.stacks, 3)
	assert.Equal(t, ir.StatusFailed, outcome.Result.Resources["users_asset"].Status)
}

func twoFunctionTemplate() *ir.Template {
	tpl := usersTemplate()
	tpl.Functions["orders"] = &ir.Function{
		Handler: "index.orders",
		Package: &ir.Package{Artifact: "orders.zip"},
	}
	return tpl
}

func TestDeployAssetsOneStackPerFunction(t *testing.T) {
	api := newFakeAPI()
	eng := newTestEngine(api)

	plan, err := eng.CreatePlan(context.Background(), twoFunctionTemplate(), PlanOptions{})
	require.NoError(t, err)

	outcome, err := eng.Deploy(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, outcome.Halted)
	require.Len(t, api.stacks, 6)

	assert.Equal(t, []string{"orders_asset"}, api.stacks[2].Keys())
	assert.Equal(t, []string{"users_asset"}, api.stacks[3].Keys())
	assert.Equal(t, "ms.compute.ns1.shop.orders", api.resources["orders"].Subject)
}

func TestDeployAssetsStopAtFirstFailedSubmission(t *testing.T) {
	api := newFakeAPI()
	api.failAsset = "orders_asset"
	eng := newTestEngine(api)

	plan, err := eng.CreatePlan(context.Background(), twoFunctionTemplate(), PlanOptions{})
	require.NoError(t, err)

	outcome, err := eng.Deploy(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, outcome.Halted)
	assert.Equal(t, PhaseDone, outcome.Phase)

	require.Len(t, api.stacks, 3)
	assert.Equal(t, []string{"orders_asset"}, api.stacks[2].Keys())
	for _, stack := range api.stacks {
		assert.NotContains(t, stack.Resources, "users_asset")
	}
	assert.Equal(t, ir.StatusFailed, outcome.Result.Resources["orders_asset"].Status)
}

func TestDeployAPIError(t *testing.T) {
	api := newFakeAPI()
	api.deployErr = fmt.Errorf("connection refused")
	eng := newTestEngine(api)

	plan, err := eng.CreatePlan(context.Background(), usersTemplate(), PlanOptions{})
	require.NoError(t, err)

	var failed []PhaseEvent
	_, err = eng.DeployWithCallback(context.Background(), plan, func(ev PhaseEvent) {
		if ev.Status == "failed" {
			failed = append(failed, ev)
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	require.Len(t, failed, 1)
	assert.Equal(t, PhaseResources, failed[0].Phase)
}

func TestDeployWithoutFunctions(t *testing.T) {
	api := newFakeAPI()
	eng := newTestEngine(api)

	tpl := &ir.Template{Service: "data", Resources: &ir.ResourceSection{Resources: map[string]ir.ResourceDecl{
		"users": {"Type": "AWS::DynamoDB::Table", "Properties": map[string]any{"TableName": "users"}},
	}}}

	plan, err := eng.CreatePlan(context.Background(), tpl, PlanOptions{})
	require.NoError(t, err)

	outcome, err := eng.Deploy(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, outcome.Phase)
	assert.Equal(t, []string{"deploy", "get"}, api.calls)
}

func TestRemove(t *testing.T) {
	api := newFakeAPI()
	api.resources["users"] = ir.ResourceStatus{Status: ir.StatusSuccess}

	res, err := newTestEngine(api).Remove(context.Background(), ir.StackRef{Name: "shop", Stage: "dev"})
	require.NoError(t, err)
	assert.Equal(t, "removed shop", res.Message)
	assert.Equal(t, ir.StatusDeleted, res.Resources["users"].Status)
}

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    Subject
		ok      bool
	}{
		{"ms.compute.ns1.collection", Subject{Namespace: "ns1"}, true},
		{"ms.compute.ns1.shop.users", Subject{Namespace: "ns1", Service: "shop"}, true},
		{"ms.compute", Subject{}, false},
		{"", Subject{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			got, ok := ParseSubject(tt.subject)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveStage(t *testing.T) {
	assert.Equal(t, "cli", ResolveStage("cli", &ir.Template{Provider: ir.ProviderDefaults{Stage: "tpl"}}))
	assert.Equal(t, "tpl", ResolveStage("", &ir.Template{Provider: ir.ProviderDefaults{Stage: "tpl"}}))
	assert.Equal(t, DefaultStage, ResolveStage("", nil))
}
