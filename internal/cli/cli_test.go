package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/gorilla/mux"
	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceTemplate = `service: shop
provider:
  name: aws
  runtime: nodejs20.x
  memorySize: 256
functions:
  hello:
    handler: src/hello.handler
    package:
      artifact: dist/hello.zip
    events:
      - httpApi: 'GET /hello'
resources:
  Resources:
    UsersTable:
      Type: AWS::DynamoDB::Table
      DeletionPolicy: Retain
      Properties:
        TableName: users
        AttributeDefinitions:
          - AttributeName: id
            AttributeType: S
        KeySchema:
          - AttributeName: id
            KeyType: HASH
    Queue:
      Type: AWS::SQS::Queue
`

// controlPlane settles every submitted resource immediately and assigns
// subjects the way the remote API does.
type controlPlane struct {
	mu        sync.Mutex
	resources map[string]ir.ResourceStatus
	commands  []string
	attached  []string
}

func newControlPlane(t *testing.T) *controlPlane {
	cp := &controlPlane{resources: map[string]ir.ResourceStatus{}}

	r := mux.NewRouter()
	r.HandleFunc("/deployments/stack", cp.command).Methods(http.MethodPost)
	r.HandleFunc("/deployment/stacks/{name}/stages/{stage}", cp.getStack).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	t.Setenv("MICROSTRATE_BASE_URL", srv.URL)
	t.Setenv("MICROSTRATE_POLL_DELAY", "0s")
	t.Setenv("MICROSTRATE_POLL_INTERVAL", "0s")
	return cp
}

func (cp *controlPlane) command(w http.ResponseWriter, r *http.Request) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	var req struct {
		Command string `json:"command"`
		Body    struct {
			Stack     ir.Stack `json:"stack"`
			Resources []string `json:"resources"`
		} `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad request"})
		return
	}
	cp.commands = append(cp.commands, req.Command)

	switch req.Command {
	case "deploy-stack":
		stack := req.Body.Stack
		for key, payload := range stack.Resources {
			status := ir.ResourceStatus{Status: ir.StatusSuccess, Type: payload.Type}
			switch resource.Kind(payload.Type) {
			case resource.KindCollection:
				status.Subject = "ms.compute.ns1.collection"
			case resource.KindFunction:
				status.Subject = "ms.compute.ns1." + stack.Name + "." + key
			case resource.KindGateway:
				status.Subject = "ms.gateway.gw1"
			case resource.KindGatewayMapping:
				status.Subject = "ms.gateway.gw1.mapping." + key
			}
			cp.resources[key] = status
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "accepted"})
	case "remove-stack":
		out := map[string]any{}
		for k := range cp.resources {
			out[k] = map[string]any{"status": ir.StatusDeleted}
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "removed", "data": map[string]any{"resources": out}})
	case "attach-resources":
		cp.attached = append(cp.attached, req.Body.Resources...)
		out := map[string]any{}
		for _, k := range req.Body.Resources {
			out[k] = map[string]any{"status": ir.StatusAttached}
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "attached", "data": map[string]any{"resources": out}})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "unknown command"})
	}
}

func (cp *controlPlane) getStack(w http.ResponseWriter, r *http.Request) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"message": "ok", "data": map[string]any{"resources": cp.resources}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeService creates a service directory with a template and its artifact.
func writeService(t *testing.T, tpl string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dist"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dist", "hello.zip"), []byte("zip"), 0644))

	path := filepath.Join(dir, "serverless.yml")
	require.NoError(t, os.WriteFile(path, []byte(tpl), 0644))
	return path
}

// execute runs the root command and returns everything printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var buf bytes.Buffer
	prevOut, prevNoColor := out, color.NoColor
	out = &buf
	color.NoColor = true
	t.Cleanup(func() {
		out = prevOut
		color.NoColor = prevNoColor
		stage = ""
		removeAutoApprove = false
	})

	rootCmd.SetArgs(args)
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRenderResult(t *testing.T) {
	var buf bytes.Buffer
	prevOut := out
	out = &buf
	color.NoColor = true
	defer func() { out = prevOut }()

	renderResult(&ir.DeploymentResult{
		Message: "done",
		Resources: map[string]ir.ResourceStatus{
			"orders": {Status: ir.StatusFailed, Error: "bucket exists"},
			"users":  {Status: ir.StatusSuccess},
			"events": {Status: ir.StatusInProgress},
		},
	})

	assert.Equal(t, "done\n  events: IN_PROGRESS\n  orders: FAILED\n    bucket exists\n  users: SUCCESS\n", buf.String())
}

func TestHasFailures(t *testing.T) {
	assert.True(t, hasFailures(nil))
	assert.False(t, hasFailures(&ir.DeploymentResult{Resources: map[string]ir.ResourceStatus{
		"a": {Status: ir.StatusDeleted},
		"b": {Status: ir.StatusAttached},
	}}))
	assert.True(t, hasFailures(&ir.DeploymentResult{Resources: map[string]ir.ResourceStatus{
		"a": {Status: ir.StatusFailed},
	}}))
}

func TestTemplateCommand(t *testing.T) {
	path := writeService(t, serviceTemplate)

	output, err := execute(t, "template", "-c", path)
	require.NoError(t, err)

	assert.Contains(t, output, "UsersTable:")
	assert.Contains(t, output, "type: MicroStrate::KV::Bucket")
	assert.Contains(t, output, "shopCollection:")
	assert.Contains(t, output, "hello_asset:")
	assert.Contains(t, output, "shopGateway:")
	assert.Contains(t, output, "Could not find compatible resource in microstrate for resource 'Queue'.")
}

func TestTemplateCommandReportsInvalidResources(t *testing.T) {
	tpl := strings.Replace(serviceTemplate, "    handler: src/hello.handler\n", "", 1)
	path := writeService(t, tpl)

	output, err := execute(t, "template", "-c", path)
	require.Error(t, err)
	assert.Contains(t, output, "Resource 'hello' config contains errors:")
}

func TestDeployCommand(t *testing.T) {
	cp := newControlPlane(t)
	path := writeService(t, serviceTemplate)

	output, err := execute(t, "deploy", "-c", path, "-s", "prod")
	require.NoError(t, err)

	assert.Contains(t, output, "Deploying shop to stage prod")
	assert.Contains(t, output, "Deployment of shop to prod complete.")
	assert.Equal(t, []string{"deploy-stack", "deploy-stack", "deploy-stack", "deploy-stack", "deploy-stack"}, cp.commands)

	assert.Contains(t, cp.resources, "UsersTable")
	assert.Contains(t, cp.resources, "hello_asset")
	assert.Contains(t, cp.resources, "shopGateway")
	versions := 0
	for _, status := range cp.resources {
		if status.Type == string(resource.KindGatewayMappingVersion) {
			versions++
		}
	}
	assert.Equal(t, 1, versions)
}

func TestDeployCommandExitStatus(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		status  ir.Status
		wantErr bool
	}{
		{"attached", "LegacyBucket", ir.StatusAttached, false},
		{"in progress", "OtherSvcThing", ir.StatusInProgress, false},
		{"deleted", "OldTable", ir.StatusDeleted, false},
		{"failed", "BrokenTable", ir.StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := newControlPlane(t)
			cp.resources[tt.key] = ir.ResourceStatus{Status: tt.status}
			path := writeService(t, serviceTemplate)

			output, err := execute(t, "deploy", "-c", path)
			assert.Contains(t, output, tt.key+": "+string(tt.status))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, output, "Deployment of shop finished with failed resources.")
				return
			}
			require.NoError(t, err)
			assert.Contains(t, output, "Deployment of shop to dev complete.")
		})
	}
}

func TestRemoveCommand(t *testing.T) {
	cp := newControlPlane(t)
	cp.resources["UsersTable"] = ir.ResourceStatus{Status: ir.StatusSuccess}
	path := writeService(t, serviceTemplate)

	output, err := execute(t, "remove", "-c", path, "--yes")
	require.NoError(t, err)

	assert.Equal(t, []string{"remove-stack"}, cp.commands)
	assert.Contains(t, output, "UsersTable: DELETED")
	assert.Contains(t, output, "Removed shop from dev.")
}

func TestRemoveCommandCancelled(t *testing.T) {
	cp := newControlPlane(t)
	path := writeService(t, serviceTemplate)

	rootCmd.SetIn(strings.NewReader("n\n"))
	defer rootCmd.SetIn(nil)

	output, err := execute(t, "remove", "-c", path)
	require.NoError(t, err)
	assert.Empty(t, cp.commands)
	assert.Contains(t, output, "Remove cancelled.")
}

func TestAttachCommandDefaultsToDeclaredResources(t *testing.T) {
	cp := newControlPlane(t)
	path := writeService(t, serviceTemplate)

	output, err := execute(t, "attach", "-c", path)
	require.NoError(t, err)

	assert.Equal(t, []string{"UsersTable"}, cp.attached)
	assert.Contains(t, output, "Attached 1 resources to shop.")
}

func TestMigrateCommand(t *testing.T) {
	path := writeService(t, serviceTemplate)

	output, err := execute(t, "migrate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Backup written to "+path+"-backup.")

	migrated, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(migrated), "name: microstrate")
	assert.Contains(t, string(migrated), "MicroStrate::KV::Bucket")
	assert.NotContains(t, string(migrated), "AWS::DynamoDB::Table")

	backups, err := filepath.Glob(path + "-backup.*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
