package mapping

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/docker/go-units"
	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/resource"
	"github.com/picklr-io/microstrate/internal/values"
)

// DefaultRuntime is used when neither the function nor the provider names one.
const DefaultRuntime = string(lambdatypes.RuntimeNodejs20x)

// DefaultTimeoutSeconds applies when no timeout is declared.
const DefaultTimeoutSeconds = 30

const (
	assetTypeArchive = "archive"
	rootAssetName    = "/"
)

func (r *Registry) mapFunction(_ context.Context, src Source, p ir.ProviderDefaults) (*resource.Resource, error) {
	fn := sourceFunction(src)
	if fn == nil {
		return nil, nil
	}

	asset, ok := computeAsset(fn, p)
	if !ok {
		return nil, nil
	}
	asset["assets"] = []any{}

	props := map[string]any{
		"name":          fn.Name,
		"compute_asset": asset,
	}
	return resource.New(src.Key, resource.KindFunction, props,
		resource.WithDeletionPolicy(src.Decl.DeletionPolicy()), resource.Migrated()), nil
}

func (r *Registry) mapFunctionAsset(ctx context.Context, src Source, p ir.ProviderDefaults) (*resource.Resource, error) {
	fn := sourceFunction(src)
	if fn == nil {
		return nil, nil
	}

	props, ok := computeAsset(fn, p)
	if !ok {
		return nil, nil
	}

	root, err := r.readAsset(ctx, fn.Artifact())
	if err != nil {
		return nil, fmt.Errorf("function package: %w", err)
	}
	assets := []any{archiveAsset(rootAssetName, root)}

	for _, layer := range src.Layers {
		if layer.Package == nil || layer.Package.Artifact == "" {
			return nil, fmt.Errorf("layer %q has no package artifact", layer.Name)
		}
		data, err := r.readAsset(ctx, layer.Package.Artifact)
		if err != nil {
			return nil, fmt.Errorf("layer %q package: %w", layer.Name, err)
		}
		assets = append(assets, archiveAsset(layerAssetName(layer), data))
	}
	props["assets"] = assets

	return resource.New(src.Key, resource.KindFunctionAsset, props, resource.Migrated()), nil
}

func (r *Registry) readAsset(ctx context.Context, location string) (string, error) {
	if r.reader == nil {
		return "", fmt.Errorf("no artifact reader configured")
	}
	data, err := r.reader.Read(ctx, location)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func archiveAsset(name, encoded string) map[string]any {
	return map[string]any{
		"asset_name":  name,
		"asset_type":  assetTypeArchive,
		"asset_value": encoded,
	}
}

func layerAssetName(layer *ir.Layer) string {
	if layer.Path == "" {
		return "/" + layer.Name
	}
	return strings.Replace(layer.Path, "./", "/", 1)
}

// computeAsset merges provider defaults with function overrides. It returns
// false for runtimes the platform cannot run.
func computeAsset(fn *ir.Function, p ir.ProviderDefaults) (map[string]any, bool) {
	runtime := firstString(fn.Runtime, p.Runtime, DefaultRuntime)
	if !strings.HasPrefix(runtime, "nodejs") {
		return nil, false
	}

	timeout, ok := values.ParseNumber(firstPresent(fn.Timeout, p.Timeout))
	if !ok || timeout == 0 {
		timeout = DefaultTimeoutSeconds
	}

	handler := ""
	if fn.Handler != "" {
		handler = "/" + fn.Handler
	}

	return map[string]any{
		"env_vars":     envVars(p.Environment, fn.Environment, fn.Env),
		"handler":      handler,
		"limits":       map[string]any{"memory": memoryLimit(fn, p)},
		"runtime":      "nodejs",
		"architecture": architecture(firstString(fn.Architecture, p.Architecture)),
		"timeout":      int64(timeout * 1e9),
	}, true
}

// envVars merges environment maps, later maps winning, into sorted KEY=VALUE entries.
func envVars(envs ...map[string]any) []any {
	merged := make(map[string]any)
	for _, env := range envs {
		for k, v := range env {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+values.String(merged[k]))
	}
	return out
}

// memoryLimit renders the memory limit in megabytes, e.g. "256mb".
func memoryLimit(fn *ir.Function, p ir.ProviderDefaults) string {
	if size := firstPresent(fn.MemorySize, p.MemorySize); size != nil {
		if n, ok := values.ParseNumber(size); ok {
			return fmt.Sprintf("%dmb", int64(n))
		}
		if mb, ok := megabytes(values.String(size)); ok {
			return mb
		}
	}

	mem := firstString(fn.Memory, p.Memory)
	if mb, ok := megabytes(mem); ok {
		return mb
	}
	return mem
}

func megabytes(s string) (string, bool) {
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	b, err := units.RAMInBytes(s)
	if err != nil || b <= 0 {
		return "", false
	}
	return fmt.Sprintf("%dmb", b/units.MiB), true
}

func architecture(arch string) string {
	switch lambdatypes.Architecture(strings.ToLower(arch)) {
	case "":
		return ""
	case lambdatypes.ArchitectureX8664, "amd64":
		return "amd64"
	case lambdatypes.ArchitectureArm64:
		return "arm64"
	}
	return strings.ToLower(arch)
}

// sourceFunction returns the function carried by src, converting an
// AWS::Lambda::Function resource declaration when needed.
func sourceFunction(src Source) *ir.Function {
	if src.Function != nil {
		return src.Function
	}
	props := src.Decl.Properties()
	if props == nil {
		return nil
	}

	fn := &ir.Function{
		Handler:     values.String(props["Handler"]),
		Name:        values.String(props["FunctionName"]),
		Description: values.String(props["Description"]),
		Runtime:     values.String(props["Runtime"]),
		MemorySize:  props["MemorySize"],
		Timeout:     props["Timeout"],
	}
	if archs, ok := props["Architectures"].([]any); ok && len(archs) > 0 {
		fn.Architecture = values.String(archs[0])
	}
	if env, ok := props["Environment"].(map[string]any); ok {
		fn.Environment, _ = env["Variables"].(map[string]any)
	}
	if code, ok := props["Code"].(map[string]any); ok {
		bucket, key := values.String(code["S3Bucket"]), values.String(code["S3Key"])
		if bucket != "" && key != "" {
			fn.Package = &ir.Package{Artifact: "s3://" + bucket + "/" + key}
		}
	}
	return fn
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPresent(vals ...any) any {
	for _, v := range vals {
		if !values.IsEmpty(v) {
			return v
		}
	}
	return nil
}
