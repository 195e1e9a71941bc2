package template

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/mapping"
	"github.com/picklr-io/microstrate/internal/resource"
	"github.com/picklr-io/microstrate/internal/values"
	"gopkg.in/yaml.v3"
)

// MigrateOptions tunes Migrate.
type MigrateOptions struct {
	// ProviderName replaces provider.name.
	ProviderName string
	// NotFound is invoked for every entry without a target equivalent.
	NotFound func(key string)
	// Now stamps the backup file name. Defaults to time.Now.
	Now func() time.Time
}

// MigrateResult describes a migrated template.
type MigrateResult struct {
	BackupPath string
	Functions  []*resource.Resource
	Resources  []*resource.Resource
	Dropped    []string
}

// BackupPath returns the backup file name for a template at the given time.
func BackupPath(path string, at time.Time) string {
	return fmt.Sprintf("%s-backup.%d", path, at.UnixMilli())
}

// Migrate backs up the template at path and rewrites it in place with every
// function and resource translated to the target platform.
func Migrate(ctx context.Context, path string, registry *mapping.Registry, opts MigrateOptions) (*MigrateResult, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	// 1. Load the template
	doc, err := Load(ctx, path)
	if err != nil {
		return nil, err
	}

	// 2. Back up the original file
	original, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	result := &MigrateResult{BackupPath: BackupPath(doc.Path, opts.Now())}
	if err := os.WriteFile(result.BackupPath, original, 0644); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}

	notFound := func(key string, _ mapping.Source) {
		result.Dropped = append(result.Dropped, key)
		if opts.NotFound != nil {
			opts.NotFound(key)
		}
	}

	// 3. Rewrite provider and package settings
	raw := values.CloneMap(doc.Raw)
	provider := childMap(raw, "provider")
	provider["name"] = opts.ProviderName
	delete(provider, "versionFunctions")
	if pkg, ok := raw["package"].(map[string]any); ok {
		delete(pkg, "artifactsS3KeyDirname")
	}

	// 4. Translate functions without provider defaults so they are not duplicated
	tpl := doc.Template
	if _, ok := raw["functions"]; ok {
		sources := make([]mapping.Source, 0, len(tpl.Functions))
		for _, key := range sortedFunctionKeys(tpl.Functions) {
			sources = append(sources, mapping.Source{Key: key, Function: tpl.Functions[key]})
		}
		result.Functions, err = registry.MapAll(ctx, ir.ProviderDefaults{}, sources, mapping.Options{
			OverrideType: mapping.TypeLambdaFunction,
			NotFound:     notFound,
		})
		if err != nil {
			return nil, err
		}
		raw["functions"] = payloads(result.Functions)
	}

	// 5. Translate resources with the provider defaults
	if section, ok := raw["resources"].(map[string]any); ok && tpl.Resources != nil {
		if _, ok := section["Resources"]; ok {
			result.Resources, err = registry.MapAll(ctx, tpl.Provider, mapping.FromDecls(tpl.Resources.Resources), mapping.Options{
				NotFound: notFound,
			})
			if err != nil {
				return nil, err
			}
			section["Resources"] = payloads(result.Resources)
		}
	}

	// 6. Write the cleaned template back in place
	out, err := yaml.Marshal(values.CleanEmpty(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to encode template: %w", err)
	}
	if err := os.WriteFile(doc.Path, out, 0644); err != nil {
		return nil, fmt.Errorf("failed to write template: %w", err)
	}

	return result, nil
}

// payloads renders the wire form of resources as template entries.
func payloads(resources []*resource.Resource) map[string]any {
	out := make(map[string]any, len(resources))
	for _, res := range resources {
		for key, p := range res.Deploy() {
			out[key] = map[string]any{
				"type":            p.Type,
				"deletion_policy": p.DeletionPolicy,
				"properties":      p.Properties,
			}
		}
	}
	return out
}

func childMap(m map[string]any, key string) map[string]any {
	if child, ok := m[key].(map[string]any); ok {
		return child
	}
	child := map[string]any{}
	m[key] = child
	return child
}

func sortedFunctionKeys(fns map[string]*ir.Function) []string {
	keys := make([]string, 0, len(fns))
	for k := range fns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
