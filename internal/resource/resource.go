// Package resource models resources of the target platform.
package resource

import (
	"fmt"
	"strings"

	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/values"
	"gopkg.in/yaml.v3"
)

// Resource is an immutable target platform resource.
type Resource struct {
	key            string
	kind           Kind
	deletionPolicy string
	properties     map[string]any
	migrated       bool
}

// Option customizes a Resource at construction time.
type Option func(*Resource)

// WithDeletionPolicy sets the retention hint.
func WithDeletionPolicy(policy string) Option {
	return func(r *Resource) {
		r.deletionPolicy = strings.ToLower(policy)
	}
}

// Migrated marks a resource translated from a foreign declaration.
func Migrated() Option {
	return func(r *Resource) {
		r.migrated = true
	}
}

// New builds a resource. The properties are deep-copied.
func New(key string, kind Kind, props map[string]any, opts ...Option) *Resource {
	r := &Resource{
		key:        key,
		kind:       kind,
		properties: values.CloneMap(props),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the resource key.
func (r *Resource) Key() string { return r.key }

// Type returns the resource kind.
func (r *Resource) Type() Kind { return r.kind }

// DeletionPolicy returns the retention hint, possibly empty.
func (r *Resource) DeletionPolicy() string { return r.deletionPolicy }

// IsMigrated reports whether the resource was translated from a foreign declaration.
func (r *Resource) IsMigrated() bool { return r.migrated }

// Properties returns a copy of the resource properties.
func (r *Resource) Properties() map[string]any {
	return values.CloneMap(r.properties)
}

// Validate returns validation failures, empty when the resource is valid.
func (r *Resource) Validate() []string {
	if !r.kind.Valid() {
		return []string{fmt.Sprintf("unsupported resource type %q", r.kind)}
	}

	var msgs []string
	for _, v := range validatorsFor(r.kind) {
		msgs = append(msgs, v(r.Properties())...)
	}
	return msgs
}

// Declaration returns the cleaned template form of the resource.
func (r *Resource) Declaration() map[string]any {
	decl := map[string]any{
		"type":           string(r.kind),
		"deletionPolicy": r.deletionPolicy,
		"properties":     r.Properties(),
	}
	return values.CleanEmpty(decl).(map[string]any)
}

// Template renders the resource as YAML, with empty fields stripped.
func (r *Resource) Template() string {
	out, err := yaml.Marshal(map[string]any{r.key: r.Declaration()})
	if err != nil {
		return fmt.Sprintf("%s: %v\n", r.key, r.Declaration())
	}
	return string(out)
}

// Deploy returns the wire payload keyed by resource key.
// Every call builds a fresh payload.
func (r *Resource) Deploy() map[string]ir.ResourcePayload {
	props := r.Properties()

	if spec, ok := kinds[r.kind]; ok {
		for _, field := range spec.internal {
			delete(props, field)
		}
		for _, p := range spec.numbers {
			apply(props, strings.Split(p, "."), values.Number)
		}
		for _, p := range spec.booleans {
			apply(props, strings.Split(p, "."), values.Boolean)
		}
	}

	return map[string]ir.ResourcePayload{
		r.key: {
			Type:           string(r.kind),
			DeletionPolicy: r.deletionPolicy,
			Properties:     props,
		},
	}
}

// apply rewrites the value at path in place.
func apply(m map[string]any, path []string, fn func(any) any) {
	if len(path) == 0 || m == nil {
		return
	}

	seg, rest := path[0], path[1:]
	keys := []string{seg}
	if seg == "*" {
		keys = keys[:0]
		for k := range m {
			keys = append(keys, k)
		}
	}

	for _, k := range keys {
		val, ok := m[k]
		if !ok || val == nil {
			continue
		}
		if len(rest) == 0 {
			m[k] = fn(val)
			continue
		}
		if child, ok := val.(map[string]any); ok {
			apply(child, rest, fn)
		}
	}
}
