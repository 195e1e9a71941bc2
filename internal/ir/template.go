package ir

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template represents a loaded service template.
type Template struct {
	Service   string               `yaml:"service" json:"service"`
	Provider  ProviderDefaults     `yaml:"provider" json:"provider"`
	Functions map[string]*Function `yaml:"functions,omitempty" json:"functions,omitempty"`
	Layers    map[string]*Layer    `yaml:"layers,omitempty" json:"layers,omitempty"`
	Resources *ResourceSection     `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// ProviderDefaults holds provider-level settings inherited by every function.
// It is passed by value so mappers cannot mutate the caller's copy of the scalars.
type ProviderDefaults struct {
	Name            string         `yaml:"name" json:"name"`
	Region          string         `yaml:"region,omitempty" json:"region,omitempty"`
	Profile         string         `yaml:"profile,omitempty" json:"profile,omitempty"`
	Runtime         string         `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	Architecture    string         `yaml:"architecture,omitempty" json:"architecture,omitempty"`
	Stage           string         `yaml:"stage,omitempty" json:"stage,omitempty"`
	MemorySize      any            `yaml:"memorySize,omitempty" json:"memorySize,omitempty"`
	Memory          string         `yaml:"memory,omitempty" json:"memory,omitempty"`
	Timeout         any            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Environment     map[string]any `yaml:"environment,omitempty" json:"environment,omitempty"`
	Credentials     map[string]any `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	CollectionTopic string         `yaml:"collectionTopic,omitempty" json:"collectionTopic,omitempty"`
}

// AWSProfile returns the shared config profile used to read s3:// artifacts.
func (p ProviderDefaults) AWSProfile() string {
	if p.Profile != "" {
		return p.Profile
	}
	if profile, ok := p.Credentials["profile"].(string); ok {
		return profile
	}
	return ""
}

// Function is a single function declaration.
type Function struct {
	Handler      string           `yaml:"handler" json:"handler"`
	Name         string           `yaml:"name,omitempty" json:"name,omitempty"`
	Description  string           `yaml:"description,omitempty" json:"description,omitempty"`
	Runtime      string           `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	Architecture string           `yaml:"architecture,omitempty" json:"architecture,omitempty"`
	MemorySize   any              `yaml:"memorySize,omitempty" json:"memorySize,omitempty"`
	Memory       string           `yaml:"memory,omitempty" json:"memory,omitempty"`
	Timeout      any              `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Environment  map[string]any   `yaml:"environment,omitempty" json:"environment,omitempty"`
	Env          map[string]any   `yaml:"env,omitempty" json:"env,omitempty"`
	Events       []Event          `yaml:"events,omitempty" json:"events,omitempty"`
	Gateway      []map[string]any `yaml:"gateway,omitempty" json:"gateway,omitempty"`
	Layers       []any            `yaml:"layers,omitempty" json:"layers,omitempty"`
	Package      *Package         `yaml:"package,omitempty" json:"package,omitempty"`
}

// Artifact returns the function's package artifact location, or "".
func (f *Function) Artifact() string {
	if f == nil || f.Package == nil {
		return ""
	}
	return f.Package.Artifact
}

// Package points at a packaged archive.
type Package struct {
	Artifact string `yaml:"artifact,omitempty" json:"artifact,omitempty"`
}

// Layer is a shared archive attached to functions.
type Layer struct {
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Path    string   `yaml:"path,omitempty" json:"path,omitempty"`
	Package *Package `yaml:"package,omitempty" json:"package,omitempty"`
}

// Event is a function trigger. Only HTTP triggers are translated.
type Event struct {
	HTTP    *Route `yaml:"http,omitempty" json:"http,omitempty"`
	HTTPAPI *Route `yaml:"httpApi,omitempty" json:"httpApi,omitempty"`
}

// Route is an HTTP trigger, written either as "METHOD /path" or as {method, path}.
type Route struct {
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
	// Raw holds the string form when the route was declared as a single string.
	Raw string `yaml:"-" json:"-"`
}

// UnmarshalYAML accepts both the string and the object form.
func (r *Route) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.Raw = value.Value
		return nil
	}

	var obj struct {
		Method string `yaml:"method"`
		Path   string `yaml:"path"`
	}
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("invalid route: %w", err)
	}
	r.Method = obj.Method
	r.Path = obj.Path
	return nil
}

// Resolve returns the route method and path. For the string form both
// tokens must be present, otherwise ok is false.
func (r *Route) Resolve() (method, path string, ok bool) {
	if r == nil {
		return "", "", false
	}
	if r.Raw != "" {
		fields := strings.Fields(r.Raw)
		if len(fields) < 2 {
			return "", "", false
		}
		return fields[0], fields[1], true
	}
	return r.Method, r.Path, r.Method != "" && r.Path != ""
}

// ResourceSection wraps raw resource declarations.
type ResourceSection struct {
	Resources map[string]ResourceDecl `yaml:"Resources,omitempty" json:"Resources,omitempty"`
}

// ResourceDecl is a raw resource declaration in either the
// {Type, Properties, DeletionPolicy} or {type, properties, deletionPolicy} shape.
type ResourceDecl map[string]any

// Type returns the declared type identifier.
func (d ResourceDecl) Type() string {
	return d.str("Type", "type")
}

// DeletionPolicy returns the declared retention hint, lower-cased.
func (d ResourceDecl) DeletionPolicy() string {
	return strings.ToLower(d.str("DeletionPolicy", "deletionPolicy", "deletion_policy"))
}

// Properties returns the declared properties, or nil.
func (d ResourceDecl) Properties() map[string]any {
	for _, k := range []string{"Properties", "properties"} {
		if p, ok := d[k].(map[string]any); ok {
			return p
		}
	}
	return nil
}

func (d ResourceDecl) str(keys ...string) string {
	for _, k := range keys {
		if s, ok := d[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
