// Package mapping translates source template declarations into target resources.
package mapping

import (
	"context"
	"fmt"
	"sort"

	"github.com/picklr-io/microstrate/internal/artifact"
	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/resource"
)

// Source identifiers understood by the registry besides the native kinds.
const (
	TypeLambdaFunction      = "AWS::Lambda::Function"
	TypeLambdaFunctionAsset = "AWS::Lambda::Function::Asset"
	TypeLambdaHTTPMapping   = "AWS::Lambda::Http::Mapping"
	TypeDynamoDBTable       = "AWS::DynamoDB::Table"
	TypeS3Bucket            = "AWS::S3::Bucket"
	TypeKinesisStream       = "AWS::Kinesis::Stream"
	TypeHTTPAPI             = "AWS::ApiGatewayV2::Api"
	TypeRestAPI             = "AWS::ApiGateway::RestApi"
)

// Source is one declaration handed to a mapping function.
// Generic resources carry Decl; function-derived declarations carry Function
// and, for assets and HTTP mappings, the resolved layers, event or gateway.
type Source struct {
	Key      string
	Type     string
	Decl     ir.ResourceDecl
	Function *ir.Function
	Layers   []*ir.Layer
	Event    *ir.Event
	Gateway  map[string]any
}

// FromDecls turns raw resource declarations into sources ordered by key.
func FromDecls(decls map[string]ir.ResourceDecl) []Source {
	keys := make([]string, 0, len(decls))
	for k := range decls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Source, 0, len(keys))
	for _, k := range keys {
		out = append(out, Source{Key: k, Type: decls[k].Type(), Decl: decls[k]})
	}
	return out
}

// MappingFunc builds a target resource. A nil resource with a nil error
// means the declaration is not supported and is dropped.
type MappingFunc func(ctx context.Context, src Source, p ir.ProviderDefaults) (*resource.Resource, error)

// Options tunes MapAll.
type Options struct {
	// OverrideType maps every source as this type identifier.
	OverrideType string
	// NotFound is invoked once for every dropped source.
	NotFound func(key string, src Source)
}

// Registry dispatches source type identifiers to mapping functions.
type Registry struct {
	reader   artifact.Reader
	mappings map[string]MappingFunc
}

// NewRegistry creates a registry with every AWS and native mapping registered.
func NewRegistry(reader artifact.Reader) *Registry {
	r := &Registry{
		reader:   reader,
		mappings: make(map[string]MappingFunc),
	}

	r.mappings[TypeLambdaFunction] = r.mapFunction
	r.mappings[TypeLambdaFunctionAsset] = r.mapFunctionAsset
	r.mappings[TypeLambdaHTTPMapping] = mapHTTPMapping
	r.mappings[TypeDynamoDBTable] = mapDynamoDBTable
	r.mappings[TypeS3Bucket] = mapS3Bucket
	r.mappings[TypeKinesisStream] = mapKinesisStream
	r.mappings[TypeHTTPAPI] = mapAPIGateway
	r.mappings[TypeRestAPI] = mapAPIGateway

	for _, k := range resource.Kinds() {
		r.mappings[string(k)] = nativeMapping(k)
	}

	return r
}

// Lookup returns the mapping function for a type identifier.
func (r *Registry) Lookup(typeID string) (MappingFunc, bool) {
	fn, ok := r.mappings[typeID]
	return fn, ok
}

// Map translates a single source. It returns nil when the source is unsupported.
func (r *Registry) Map(ctx context.Context, p ir.ProviderDefaults, src Source, overrideType string) (*resource.Resource, error) {
	typeID := src.Type
	if overrideType != "" {
		typeID = overrideType
	}

	fn, ok := r.Lookup(typeID)
	if !ok {
		return nil, nil
	}

	res, err := fn(ctx, src, p)
	if err != nil {
		return nil, fmt.Errorf("failed to map resource %s: %w", src.Key, err)
	}
	return res, nil
}

// MapAll translates every source in order. Unsupported sources are reported
// through Options.NotFound and left out of the result.
func (r *Registry) MapAll(ctx context.Context, p ir.ProviderDefaults, sources []Source, opts Options) ([]*resource.Resource, error) {
	out := make([]*resource.Resource, 0, len(sources))
	for _, src := range sources {
		res, err := r.Map(ctx, p, src, opts.OverrideType)
		if err != nil {
			return nil, err
		}
		if res == nil {
			if opts.NotFound != nil {
				opts.NotFound(src.Key, src)
			}
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func nativeMapping(kind resource.Kind) MappingFunc {
	return func(_ context.Context, src Source, _ ir.ProviderDefaults) (*resource.Resource, error) {
		return resource.New(src.Key, kind, src.Decl.Properties(),
			resource.WithDeletionPolicy(src.Decl.DeletionPolicy())), nil
	}
}
