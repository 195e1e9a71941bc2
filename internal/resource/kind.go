package resource

import "strings"

// Kind is a target platform resource type tag.
type Kind string

const (
	KindFunction              Kind = "MicroStrate::Compute::Function"
	KindFunctionAsset         Kind = "MicroStrate::Compute::FunctionAsset"
	KindKVBucket              Kind = "MicroStrate::KV::Bucket"
	KindObjectStoreBucket     Kind = "MicroStrate::ObjectStore::Bucket"
	KindStream                Kind = "MicroStrate::Stream"
	KindGateway               Kind = "MicroStrate::Gateway"
	KindGatewayMapping        Kind = "MicroStrate::Gateway::Mapping"
	KindGatewayMappingVersion Kind = "MicroStrate::Gateway::MappingVersion"
	KindCollection            Kind = "MicroStrate::Compute::Collection"
)

// kindSpec describes how properties of a kind are projected onto the wire.
type kindSpec struct {
	// numbers and booleans are dotted property paths coerced at deploy time.
	// A "*" segment matches every key of a map.
	numbers  []string
	booleans []string
	// internal lists top-level properties that never leave the process.
	internal   []string
	validators []Validator
}

var kinds = map[Kind]*kindSpec{
	KindFunction: {
		numbers:    []string{"compute_asset.timeout"},
		internal:   []string{"name", "package"},
		validators: []Validator{requireFields("compute_asset.handler")},
	},
	KindFunctionAsset: {
		numbers:  []string{"timeout"},
		internal: []string{"package"},
	},
	KindKVBucket: {},
	KindObjectStoreBucket: {
		booleans: []string{"versioned"},
	},
	KindStream: {
		numbers: []string{"shards", "retention_hours"},
	},
	KindGateway: {
		booleans: []string{"active"},
	},
	KindGatewayMapping: {
		numbers:    []string{"trafficDistribution.*"},
		validators: []Validator{requireFields("path", "method")},
	},
	KindGatewayMappingVersion: {
		booleans: []string{"active"},
	},
	KindCollection: {},
}

// Kinds returns every supported kind.
func Kinds() []Kind {
	return []Kind{
		KindFunction,
		KindFunctionAsset,
		KindKVBucket,
		KindObjectStoreBucket,
		KindStream,
		KindGateway,
		KindGatewayMapping,
		KindGatewayMappingVersion,
		KindCollection,
	}
}

// ParseKind resolves a type tag into a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.TrimSpace(s))
	_, ok := kinds[k]
	return k, ok
}

// Valid reports whether k belongs to the supported set.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}
