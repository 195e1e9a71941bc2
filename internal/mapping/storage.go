package mapping

import (
	"context"
	"strings"

	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/resource"
	"github.com/picklr-io/microstrate/internal/values"
)

const (
	fieldTypeText   = "text"
	fieldTypeNumber = "number"
)

func mapDynamoDBTable(_ context.Context, src Source, _ ir.ProviderDefaults) (*resource.Resource, error) {
	props := src.Decl.Properties()

	attrTypes := make(map[string]string)
	for _, item := range listOf(props["AttributeDefinitions"]) {
		attrTypes[values.String(item["AttributeName"])] = values.String(item["AttributeType"])
	}

	// the key schema and every GSI key schema all become indexes
	schemas := listOf(props["KeySchema"])
	for _, gsi := range listOf(props["GlobalSecondaryIndexes"]) {
		schemas = append(schemas, listOf(gsi["KeySchema"])...)
	}

	seen := make(map[string]bool)
	mappings := make([]any, 0, len(schemas))
	for _, ks := range schemas {
		field := values.String(ks["AttributeName"])
		if field == "" || seen[field] {
			continue
		}
		seen[field] = true
		mappings = append(mappings, map[string]any{
			"field":     field,
			"fieldType": fieldType(attrTypes[field]),
		})
	}

	return resource.New(src.Key, resource.KindKVBucket, map[string]any{
		"bucket":      props["TableName"],
		"description": props["Description"],
		"metadata":    tags(props["Tags"]),
		"indexing":    map[string]any{"mappings": mappings},
	}, resource.WithDeletionPolicy(src.Decl.DeletionPolicy()), resource.Migrated()), nil
}

func fieldType(attrType string) string {
	switch dbtypes.ScalarAttributeType(strings.ToUpper(attrType)) {
	case dbtypes.ScalarAttributeTypeN:
		return fieldTypeNumber
	case dbtypes.ScalarAttributeTypeS:
		return fieldTypeText
	}
	return fieldTypeText
}

func mapS3Bucket(_ context.Context, src Source, _ ir.ProviderDefaults) (*resource.Resource, error) {
	props := src.Decl.Properties()

	out := map[string]any{
		"bucket":      props["BucketName"],
		"description": props["Description"],
		"metadata":    tags(props["Tags"]),
	}
	if vc, ok := props["VersioningConfiguration"].(map[string]any); ok {
		out["versioned"] = values.String(vc["Status"]) == string(s3types.BucketVersioningStatusEnabled)
	}

	return resource.New(src.Key, resource.KindObjectStoreBucket, out,
		resource.WithDeletionPolicy(src.Decl.DeletionPolicy()), resource.Migrated()), nil
}

func mapKinesisStream(_ context.Context, src Source, _ ir.ProviderDefaults) (*resource.Resource, error) {
	props := src.Decl.Properties()

	out := map[string]any{
		"name":            props["Name"],
		"shards":          props["ShardCount"],
		"retention_hours": props["RetentionPeriodHours"],
		"metadata":        tags(props["Tags"]),
	}
	// on-demand streams scale their own shards
	if mode, ok := props["StreamModeDetails"].(map[string]any); ok &&
		kinesistypes.StreamMode(strings.ToUpper(values.String(mode["StreamMode"]))) == kinesistypes.StreamModeOnDemand {
		delete(out, "shards")
	}

	return resource.New(src.Key, resource.KindStream, out,
		resource.WithDeletionPolicy(src.Decl.DeletionPolicy()), resource.Migrated()), nil
}

// tags flattens [{Key, Value}] lists into a map.
func tags(val any) map[string]any {
	out := make(map[string]any)
	switch v := val.(type) {
	case []any:
		for _, item := range v {
			if tag, ok := item.(map[string]any); ok {
				out[values.String(tag["Key"])] = tag["Value"]
			}
		}
	case map[string]any:
		for k, item := range v {
			out[k] = item
		}
	}
	return out
}

func listOf(val any) []map[string]any {
	items, ok := val.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
