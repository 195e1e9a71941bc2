// Package artifact reads packaged function archives from disk or S3.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Reader loads the bytes of an artifact location.
type Reader interface {
	Read(ctx context.Context, location string) ([]byte, error)
}

// ObjectGetter is the subset of the S3 client used to fetch artifacts.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store reads local paths and s3://bucket/key locations.
type Store struct {
	baseDir string
	region  string
	profile string

	once     sync.Once
	s3Client ObjectGetter
	initErr  error
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithRegion sets the AWS region used for s3:// artifacts.
func WithRegion(region string) StoreOption {
	return func(s *Store) { s.region = region }
}

// WithProfile sets the shared AWS config profile used for s3:// artifacts.
func WithProfile(profile string) StoreOption {
	return func(s *Store) { s.profile = profile }
}

// WithS3Client injects the S3 client instead of loading the default AWS config.
func WithS3Client(client ObjectGetter) StoreOption {
	return func(s *Store) { s.s3Client = client }
}

// NewStore creates a Store resolving relative paths against baseDir.
func NewStore(baseDir string, opts ...StoreOption) *Store {
	s := &Store{baseDir: baseDir}
	for _, opt := range opts {
		opt(s)
	}
	if s.region == "" {
		s.region = "us-east-1"
	}
	return s
}

// Read returns the artifact content.
func (s *Store) Read(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		return nil, fmt.Errorf("empty artifact location: %w", ErrNotFound)
	}

	if bucket, key, ok := ParseS3URL(location); ok {
		return s.readS3(ctx, bucket, key)
	}

	path := location
	if !filepath.IsAbs(path) && s.baseDir != "" {
		path = filepath.Join(s.baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", location, err)
	}
	return data, nil
}

func (s *Store) client(ctx context.Context) (ObjectGetter, error) {
	s.once.Do(func() {
		if s.s3Client != nil {
			return
		}

		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.region)}
		if s.profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(s.profile))
		}

		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.initErr = fmt.Errorf("unable to load AWS config: %w", err)
			return
		}
		s.s3Client = s3.NewFromConfig(cfg)
	})
	return s.s3Client, s.initErr
}

func (s *Store) readS3(ctx context.Context, bucket, key string) ([]byte, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket" {
			return nil, fmt.Errorf("s3://%s/%s: bucket does not exist: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read artifact from s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseS3URL splits an s3://bucket/key location.
func ParseS3URL(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
