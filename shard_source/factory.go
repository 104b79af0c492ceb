package shard_source

import (
	"context"
	"fmt"
	"strings"
)

const (
	s3Scheme   = "s3://"
	gcsScheme  = "gs://"
	fileScheme = "file://"
)

// Connections holds optional cloud connection config used when a location refers to a bucket
type Connections struct {
	Aws *AwsConnection `hcl:"aws,block"`
	Gcp *GcpConnection `hcl:"gcp,block"`
}

// NewShardSource creates the source for a location:
//   - s3://bucket/prefix/pattern
//   - gs://bucket/prefix/pattern
//   - a local glob pattern, optionally prefixed with file://
func NewShardSource(ctx context.Context, location string, connections *Connections) (ShardSource, error) {
	if location == "" {
		return nil, fmt.Errorf("shard location is required")
	}
	if connections == nil {
		connections = &Connections{}
	}

	switch {
	case strings.HasPrefix(location, s3Scheme):
		bucket, pattern := parseBucketUrl(location, s3Scheme)
		return NewAwsS3BucketSource(ctx, bucket, pattern, connections.Aws)
	case strings.HasPrefix(location, gcsScheme):
		bucket, pattern := parseBucketUrl(location, gcsScheme)
		return NewGcpStorageBucketSource(ctx, bucket, pattern, connections.Gcp)
	default:
		return NewFileSystemSource(strings.TrimPrefix(location, fileScheme))
	}
}
