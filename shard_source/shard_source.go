package shard_source

import (
	"context"
	"io"
	"strings"
)

// ShardSource is a storage location holding the shard files of a split
//
// Sources provided by the SDK: [FileSystemSource], [AwsS3BucketSource], [GcpStorageBucketSource]
type ShardSource interface {
	Identifier() string
	// Pattern returns the glob pattern the source was created with
	Pattern() string
	// List returns the names of all files matching the pattern - order is not significant
	List(ctx context.Context) ([]string, error)
	// Open opens a named file returned by List
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Close() error
}

// splitPattern splits an object key pattern into the longest literal prefix which can be used to
// narrow an object listing, and the full pattern which every key must match
func splitPattern(pattern string) string {
	idx := strings.IndexAny(pattern, "*?[\\")
	if idx < 0 {
		return pattern
	}
	return pattern[:idx]
}

// parseBucketUrl splits e.g. s3://bucket/path/train-* into bucket and key pattern
func parseBucketUrl(url, scheme string) (bucket, pattern string) {
	rest := strings.TrimPrefix(url, scheme)
	bucket, pattern, _ = strings.Cut(rest, "/")
	return bucket, pattern
}
