package shard_source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

const GcpStorageBucketSourceIdentifier = "gcp_storage_bucket"

// GcpStorageBucketSource is a [ShardSource] implementation that reads shard files from a GCP Storage bucket
type GcpStorageBucketSource struct {
	Bucket     string
	KeyPattern string

	client *storage.Client
}

func NewGcpStorageBucketSource(ctx context.Context, bucket, keyPattern string, connection *GcpConnection) (*GcpStorageBucketSource, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if _, err := path.Match(keyPattern, ""); err != nil {
		return nil, fmt.Errorf("invalid object pattern %s: %w", keyPattern, err)
	}
	if connection == nil {
		connection = &GcpConnection{}
	}

	opts, err := connection.GetClientOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed setting GCP Storage client config: %w", err)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Storage client: %w", err)
	}

	slog.Info("Initialized GcpStorageBucketSource", "bucket", bucket, "pattern", keyPattern)
	return &GcpStorageBucketSource{
		Bucket:     bucket,
		KeyPattern: keyPattern,
		client:     client,
	}, nil
}

func (s *GcpStorageBucketSource) Identifier() string {
	return GcpStorageBucketSourceIdentifier
}

func (s *GcpStorageBucketSource) Pattern() string {
	return gcsScheme + s.Bucket + "/" + s.KeyPattern
}

func (s *GcpStorageBucketSource) List(ctx context.Context) ([]string, error) {
	query := &storage.Query{Prefix: splitPattern(s.KeyPattern)}
	// we only need the names
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}

	var res []string
	objectIterator := s.client.Bucket(s.Bucket).Objects(ctx, query)
	for {
		obj, err := objectIterator.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s: %w", s.Bucket, err)
		}
		if ok, _ := path.Match(s.KeyPattern, obj.Name); ok {
			res = append(res, obj.Name)
		}
	}
	return res, nil
}

func (s *GcpStorageBucketSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.Bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", s.Bucket, name, err)
	}
	return reader, nil
}

func (s *GcpStorageBucketSource) Close() error {
	return s.client.Close()
}
