package shard_source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const AwsS3BucketSourceIdentifier = "aws_s3_bucket"

// AwsS3BucketSource is a [ShardSource] implementation that reads shard files from an S3 bucket
type AwsS3BucketSource struct {
	Bucket string
	// key pattern, e.g. tfrecords/train-*-of-*.rec
	KeyPattern string

	client *s3.Client
}

func NewAwsS3BucketSource(ctx context.Context, bucket, keyPattern string, connection *AwsConnection) (*AwsS3BucketSource, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if _, err := path.Match(keyPattern, ""); err != nil {
		return nil, fmt.Errorf("invalid key pattern %s: %w", keyPattern, err)
	}
	if connection == nil {
		connection = &AwsConnection{}
	}

	client, err := connection.getClient(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("Initialized AwsS3BucketSource", "bucket", bucket, "pattern", keyPattern, "region", connection.GetRegion())
	return &AwsS3BucketSource{
		Bucket:     bucket,
		KeyPattern: keyPattern,
		client:     client,
	}, nil
}

func (s *AwsS3BucketSource) Identifier() string {
	return AwsS3BucketSourceIdentifier
}

func (s *AwsS3BucketSource) Pattern() string {
	return s3Scheme + s.Bucket + "/" + s.KeyPattern
}

func (s *AwsS3BucketSource) List(ctx context.Context) ([]string, error) {
	prefix := splitPattern(s.KeyPattern)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.Bucket,
		Prefix: &prefix,
	})

	var res []string
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get page of S3 objects, %w", err)
		}
		for _, object := range output.Contents {
			key := *object.Key
			if ok, _ := path.Match(s.KeyPattern, key); ok {
				res = append(res, key)
			}
		}
	}
	return res, nil
}

func (s *AwsS3BucketSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	getObjectOutput, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.Bucket,
		Key:    &name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open s3://%s/%s, %w", s.Bucket, name, err)
	}
	return getObjectOutput.Body, nil
}

func (s *AwsS3BucketSource) Close() error {
	return nil
}
