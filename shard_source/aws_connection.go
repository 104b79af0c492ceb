package shard_source

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	typehelpers "github.com/turbot/go-kit/types"
)

const defaultBucketRegion = "us-east-1"

type AwsConnection struct {
	Region       *string `json:"region" hcl:"region,optional"`
	AccessKey    *string `json:"access_key" hcl:"access_key,optional"`
	SecretKey    *string `json:"secret_key" hcl:"secret_key,optional"`
	SessionToken *string `json:"session_token" hcl:"session_token,optional"`
	// custom endpoint for S3 compatible storage
	Endpoint     *string `json:"endpoint" hcl:"endpoint,optional"`
	UsePathStyle *bool   `json:"use_path_style" hcl:"use_path_style,optional"`
}

func (c *AwsConnection) Validate() error {
	if (c.AccessKey == nil) != (c.SecretKey == nil) {
		return fmt.Errorf("access_key and secret_key must be set together")
	}
	return nil
}

func (c *AwsConnection) Identifier() string {
	return "aws"
}

func (c *AwsConnection) GetRegion() string {
	if c.Region != nil {
		return *c.Region
	}
	for _, envVar := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if val, exists := os.LookupEnv(envVar); exists {
			return val
		}
	}
	return defaultBucketRegion
}

func (c *AwsConnection) getClient(ctx context.Context) (*s3.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	// add credentials if provided
	if c.AccessKey != nil && c.SecretKey != nil {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(*c.AccessKey, *c.SecretKey, typehelpers.SafeString(c.SessionToken))))
	}
	opts = append(opts, config.WithRegion(c.GetRegion()))

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config, %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != nil {
			o.BaseEndpoint = aws.String(*c.Endpoint)
		}
		if c.UsePathStyle != nil {
			o.UsePathStyle = *c.UsePathStyle
		}
	})
	return client, nil
}
