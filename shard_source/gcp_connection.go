package shard_source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

const (
	envGcpQuotaProject = "GOOGLE_CLOUD_QUOTA_PROJECT"
	// shard sources only ever read objects
	gcsReadOnlyScope = "https://www.googleapis.com/auth/devstorage.read_only"
)

// GcpConnection configures access to GCS buckets holding shard files
// Unset fields fall back to application default credentials
type GcpConnection struct {
	Project *string `json:"project" hcl:"project,optional"`
	// a credentials file path, or the credentials JSON itself
	Credentials  *string `json:"credentials" hcl:"credentials,optional"`
	QuotaProject *string `json:"quota_project" hcl:"quota_project,optional"`
	// service account to impersonate when reading shards
	Impersonate *string `json:"impersonate" hcl:"impersonate,optional"`
}

func (c *GcpConnection) Validate() error {
	if c.Impersonate != nil && *c.Impersonate == "" {
		return fmt.Errorf("impersonate must not be empty")
	}
	return nil
}

func (c *GcpConnection) Identifier() string {
	return "gcp"
}

// GetClientOptions returns the storage client options for the connection
func (c *GcpConnection) GetClientOptions(ctx context.Context) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	if c.Credentials != nil {
		credentials, err := pathOrContents(*c.Credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to read gcp credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(credentials)))
	}

	if qp := c.quotaProject(); qp != "" {
		opts = append(opts, option.WithQuotaProject(qp))
	}

	if c.Impersonate != nil {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: *c.Impersonate,
			Scopes:          []string{gcsReadOnlyScope},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to impersonate %s: %w", *c.Impersonate, err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	return opts, nil
}

// quotaProject is the configured quota project, or GOOGLE_CLOUD_QUOTA_PROJECT if none is set
func (c *GcpConnection) quotaProject() string {
	if c.QuotaProject != nil {
		return *c.QuotaProject
	}
	return os.Getenv(envGcpQuotaProject)
}

// pathOrContents returns the contents of the file at in if it exists, otherwise in itself
// an absolute path which does not exist is an error rather than inline contents
func pathOrContents(in string) (string, error) {
	if in == "" {
		return "", nil
	}
	path, err := homedir.Expand(in)
	if err != nil {
		return "", err
	}
	if contents, err := os.ReadFile(path); err == nil {
		return string(contents), nil
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("credentials file %s does not exist", path)
	}
	return in, nil
}
