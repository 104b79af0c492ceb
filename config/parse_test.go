package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbot/shardpipe/constants"
	"github.com/turbot/shardpipe/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shardpipe.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Setenv("SHARDPIPE_TEST_BUCKET", "my-bucket")
	path := writeConfig(t, `
ingest {
  download_path   = "/data/detection"
  resize_max_side = 1024
  compression     = "gzip"
}

pipeline {
  run_mode            = "train"
  files               = "s3://${env.SHARDPIPE_TEST_BUCKET}/shards/train-*-of-*.rec"
  batch_size          = 64
  shuffle_buffer_size = 1024
  replica_count       = 8
  multi_host          = true
  read_rate           = 50
  read_burst          = 5
}

pipeline {
  run_mode      = "val"
  files         = "/shards/val-*-of-*.rec"
  replica_count = 8
}

connections {
  aws {
    region = "us-west-2"
  }
}
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Ingest)
	assert.Equal(t, "/data/detection", cfg.Ingest.DownloadPath)
	assert.Equal(t, 1024, cfg.Ingest.ResizeMaxSide)
	assert.Equal(t, constants.CompressionGzip, cfg.Ingest.Compression)
	// defaults are applied to unset fields
	assert.Equal(t, constants.DefaultTrainShards, cfg.Ingest.NumShards)
	assert.Equal(t, constants.DefaultValShards, cfg.Ingest.ValShards)
	assert.Equal(t, "./shards", cfg.Ingest.OutputDir)

	train := cfg.Pipeline(constants.RunModeTrain)
	require.NotNil(t, train)
	assert.Equal(t, "s3://my-bucket/shards/train-*-of-*.rec", train.Files)
	assert.Equal(t, 64, train.BatchSize)
	assert.True(t, train.IsMultiHost)
	assert.Equal(t, 50.0, train.ReadRate)
	assert.Equal(t, 5, train.ReadBurst)

	val := cfg.Pipeline(constants.RunModeVal)
	require.NotNil(t, val)
	assert.Equal(t, 8, val.ReplicaCount)
	source, err := val.NewShardSource(context.Background(), cfg.Connections)
	require.NoError(t, err)
	assert.Equal(t, "/shards/val-*-of-*.rec", source.Pattern())

	require.NotNil(t, cfg.Connections)
	require.NotNil(t, cfg.Connections.Aws)
	assert.Equal(t, "us-west-2", cfg.Connections.Aws.GetRegion())
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "syntax error", content: `ingest {`},
		{name: "unknown attribute", content: `ingest { colour = "blue" }`},
		{name: "missing download path", content: `ingest { num_shards = 4 }`},
		{name: "bad compression", content: `ingest {
  download_path = "/data"
  compression   = "zstd"
}`},
		{name: "unsupported run mode", content: `pipeline {
  run_mode      = "test"
  files         = "/shards/*"
  replica_count = 1
}`, wantErr: pipeline.ErrUnsupportedRunMode},
		{name: "duplicate run mode", content: `pipeline {
  run_mode      = "val"
  files         = "/shards/*"
  replica_count = 1
}
pipeline {
  run_mode      = "val"
  files         = "/other/*"
  replica_count = 1
}`},
		{name: "aws key without secret", content: `connections {
  aws {
    access_key = "AKIA"
  }
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.hcl"))
		assert.Error(t, err)
	})
}

func TestIngestConfig_ShardCount(t *testing.T) {
	c := NewIngestConfig()
	assert.Equal(t, constants.DefaultTrainShards, c.ShardCount(constants.RunModeTrain))
	assert.Equal(t, constants.DefaultValShards, c.ShardCount(constants.RunModeVal))
}
