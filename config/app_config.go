package config

import (
	"errors"
	"fmt"

	"github.com/turbot/shardpipe/pipeline"
	"github.com/turbot/shardpipe/shard_source"
	"github.com/turbot/shardpipe/types"
)

// AppConfig is the root of a shardpipe config file
//
//	ingest {
//	  download_path = "~/datasets/detection"
//	  resize_max_side = 1024
//	}
//
//	pipeline {
//	  run_mode      = "train"
//	  files         = "s3://my-bucket/shards/train-*-of-*.rec"
//	  batch_size    = 64
//	  replica_count = 8
//	}
//
//	connections {
//	  aws {
//	    region = "us-west-2"
//	  }
//	}
type AppConfig struct {
	Ingest      *IngestConfig             `hcl:"ingest,block"`
	Pipelines   []*pipeline.Config        `hcl:"pipeline,block"`
	Connections *shard_source.Connections `hcl:"connections,block"`
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.Ingest != nil {
		if err := c.Ingest.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Ingest.Identifier(), err))
		}
	}
	seen := make(map[types.RunMode]struct{})
	for _, p := range c.Pipelines {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Identifier(), err))
			continue
		}
		if _, ok := seen[p.RunMode]; ok {
			errs = append(errs, fmt.Errorf("duplicate pipeline for run mode '%s'", p.RunMode))
		}
		seen[p.RunMode] = struct{}{}
	}
	if c.Connections != nil {
		if aws := c.Connections.Aws; aws != nil {
			if err := aws.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", aws.Identifier(), err))
			}
		}
		if gcp := c.Connections.Gcp; gcp != nil {
			if err := gcp.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", gcp.Identifier(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *AppConfig) Identifier() string {
	return "shardpipe"
}

// Pipeline returns the pipeline config for a run mode, or nil if there is none
func (c *AppConfig) Pipeline(mode types.RunMode) *pipeline.Config {
	for _, p := range c.Pipelines {
		if p.RunMode == mode {
			return p
		}
	}
	return nil
}
