package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/turbot/shardpipe/constants"
)

// IngestConfig configures the conversion of a raw dataset into shard files
type IngestConfig struct {
	// path of the dataset manifest, or the directory containing manifest.json
	DownloadPath string `hcl:"download_path,optional"`
	OutputDir    string `hcl:"output_dir,optional"`
	NumShards    int    `hcl:"num_shards,optional"`
	ValShards    int    `hcl:"val_shards,optional"`

	ResizeMaxSide  int  `hcl:"resize_max_side,optional"`
	CheckBadImages bool `hcl:"check_bad_images,optional"`
	RescaleBoxes   bool `hcl:"rescale_boxes,optional"`
	JPEGQuality    int  `hcl:"jpeg_quality,optional"`

	OnlyVal               bool `hcl:"only_val,optional"`
	SkipAmbiguous         bool `hcl:"skip_ambiguous,optional"`
	DiscardClasses        bool `hcl:"discard_classes,optional"`
	OnlyDumpParsedDataset bool `hcl:"only_dump_parsed_dataset,optional"`

	// none or gzip
	Compression string `hcl:"compression,optional"`
}

// NewIngestConfig returns an IngestConfig populated with defaults
func NewIngestConfig() *IngestConfig {
	return &IngestConfig{
		OutputDir:   "./shards",
		NumShards:   constants.DefaultTrainShards,
		ValShards:   constants.DefaultValShards,
		JPEGQuality: 95,
		Compression: constants.CompressionNone,
	}
}

// SetDefaults fills unset fields with their default values
func (c *IngestConfig) SetDefaults() {
	defaults := NewIngestConfig()
	if c.OutputDir == "" {
		c.OutputDir = defaults.OutputDir
	}
	if c.NumShards == 0 {
		c.NumShards = defaults.NumShards
	}
	if c.ValShards == 0 {
		c.ValShards = defaults.ValShards
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = defaults.JPEGQuality
	}
	if c.Compression == "" {
		c.Compression = defaults.Compression
	}
}

func (c *IngestConfig) Validate() error {
	var errs []error
	if c.DownloadPath == "" {
		errs = append(errs, errors.New("download_path is required"))
	}
	if c.NumShards <= 0 || c.ValShards <= 0 {
		errs = append(errs, fmt.Errorf("num_shards and val_shards must be positive, got %d and %d", c.NumShards, c.ValShards))
	}
	if c.ResizeMaxSide < 0 {
		errs = append(errs, fmt.Errorf("resize_max_side must not be negative, got %d", c.ResizeMaxSide))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality))
	}
	if !slices.Contains([]string{constants.CompressionNone, constants.CompressionGzip}, c.Compression) {
		errs = append(errs, fmt.Errorf("unsupported compression '%s'", c.Compression))
	}
	return errors.Join(errs...)
}

func (c *IngestConfig) Identifier() string {
	return "ingest"
}

// ShardCount returns the number of shards to write for a split
func (c *IngestConfig) ShardCount(split string) int {
	if split == constants.RunModeVal {
		return c.ValShards
	}
	return c.NumShards
}
