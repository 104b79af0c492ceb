package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/turbot/pipe-fittings/cmdconfig"
	"github.com/turbot/pipe-fittings/utils"

	"github.com/turbot/shardpipe/config"
	"github.com/turbot/shardpipe/context_values"
	"github.com/turbot/shardpipe/dataset"
	"github.com/turbot/shardpipe/ingest"
	"github.com/turbot/shardpipe/shard"
	"github.com/turbot/shardpipe/types"
)

const (
	flagDownloadPath          = "download-path"
	flagNumShards             = "num-shards"
	flagValShards             = "val-shards"
	flagOutputDir             = "output-dir"
	flagResizeMaxSide         = "resize-max-side"
	flagCheckBadImages        = "check-bad-images"
	flagOnlyVal               = "only-val"
	flagSkipAmbiguous         = "skip-ambiguous"
	flagDiscardClasses        = "discard-classes"
	flagOnlyDumpParsedDataset = "only-dump-parsed-dataset"
	flagRescaleBoxes          = "rescale-boxes"
	flagCompression           = "compression"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ingest [flags]",
		Short:        "Parse a dataset manifest and write train and val shard files",
		RunE:         runIngestCmd,
		SilenceUsage: true,
	}

	defaults := config.NewIngestConfig()
	cmdconfig.OnCmd(cmd).
		AddStringFlag(flagConfig, "", "Path of an HCL config file with an ingest block").
		AddStringFlag(flagDownloadPath, "", "Path of the dataset manifest, or the directory containing manifest.json").
		AddIntFlag(flagNumShards, defaults.NumShards, "Number of train shard files to write").
		AddIntFlag(flagValShards, defaults.ValShards, "Number of val shard files to write").
		AddStringFlag(flagOutputDir, defaults.OutputDir, "Directory to write shard files to").
		AddIntFlag(flagResizeMaxSide, 0, "Resize images so their longest side is at most this value, 0 to disable").
		AddBoolFlag(flagCheckBadImages, false, "Decode every image and skip those which are corrupt").
		AddBoolFlag(flagOnlyVal, false, "Only write shards for the val split").
		AddBoolFlag(flagSkipAmbiguous, false, "Skip objects marked as ambiguous").
		AddBoolFlag(flagDiscardClasses, false, "Ignore classes, assign every object class 1").
		AddBoolFlag(flagOnlyDumpParsedDataset, false, "Dump the parsed dataset without writing shards").
		AddBoolFlag(flagRescaleBoxes, false, "Rescale box coordinates when images are resized").
		AddStringFlag(flagCompression, defaults.Compression, "Shard file compression: none or gzip").
		AddStringFlag(flagMetricsFile, "", "Write ingestion metrics in the prometheus text format to this file")

	return cmd
}

func runIngestCmd(cmd *cobra.Command, _ []string) error {
	ctx, runId := context_values.EnsureRunId(cmd.Context())

	cfg, err := ingestConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid ingest config: %w", err)
	}

	parser, err := dataset.NewManifestParser(cfg.DownloadPath,
		dataset.WithSkipAmbiguous(cfg.SkipAmbiguous),
		dataset.WithDiscardClasses(cfg.DiscardClasses),
		dataset.WithOnlyVal(cfg.OnlyVal))
	if err != nil {
		return err
	}
	ds, err := parser.Parse(ctx)
	if err != nil {
		return err
	}
	dumpPath, err := dataset.Dump(ds, cfg.OutputDir)
	if err != nil {
		return err
	}
	if cfg.OnlyDumpParsedDataset {
		fmt.Printf("Parsed dataset written to %s\n", dumpPath)
		return nil
	}

	registry, err := newMetricsRegistry()
	if err != nil {
		return err
	}

	driver := ingest.NewDriver(
		ingest.WithResizeMaxSide(cfg.ResizeMaxSide),
		ingest.WithCheckBadImages(cfg.CheckBadImages),
		ingest.WithRescaleBoxes(cfg.RescaleBoxes),
		ingest.WithJPEGQuality(cfg.JPEGQuality))

	var timings types.TimingCollection
	for _, split := range ds.SplitNames() {
		res, err := writeSplit(ctx, driver, cfg, split, ds.Split(split))
		if err != nil {
			return err
		}
		timings = append(timings, res.Timing)
		fmt.Printf("%s: wrote %d %s to %d %s, skipped %d\n", split, res.Written, utils.Pluralize("sample", res.Written),
			len(res.ShardCounts), utils.Pluralize("shard", len(res.ShardCounts)), res.Skipped)
	}
	fmt.Printf("Run %s complete\n%s", runId, timings)

	return writeMetrics(registry, viper.GetString(flagMetricsFile))
}

func writeSplit(ctx context.Context, driver *ingest.Driver, cfg *config.IngestConfig, split string, entries []types.Entry) (*ingest.Result, error) {
	sink, err := shard.NewFileSystemSink(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	w, err := shard.NewWriter(shard.WriterOptions{
		NumShards:   cfg.ShardCount(split),
		Prefix:      split,
		Sink:        sink,
		Compression: cfg.Compression,
	})
	if err != nil {
		return nil, err
	}
	return driver.WriteSplit(ctx, split, entries, w)
}

// ingestConfig builds the ingest config from the config file, if any, overridden by explicitly set flags
func ingestConfig(cmd *cobra.Command) (*config.IngestConfig, error) {
	cfg := config.NewIngestConfig()
	if path := viper.GetString(flagConfig); path != "" {
		appConfig, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if appConfig.Ingest != nil {
			cfg = appConfig.Ingest
		}
	}

	flags := cmd.Flags()
	setString := func(name string, target *string) {
		if flags.Changed(name) || *target == "" {
			*target = viper.GetString(name)
		}
	}
	setInt := func(name string, target *int) {
		if flags.Changed(name) {
			*target = viper.GetInt(name)
		}
	}
	setBool := func(name string, target *bool) {
		if flags.Changed(name) {
			*target = viper.GetBool(name)
		}
	}

	setString(flagDownloadPath, &cfg.DownloadPath)
	setString(flagOutputDir, &cfg.OutputDir)
	setString(flagCompression, &cfg.Compression)
	setInt(flagNumShards, &cfg.NumShards)
	setInt(flagValShards, &cfg.ValShards)
	setInt(flagResizeMaxSide, &cfg.ResizeMaxSide)
	setBool(flagCheckBadImages, &cfg.CheckBadImages)
	setBool(flagOnlyVal, &cfg.OnlyVal)
	setBool(flagSkipAmbiguous, &cfg.SkipAmbiguous)
	setBool(flagDiscardClasses, &cfg.DiscardClasses)
	setBool(flagOnlyDumpParsedDataset, &cfg.OnlyDumpParsedDataset)
	setBool(flagRescaleBoxes, &cfg.RescaleBoxes)
	return cfg, nil
}
