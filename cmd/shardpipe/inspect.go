package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/turbot/pipe-fittings/cmdconfig"
	"github.com/turbot/pipe-fittings/utils"

	"github.com/turbot/shardpipe/config"
	"github.com/turbot/shardpipe/constants"
	"github.com/turbot/shardpipe/partition"
	"github.com/turbot/shardpipe/pipeline"
	"github.com/turbot/shardpipe/shard"
	"github.com/turbot/shardpipe/shard_source"
	"github.com/turbot/shardpipe/types"
)

const (
	flagReplicaCount = "replica-count"
	flagWorkerId     = "worker-id"
	flagWorkerCount  = "worker-count"
	flagTrainBatches = "train-batches"
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [shard pattern] [flags]",
		Short: "Verify a set of shard files and report their record counts",
		Long: `Verify a set of shard files and report their record counts.

The shard pattern defaults to the files of the val pipeline block of the config file,
whose settings are also used for the val pass. With --train-batches the train pipeline
block is opened and the given number of batches is read from it.`,
		Args:         cobra.MaximumNArgs(1),
		RunE:         runInspectCmd,
		SilenceUsage: true,
	}

	cmdconfig.OnCmd(cmd).
		AddStringFlag(flagConfig, "", "Path of an HCL config file providing pipelines and cloud connections").
		AddIntFlag(flagReplicaCount, 1, "Number of replicas, used as the val batch size").
		AddIntFlag(flagWorkerId, 0, "Id of this host when inspecting one host's partition").
		AddIntFlag(flagWorkerCount, 0, "Number of hosts, 0 to inspect every file").
		AddIntFlag(flagTrainBatches, 0, "Number of batches to read from the train pipeline of the config file").
		AddStringFlag(flagMetricsFile, "", "Write serving metrics in the prometheus text format to this file")

	return cmd
}

func runInspectCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	appConfig := &config.AppConfig{}
	if path := viper.GetString(flagConfig); path != "" {
		var err error
		if appConfig, err = config.LoadFile(path); err != nil {
			return err
		}
	}

	var hostPartition *types.HostPartition
	if workerCount := viper.GetInt(flagWorkerCount); workerCount > 0 {
		var err error
		if hostPartition, err = types.NewHostPartition(viper.GetInt(flagWorkerId), workerCount); err != nil {
			return err
		}
	}

	valConfig, err := inspectValConfig(cmd, appConfig, args, hostPartition)
	if err != nil {
		return err
	}

	source, err := valConfig.NewShardSource(ctx, appConfig.Connections)
	if err != nil {
		return err
	}
	defer source.Close()

	registry, err := newMetricsRegistry()
	if err != nil {
		return err
	}

	listing, err := partition.NewEnumerator(source, partition.WithRunMode(constants.RunModeVal)).Enumerate(ctx, hostPartition)
	if err != nil {
		return err
	}
	counts, err := countRecords(ctx, source, listing.Files)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tRECORDS")
	for i, f := range listing.Files {
		fmt.Fprintf(tw, "%s\t%d\n", f, counts[i])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	// read everything again through a val pipeline, decoding every sample
	records, batches, err := readValPipeline(ctx, valConfig, source, hostPartition)
	if err != nil {
		return err
	}
	if records != counts.Total() {
		return fmt.Errorf("pipeline read %d records but shard files hold %d", records, counts.Total())
	}
	fmt.Printf("%d %s in %d/%d %s, %d %s of up to %d, max shard spread %d\n",
		records, utils.Pluralize("record", records),
		len(listing.Files), listing.Total, utils.Pluralize("file", listing.Total),
		batches, utils.Pluralize("batch", batches), valConfig.ReplicaCount, counts.Spread())

	if n := viper.GetInt(flagTrainBatches); n > 0 {
		if err := readTrainPipeline(ctx, appConfig, hostPartition, n); err != nil {
			return err
		}
	}

	return writeMetrics(registry, viper.GetString(flagMetricsFile))
}

// inspectValConfig builds the val pipeline config from the config file, overridden by the pattern argument and flags
func inspectValConfig(cmd *cobra.Command, appConfig *config.AppConfig, args []string, hostPartition *types.HostPartition) (*pipeline.Config, error) {
	valConfig := &pipeline.Config{
		RunMode:      constants.RunModeVal,
		ReplicaCount: viper.GetInt(flagReplicaCount),
	}
	if block := appConfig.Pipeline(constants.RunModeVal); block != nil {
		c := *block
		valConfig = &c
		if cmd.Flags().Changed(flagReplicaCount) {
			valConfig.ReplicaCount = viper.GetInt(flagReplicaCount)
		}
	}
	if len(args) > 0 {
		valConfig.Files = args[0]
	}
	if valConfig.Files == "" {
		return nil, errors.New("a shard pattern argument or a val pipeline block in --config is required")
	}
	valConfig.IsMultiHost = hostPartition != nil
	return valConfig, nil
}

// identityEncoder is the identity encoder - it yields each sample unchanged
type identityEncoder struct{}

func (identityEncoder) EncodeTrain(s *types.Sample) (*types.Sample, error) { return s, nil }
func (identityEncoder) EncodeVal(s *types.Sample) (*types.Sample, error)   { return s, nil }

func readValPipeline(ctx context.Context, valConfig *pipeline.Config, source shard_source.ShardSource, hostPartition *types.HostPartition) (records, batches int, err error) {
	p, err := pipeline.NewInputPipeline[*types.Sample](*valConfig, source, identityEncoder{})
	if err != nil {
		return 0, 0, err
	}
	stream, err := p.Open(ctx, hostPartition)
	if err != nil {
		return 0, 0, err
	}
	defer stream.Close()

	for {
		b, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return records, batches, nil
		}
		if err != nil {
			return 0, 0, err
		}
		records += len(b)
		batches++
	}
}

// readTrainPipeline reads n batches from the train pipeline block of the config file
func readTrainPipeline(ctx context.Context, appConfig *config.AppConfig, hostPartition *types.HostPartition, n int) error {
	trainConfig := appConfig.Pipeline(constants.RunModeTrain)
	if trainConfig == nil {
		return fmt.Errorf("--%s requires a train pipeline block in --%s", flagTrainBatches, flagConfig)
	}
	source, err := trainConfig.NewShardSource(ctx, appConfig.Connections)
	if err != nil {
		return err
	}
	defer source.Close()

	p, err := pipeline.NewInputPipeline[*types.Sample](*trainConfig, source, identityEncoder{})
	if err != nil {
		return err
	}
	stream, err := p.Open(ctx, hostPartition)
	if err != nil {
		return err
	}
	defer stream.Close()

	samples := 0
	for range n {
		b, err := stream.Next(ctx)
		if err != nil {
			return fmt.Errorf("train pipeline failed after %d %s: %w", samples, utils.Pluralize("sample", samples), err)
		}
		samples += len(b)
	}
	fmt.Printf("read %d train %s of %d\n", n, utils.Pluralize("batch", n), samples/n)
	return nil
}

func countRecords(ctx context.Context, source shard_source.ShardSource, files []string) (types.ShardCounts, error) {
	counts := make(types.ShardCounts, len(files))
	for i, f := range files {
		rc, err := source.Open(ctx, f)
		if err != nil {
			return nil, err
		}
		records, err := shard.ReadAll(f, rc)
		if err != nil {
			return nil, err
		}
		counts[i] = len(records)
	}
	return counts, nil
}

// identityEncoder is the identity encoder - it yields each sample unchanged
type identityEncoder struct{}

func (identityEncoder) EncodeTrain(s *types.Sample) (*types.Sample, error) { return s, nil }
func (identityEncoder) EncodeVal(s *types.Sample) (*types.Sample, error)   { return s, nil }

func readValPipeline(ctx context.Context, source shard_source.ShardSource, hostPartition *types.HostPartition) (records, batches int, err error) {
	p, err := pipeline.NewInputPipeline[*types.Sample](pipeline.Config{
		RunMode:      constants.RunModeVal,
		Files:        source.Pattern(),
		ReplicaCount: viper.GetInt(flagReplicaCount),
		IsMultiHost:  hostPartition != nil,
	}, source, identityEncoder{})
	if err != nil {
		return 0, 0, err
	}
	stream, err := p.Open(ctx, hostPartition)
	if err != nil {
		return 0, 0, err
	}
	defer stream.Close()

	for {
		b, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return records, batches, nil
		}
		if err != nil {
			return 0, 0, err
		}
		records += len(b)
		batches++
	}
}
