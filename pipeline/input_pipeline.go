package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/time/rate"

	"github.com/turbot/shardpipe/constants"
	"github.com/turbot/shardpipe/partition"
	"github.com/turbot/shardpipe/rate_limiter"
	"github.com/turbot/shardpipe/shard"
	"github.com/turbot/shardpipe/shard_source"
	"github.com/turbot/shardpipe/types"
)

// Config describes an input pipeline for one run mode
type Config struct {
	RunMode types.RunMode `hcl:"run_mode"`
	// the global batch size used in train mode
	BatchSize         int `hcl:"batch_size"`
	ShuffleBufferSize int `hcl:"shuffle_buffer_size,optional"`
	// glob pattern of the shard files, e.g. s3://bucket/shards/train-*-of-*.rec
	Files       string `hcl:"files"`
	IsMultiHost bool   `hcl:"multi_host,optional"`
	// the number of replicas in sync - this is the batch size in val mode
	ReplicaCount         int    `hcl:"replica_count,optional"`
	CycleLength          int    `hcl:"cycle_length,optional"`
	TransformConcurrency int    `hcl:"transform_concurrency,optional"`
	Seed                 uint64 `hcl:"seed,optional"`
	// if set, the number of shard files the pattern must match
	ExpectedShards int `hcl:"expected_shards,optional"`
	// optional limit on shard file opens per second, shared by every stream the pipeline opens
	ReadRate  float64 `hcl:"read_rate,optional"`
	ReadBurst int     `hcl:"read_burst,optional"`
}

func (c *Config) Validate() error {
	if err := c.RunMode.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedRunMode, err)
	}
	if c.Files == "" {
		return errors.New("files pattern is required")
	}
	if c.ReplicaCount <= 0 {
		return fmt.Errorf("replica count must be positive, got %d", c.ReplicaCount)
	}
	if c.RunMode.IsTraining() {
		if c.BatchSize <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
		}
		if c.ShuffleBufferSize <= 0 {
			return fmt.Errorf("shuffle buffer size must be positive, got %d", c.ShuffleBufferSize)
		}
	}
	if c.CycleLength < 0 || c.TransformConcurrency < 0 || c.ExpectedShards < 0 {
		return errors.New("cycle length, transform concurrency and expected shards must not be negative")
	}
	if c.ReadRate < 0 || c.ReadBurst < 0 {
		return errors.New("read rate and read burst must not be negative")
	}
	return nil
}

func (c *Config) Identifier() string {
	return fmt.Sprintf("%s_input_pipeline", c.RunMode)
}

// NewShardSource creates the source for the configured files pattern
func (c *Config) NewShardSource(ctx context.Context, connections *shard_source.Connections) (shard_source.ShardSource, error) {
	return shard_source.NewShardSource(ctx, c.Files, connections)
}

// checkSource verifies that source lists the configured files pattern
func (c *Config) checkSource(source shard_source.ShardSource) error {
	files, err := homedir.Expand(strings.TrimPrefix(c.Files, "file://"))
	if err != nil {
		return fmt.Errorf("error expanding files %s: %w", c.Files, err)
	}
	if !strings.HasSuffix(files, source.Pattern()) {
		return fmt.Errorf("%s source pattern %s does not match files %s", source.Identifier(), source.Pattern(), c.Files)
	}
	return nil
}

// readLimiter returns the limiter on shard file opens, or nil if no read rate is configured
func (c *Config) readLimiter() (*rate_limiter.Limiter, error) {
	if c.ReadRate == 0 {
		return nil, nil
	}
	burst := max(c.ReadBurst, 1)
	cycleLength := c.CycleLength
	if cycleLength == 0 {
		cycleLength = constants.DefaultCycleLength
	}
	return rate_limiter.NewLimiter(&rate_limiter.Definition{
		Name:           fmt.Sprintf("%s_shard_opens", c.RunMode),
		FillRate:       rate.Limit(c.ReadRate),
		BucketSize:     int64(burst),
		MaxConcurrency: int64(cycleLength),
	})
}

// batchSize resolves the per-call batch size
// val batches hold one example per replica, train batches are per replica when each host feeds its own replicas
func (c *Config) batchSize(partition *types.HostPartition) (int, error) {
	if !c.RunMode.IsTraining() {
		return c.ReplicaCount, nil
	}
	if !c.IsMultiHost || partition == nil {
		return c.BatchSize, nil
	}
	if c.BatchSize%c.ReplicaCount != 0 {
		return 0, fmt.Errorf("batch size %d is not divisible by replica count %d", c.BatchSize, c.ReplicaCount)
	}
	return c.BatchSize / c.ReplicaCount, nil
}

// Encoder converts decoded samples into training examples
type Encoder[T any] interface {
	EncodeTrain(*types.Sample) (T, error)
	EncodeVal(*types.Sample) (T, error)
}

// InputPipeline builds record streams over the shard files of one split
type InputPipeline[T any] struct {
	cfg       Config
	source    shard_source.ShardSource
	transform TransformFunc[T]
	cache     *partition.ListingCache
	limiter   *rate_limiter.Limiter
}

// NewInputPipeline validates the config and binds the mode's encode function
// an unsupported run mode fails here, before any file is listed
func NewInputPipeline[T any](cfg Config, source shard_source.ShardSource, encoder Encoder[T]) (*InputPipeline[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || encoder == nil {
		return nil, errors.New("input pipeline requires a shard source and an encoder")
	}

	encode := encoder.EncodeVal
	if cfg.RunMode.IsTraining() {
		encode = encoder.EncodeTrain
	}
	transform := func(_ context.Context, record []byte) (T, error) {
		sample, err := shard.UnmarshalSample(record)
		if err != nil {
			var empty T
			return empty, err
		}
		return encode(sample)
	}

	return NewInputPipelineWithTransform(cfg, source, transform)
}

// NewInputPipelineWithTransform creates an input pipeline which passes raw records to transform
func NewInputPipelineWithTransform[T any](cfg Config, source shard_source.ShardSource, transform TransformFunc[T]) (*InputPipeline[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || transform == nil {
		return nil, errors.New("input pipeline requires a shard source and a transform")
	}
	if err := cfg.checkSource(source); err != nil {
		return nil, err
	}
	limiter, err := cfg.readLimiter()
	if err != nil {
		return nil, fmt.Errorf("failed to create shard read limiter: %w", err)
	}
	p := &InputPipeline[T]{
		cfg:       cfg,
		source:    source,
		transform: transform,
		limiter:   limiter,
	}
	// shard sets are immutable, so the training listing can be reused across repeated Opens
	if cfg.RunMode.IsTraining() {
		p.cache = partition.NewListingCache()
	}
	return p, nil
}

// Open enumerates the files owned by hostPartition and starts a record stream over them
// hostPartition is ignored unless the pipeline is multi-host, and may be nil, in which case every file is read
func (p *InputPipeline[T]) Open(ctx context.Context, hostPartition *types.HostPartition) (*RecordStream[T], error) {
	if !p.cfg.IsMultiHost {
		hostPartition = nil
	}
	batchSize, err := p.cfg.batchSize(hostPartition)
	if err != nil {
		return nil, err
	}

	opts := []partition.EnumeratorOption{
		partition.WithRunMode(p.cfg.RunMode),
		partition.WithExpectedShards(p.cfg.ExpectedShards),
	}
	if p.cache != nil {
		opts = append(opts, partition.WithListingCache(p.cache))
	}
	listing, err := partition.NewEnumerator(p.source, opts...).Enumerate(ctx, hostPartition)
	if err != nil {
		return nil, err
	}
	if len(listing.Files) == 0 {
		return nil, fmt.Errorf("%w for worker %s: %d files in split", partition.ErrNoShardFiles, hostPartition, listing.Total)
	}

	slog.Info("Opening input pipeline", "mode", p.cfg.RunMode, "batch_size", batchSize, "files", len(listing.Files), "total_files", listing.Total)

	return NewRecordStream(ctx, listing.Files, p.source, p.transform, StreamConfig{
		RunMode:              p.cfg.RunMode,
		BatchSize:            batchSize,
		ShuffleBufferSize:    p.cfg.ShuffleBufferSize,
		CycleLength:          p.cfg.CycleLength,
		TransformConcurrency: p.cfg.TransformConcurrency,
		Seed:                 p.cfg.Seed,
		ReadLimiter:          p.limiter,
	})
}
