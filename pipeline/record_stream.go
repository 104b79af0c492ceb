package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/turbot/pipe-fittings/utils"
	"golang.org/x/sync/errgroup"

	"github.com/turbot/shardpipe/constants"
	"github.com/turbot/shardpipe/metrics"
	"github.com/turbot/shardpipe/rate_limiter"
	"github.com/turbot/shardpipe/shard"
	"github.com/turbot/shardpipe/shard_source"
	"github.com/turbot/shardpipe/types"
)

// Batch is a group of transformed examples returned by a single call to [RecordStream.Next]
type Batch[T any] []T

// TransformFunc converts one raw shard record into a training example
type TransformFunc[T any] func(ctx context.Context, record []byte) (T, error)

// StreamConfig controls the stages of a [RecordStream]
type StreamConfig struct {
	RunMode           types.RunMode
	BatchSize         int
	ShuffleBufferSize int
	// number of shard files read concurrently, defaults to constants.DefaultCycleLength
	CycleLength int
	// number of concurrent transform workers, defaults to runtime.GOMAXPROCS(0)
	TransformConcurrency int
	// shuffle seed, a random seed is used if zero
	Seed uint64
	// optional limiter shared between streams, replaces the per-stream CycleLength limiter
	ReadLimiter *rate_limiter.Limiter
}

func (c *StreamConfig) setDefaults() {
	// a shared limiter decides how many files are read at once
	if c.ReadLimiter != nil && c.ReadLimiter.MaxConcurrency() > 0 {
		c.CycleLength = int(c.ReadLimiter.MaxConcurrency())
	}
	if c.CycleLength <= 0 {
		c.CycleLength = constants.DefaultCycleLength
	}
	if c.TransformConcurrency <= 0 {
		c.TransformConcurrency = runtime.GOMAXPROCS(0)
	}
	if c.Seed == 0 {
		c.Seed = rand.Uint64()
	}
}

func (c *StreamConfig) Validate() error {
	if err := c.RunMode.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedRunMode, err)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.RunMode.IsTraining() && c.ShuffleBufferSize <= 0 {
		return fmt.Errorf("shuffle buffer size must be positive, got %d", c.ShuffleBufferSize)
	}
	return nil
}

// RecordStream reads shard files concurrently and yields batches of transformed examples
//
// In val mode every record of every file is yielded exactly once, unshuffled, and the final batch may be short.
// In train mode the files are cycled indefinitely, records are shuffled through a bounded buffer
// and every batch is full.
// One batch is prefetched ahead of the consumer. The stream must be closed to release its goroutines.
type RecordStream[T any] struct {
	cfg       StreamConfig
	files     []string
	source    shard_source.ShardSource
	transform TransformFunc[T]
	limiter   *rate_limiter.Limiter

	cancel  context.CancelFunc
	batches chan Batch[T]
	// closed once every stage has exited - err is only valid after this
	done chan struct{}
	err  error

	empty     emptyPassDetector
	closeOnce sync.Once
}

// NewRecordStream validates the config and starts the stream stages
// the stages run until the stream is exhausted, fails, or is closed
func NewRecordStream[T any](ctx context.Context, files []string, source shard_source.ShardSource, transform TransformFunc[T], cfg StreamConfig) (*RecordStream[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("record stream requires at least one shard file")
	}
	if source == nil || transform == nil {
		return nil, errors.New("record stream requires a shard source and a transform")
	}
	cfg.setDefaults()

	limiter := cfg.ReadLimiter
	if limiter == nil {
		var err error
		limiter, err = rate_limiter.NewLimiter(&rate_limiter.Definition{
			Name:           fmt.Sprintf("%s_shard_readers", cfg.RunMode),
			MaxConcurrency: int64(cfg.CycleLength),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create shard reader limiter: %w", err)
		}
	}

	s := &RecordStream[T]{
		cfg:       cfg,
		files:     files,
		source:    source,
		transform: transform,
		limiter:   limiter,
		batches:   make(chan Batch[T], 1),
		done:      make(chan struct{}),
		empty:     emptyPassDetector{fileCount: len(files), seen: make(map[string]struct{})},
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.start(ctx)

	slog.Debug("record stream started", "mode", cfg.RunMode, "files", len(files), "batch_size", cfg.BatchSize,
		"cycle_length", cfg.CycleLength, "transform_concurrency", cfg.TransformConcurrency, "limiter", limiter.String())
	return s, nil
}

func (s *RecordStream[T]) start(ctx context.Context) {
	eg, ctx := errgroup.WithContext(ctx)

	channelSize := s.cfg.CycleLength
	records := make(chan []byte, channelSize)
	examples := make(chan T, channelSize)

	eg.Go(func() error {
		return s.feed(ctx, eg, records)
	})

	// val mode has no shuffle stage
	shuffled := records
	if s.cfg.RunMode.IsTraining() {
		shuffled = make(chan []byte, channelSize)
		r := newReservoir(s.cfg.ShuffleBufferSize, s.cfg.Seed)
		eg.Go(func() error {
			return shuffle(ctx, r, records, shuffled)
		})
	}

	var workers sync.WaitGroup
	for range s.cfg.TransformConcurrency {
		workers.Add(1)
		eg.Go(func() error {
			defer workers.Done()
			return s.transformRecords(ctx, shuffled, examples)
		})
	}
	go func() {
		workers.Wait()
		close(examples)
	}()

	eg.Go(func() error {
		return s.batch(ctx, examples)
	})

	go func() {
		s.err = eg.Wait()
		close(s.done)
	}()
}

// feed starts a reader for each file, once in val mode and cyclically in train mode
// the number of concurrent readers is bounded by the read limiter
func (s *RecordStream[T]) feed(ctx context.Context, eg *errgroup.Group, records chan<- []byte) error {
	var readers sync.WaitGroup
	defer func() {
		readers.Wait()
		close(records)
	}()

	for pass := 0; ; pass++ {
		for _, file := range s.files {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			readers.Add(1)
			eg.Go(func() error {
				defer readers.Done()
				defer s.limiter.Release()
				return s.readFile(ctx, file, records)
			})
		}
		if !s.cfg.RunMode.IsTraining() {
			return nil
		}
		slog.Debug("record stream starting new pass", "mode", s.cfg.RunMode, "pass", pass+1)
	}
}

// readFile forwards every record of a shard file, failing on a corrupt or truncated file
func (s *RecordStream[T]) readFile(ctx context.Context, file string, records chan<- []byte) error {
	rc, err := s.source.Open(ctx, file)
	if err != nil {
		return fmt.Errorf("failed to open shard file %s: %w", file, err)
	}
	reader, err := shard.NewReader(file, rc)
	if err != nil {
		return fmt.Errorf("failed to open shard file %s: %w", file, err)
	}
	defer reader.Close()

	recordsRead := metrics.RecordsRead.WithLabelValues(string(s.cfg.RunMode))
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := send(ctx, records, rec); err != nil {
			return err
		}
		recordsRead.Inc()
	}

	if s.cfg.RunMode.IsTraining() && s.empty.fileRead(file, reader.Count()) {
		return fmt.Errorf("%w: %d %s read", ErrEmptyShards, len(s.files), utils.Pluralize("shard file", len(s.files)))
	}
	return nil
}

func (s *RecordStream[T]) transformRecords(ctx context.Context, in <-chan []byte, out chan<- T) error {
	for rec := range in {
		example, err := s.transform(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to transform record: %w", err)
		}
		if err := send(ctx, out, example); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// batch groups examples, emitting a final short batch in val mode only
func (s *RecordStream[T]) batch(ctx context.Context, in <-chan T) error {
	defer close(s.batches)

	batches := metrics.Batches.WithLabelValues(string(s.cfg.RunMode))
	current := make(Batch[T], 0, s.cfg.BatchSize)
	for example := range in {
		current = append(current, example)
		if len(current) < s.cfg.BatchSize {
			continue
		}
		if err := send[Batch[T]](ctx, s.batches, current); err != nil {
			return err
		}
		batches.Inc()
		current = make(Batch[T], 0, s.cfg.BatchSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(current) > 0 && !s.cfg.RunMode.IsTraining() {
		if err := send[Batch[T]](ctx, s.batches, current); err != nil {
			return err
		}
		batches.Inc()
	}
	return nil
}

// Next blocks until the next batch is available
// It returns io.EOF once a val stream is exhausted, or the first error raised by any stage
func (s *RecordStream[T]) Next(ctx context.Context) (Batch[T], error) {
	select {
	case b, ok := <-s.batches:
		if ok {
			return b, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	<-s.done
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

// All returns an iterator over the remaining batches
// iteration stops after the first error, which is yielded with a nil batch
func (s *RecordStream[T]) All(ctx context.Context) iter.Seq2[Batch[T], error] {
	return func(yield func(Batch[T], error) bool) {
		for {
			b, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// Close cancels all stages and waits for them to exit, closing any open shard files
func (s *RecordStream[T]) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		slog.Debug("record stream closed", "mode", s.cfg.RunMode)
	})
	return nil
}

// emptyPassDetector tracks whether every file of a training stream has been read without yielding a record
type emptyPassDetector struct {
	mut       sync.Mutex
	fileCount int
	seen      map[string]struct{}
	nonEmpty  bool
}

// fileRead records that a file has been read to the end, returning true once
// every file has been read and none yielded a record
func (d *emptyPassDetector) fileRead(file string, count int) bool {
	d.mut.Lock()
	defer d.mut.Unlock()
	if d.nonEmpty {
		return false
	}
	if count > 0 {
		d.nonEmpty = true
		d.seen = nil
		return false
	}
	d.seen[file] = struct{}{}
	return len(d.seen) >= d.fileCount
}
