package shard

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/turbot/pipe-fittings/utils"

	"github.com/turbot/shardpipe/constants"
	"github.com/turbot/shardpipe/types"
)

type WriterOptions struct {
	// the number of shard files to write
	NumShards int
	// the shard file name prefix - normally the split name
	Prefix string
	Sink   Sink
	// a shard buffer is written to its file once it holds this many bytes
	FlushThreshold int
	// none or gzip
	Compression string
}

func (o *WriterOptions) Validate() error {
	if o.NumShards <= 0 {
		return fmt.Errorf("number of shards must be positive, got %d", o.NumShards)
	}
	if o.Prefix == "" {
		return errors.New("shard prefix is required")
	}
	if o.Sink == nil {
		return errors.New("shard sink is required")
	}
	switch o.Compression {
	case "", constants.CompressionNone, constants.CompressionGzip:
	default:
		return fmt.Errorf("unsupported compression '%s'", o.Compression)
	}
	return nil
}

// Writer distributes samples round-robin across a fixed number of shard files
// so that the shard sizes of a split never differ by more than one sample
//
// A Writer is not safe for concurrent use - it must be owned by a single ingestion worker
type Writer struct {
	opts   WriterOptions
	shards []*shardBuffer
	// index of the shard the next sample is assigned to
	next int
	// scratch buffer reused for sample serialization
	scratch []byte
	closed  bool
	// the first storage error - once set the writer is unusable
	err error
}

// shardBuffer holds the not yet written frames of a single shard file
type shardBuffer struct {
	name  string
	buf   []byte
	count int

	out io.WriteCloser
	gz  *gzip.Writer
	w   io.Writer
}

func NewWriter(opts WriterOptions) (*Writer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = constants.DefaultFlushThreshold
	}
	if opts.Compression == "" {
		opts.Compression = constants.CompressionNone
	}

	w := &Writer{
		opts:   opts,
		shards: make([]*shardBuffer, opts.NumShards),
	}
	for i := range w.shards {
		w.shards[i] = &shardBuffer{name: Name(opts.Prefix, i, opts.NumShards, opts.Compression)}
	}
	return w, nil
}

// Push serializes the sample and buffers it in the next shard of the rotation
// If the sample cannot be serialized, nothing is buffered and the rotation does not advance
func (w *Writer) Push(ctx context.Context, s *types.Sample) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := MarshalSample(w.scratch[:0], s)
	if err != nil {
		return fmt.Errorf("failed to serialize sample: %w", err)
	}
	w.scratch = data

	sb := w.shards[w.next]
	sb.buf = appendFrame(sb.buf, frameKindRecord, data)
	sb.count++
	w.next = (w.next + 1) % len(w.shards)

	if len(sb.buf) >= w.opts.FlushThreshold {
		if err := w.flush(ctx, sb); err != nil {
			w.err = err
			return err
		}
	}
	return nil
}

// FlushLast writes all buffered samples, terminates every shard with its trailer and closes the files
// Every one of the NumShards files is written, including shards which received no samples
func (w *Writer) FlushLast(ctx context.Context) (types.ShardCounts, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if w.err != nil {
		w.abort()
		return nil, w.err
	}

	for _, sb := range w.shards {
		sb.buf = appendFrame(sb.buf, frameKindTrailer, trailerPayload(sb.count))
		if err := w.flush(ctx, sb); err != nil {
			w.err = err
			w.abort()
			return nil, err
		}
	}
	counts := w.counts()

	var closeErrors []error
	for _, sb := range w.shards {
		if err := sb.close(); err != nil {
			closeErrors = append(closeErrors, err)
		}
	}
	w.closed = true
	if len(closeErrors) > 0 {
		return nil, fmt.Errorf("failed to close %d shard %s: %w", len(closeErrors), utils.Pluralize("file", len(closeErrors)), errors.Join(closeErrors...))
	}

	slog.Info("Wrote shards", "prefix", w.opts.Prefix, "shards", len(w.shards), "samples", counts.Total(), "location", w.opts.Sink.Location())
	return counts, nil
}

// Close discards any shard files which have not been completed by FlushLast
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.abort()
	return nil
}

// counts returns the number of samples assigned to each shard so far
func (w *Writer) counts() types.ShardCounts {
	counts := make(types.ShardCounts, len(w.shards))
	for i, sb := range w.shards {
		counts[i] = sb.count
	}
	return counts
}

func (w *Writer) flush(ctx context.Context, sb *shardBuffer) error {
	if sb.out == nil {
		out, err := w.opts.Sink.Create(ctx, sb.name)
		if err != nil {
			return err
		}
		sb.out = out
		sb.w = out
		if w.opts.Compression == constants.CompressionGzip {
			sb.gz = gzip.NewWriter(out)
			sb.w = sb.gz
		}
	}

	slog.Debug("flushing shard buffer", "shard", sb.name, "bytes", len(sb.buf))
	if _, err := sb.w.Write(sb.buf); err != nil {
		return fmt.Errorf("failed to write shard %s: %w", sb.name, err)
	}
	sb.buf = sb.buf[:0]
	return nil
}

func (w *Writer) abort() {
	for _, sb := range w.shards {
		if sb.out == nil {
			continue
		}
		if a, ok := sb.out.(Aborter); ok {
			if err := a.Abort(); err != nil {
				slog.Warn("failed to discard incomplete shard", "shard", sb.name, "error", err)
			}
		} else {
			sb.out.Close()
		}
		sb.out = nil
	}
	w.closed = true
}

func (sb *shardBuffer) close() error {
	if sb.gz != nil {
		if err := sb.gz.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer for %s: %w", sb.name, err)
		}
	}
	err := sb.out.Close()
	sb.out = nil
	return err
}
