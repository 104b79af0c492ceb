package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/turbot/pipe-fittings/utils"

	"github.com/turbot/shardpipe/context_values"
	"github.com/turbot/shardpipe/metrics"
	"github.com/turbot/shardpipe/types"
)

const defaultJPEGQuality = 95

// ShardWriter receives the samples of one split
// [shard.Writer] is the standard implementation
type ShardWriter interface {
	Push(ctx context.Context, s *types.Sample) error
	FlushLast(ctx context.Context) (types.ShardCounts, error)
	Close() error
}

// Result summarises the ingestion of one split
type Result struct {
	Split       string
	Total       int
	Written     int
	Skipped     int
	ShardCounts types.ShardCounts
	Timing      types.Timing
}

// Driver converts raw dataset entries into samples and feeds them to a shard writer
//
// Entries which cannot be read, decoded or resized are skipped and counted - a bad entry never aborts a split.
// A failure of the shard writer itself, or context cancellation, does abort the split.
type Driver struct {
	resizeMaxSide  int
	checkBadImages bool
	rescaleBoxes   bool
	jpegQuality    int
}

func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		jpegQuality: defaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WriteSplit converts and pushes every entry of a split in order, then flushes the writer
// On error the writer is closed without completing its shards
func (d *Driver) WriteSplit(ctx context.Context, split string, entries []types.Entry, w ShardWriter) (*Result, error) {
	ctx, runId := context_values.EnsureRunId(ctx)
	logger := slog.Default().With("split", split, "run_id", runId)

	res := &Result{Split: split, Total: len(entries)}
	res.Timing.TryStart("ingest " + split)

	if d.resizeMaxSide > 0 {
		logger.Warn(fmt.Sprintf("Resize max side images to %d", d.resizeMaxSide))
		if !d.rescaleBoxes {
			logger.Warn("Box coordinates are not rescaled when images are resized")
		}
	}

	written := metrics.SamplesWritten.WithLabelValues(split)
	skipped := metrics.SamplesSkipped.WithLabelValues(split)

	for i := range entries {
		if err := ctx.Err(); err != nil {
			w.Close()
			return nil, err
		}

		entry := &entries[i]
		start := time.Now()
		sample, err := d.toSample(entry)
		if err != nil {
			res.Skipped++
			skipped.Inc()
			logger.Debug("skipping entry", "id", entry.Id, "error", err)
			continue
		}
		res.Timing.UpdateActiveDuration(time.Since(start))

		if err := w.Push(ctx, sample); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to write sample %s: %w", sample.Id, err)
		}
		res.Written++
		written.Inc()
	}

	counts, err := w.FlushLast(ctx)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to flush %s shards: %w", split, err)
	}
	res.ShardCounts = counts
	res.Timing.End = time.Now()

	logger.Warn(fmt.Sprintf("Skipped %d corrupted %s from %s data", res.Skipped, utils.Pluralize("sample", res.Skipped), split),
		"total", res.Total, "written", res.Written)
	return res, nil
}

// toSample reads, optionally checks and resizes, and validates a single entry
// it has no side effects, so a failed entry leaves no trace
func (d *Driver) toSample(entry *types.Entry) (*types.Sample, error) {
	raw, err := readImage(entry)
	if err != nil {
		return nil, err
	}

	sample := &types.Sample{
		Id:      entry.Id,
		Image:   raw,
		Format:  formatFromPath(entry.ImagePath),
		Height:  entry.Height,
		Width:   entry.Width,
		Boxes:   entry.Boxes,
		Classes: entry.Classes,
	}

	var decoded image.Image
	if d.checkBadImages {
		img, format, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		decoded = img
		sample.Format = format
	} else if cfg, format, err := image.DecodeConfig(bytes.NewReader(raw)); err == nil {
		sample.Format = format
		if sample.Height == 0 || sample.Width == 0 {
			sample.Height, sample.Width = cfg.Height, cfg.Width
		}
	}
	if decoded != nil && (sample.Height == 0 || sample.Width == 0) {
		b := decoded.Bounds()
		sample.Height, sample.Width = b.Dy(), b.Dx()
	}

	if newH, newW, ok := scaledSize(sample.Height, sample.Width, d.resizeMaxSide); ok {
		if decoded == nil {
			if decoded, sample.Format, err = image.Decode(bytes.NewReader(raw)); err != nil {
				return nil, fmt.Errorf("failed to decode image for resize: %w", err)
			}
		}
		if sample.Image, err = encodeImage(resizeImage(decoded, newH, newW), sample.Format, d.jpegQuality); err != nil {
			return nil, fmt.Errorf("failed to encode resized image: %w", err)
		}
		if d.rescaleBoxes {
			sample.Boxes = rescaleBoxes(entry.Boxes, float32(newH)/float32(sample.Height), float32(newW)/float32(sample.Width))
		}
		sample.Height, sample.Width = newH, newW
	}

	if err := sample.Validate(); err != nil {
		return nil, err
	}
	return sample, nil
}

func readImage(entry *types.Entry) ([]byte, error) {
	if len(entry.Image) > 0 {
		return entry.Image, nil
	}
	if entry.ImagePath == "" {
		return nil, errors.New("entry has no image data or image path")
	}
	path, err := homedir.Expand(entry.ImagePath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// rescaleBoxes returns a copy of boxes scaled by the per-axis factors
func rescaleBoxes(boxes []types.Box, scaleY, scaleX float32) []types.Box {
	res := make([]types.Box, len(boxes))
	for i, b := range boxes {
		res[i] = types.Box{b[0] * scaleY, b[1] * scaleX, b[2] * scaleY, b[3] * scaleX}
	}
	return res
}
