package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbot/shardpipe/shard"
	"github.com/turbot/shardpipe/types"
)

// memoryWriter records pushed samples
type memoryWriter struct {
	samples []*types.Sample
	pushErr error
	flushed bool
	closed  bool
}

func (w *memoryWriter) Push(_ context.Context, s *types.Sample) error {
	if w.pushErr != nil {
		return w.pushErr
	}
	w.samples = append(w.samples, s)
	return nil
}

func (w *memoryWriter) FlushLast(context.Context) (types.ShardCounts, error) {
	w.flushed = true
	return types.ShardCounts{len(w.samples)}, nil
}

func (w *memoryWriter) Close() error {
	w.closed = true
	return nil
}

func testImage(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	switch format {
	case formatPNG:
		require.NoError(t, png.Encode(&buf, img))
	default:
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

func testEntry(id string, raw []byte, h, w int) types.Entry {
	return types.Entry{
		Id:      id,
		Image:   raw,
		Height:  h,
		Width:   w,
		Boxes:   []types.Box{{10, 20, 100, 200}},
		Classes: []int32{1},
	}
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		name         string
		h, w         int
		maxSide      int
		wantH, wantW int
		wantOk       bool
	}{
		{name: "landscape", h: 400, w: 800, maxSide: 512, wantH: 256, wantW: 512, wantOk: true},
		{name: "portrait", h: 1000, w: 600, maxSide: 500, wantH: 500, wantW: 300, wantOk: true},
		{name: "rounds to nearest", h: 333, w: 1000, maxSide: 500, wantH: 167, wantW: 500, wantOk: true},
		{name: "already fits", h: 400, w: 512, maxSide: 512, wantH: 400, wantW: 512},
		{name: "disabled", h: 4000, w: 3000, maxSide: 0, wantH: 4000, wantW: 3000},
		{name: "thin image keeps a pixel", h: 1, w: 10000, maxSide: 100, wantH: 1, wantW: 100, wantOk: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, w, ok := scaledSize(tt.h, tt.w, tt.maxSide)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantH, h)
			assert.Equal(t, tt.wantW, w)
		})
	}
}

func TestWriteSplit_Resize(t *testing.T) {
	for _, format := range []string{formatJPEG, formatPNG} {
		t.Run(format, func(t *testing.T) {
			w := &memoryWriter{}
			entries := []types.Entry{testEntry("a", testImage(t, format, 800, 400), 400, 800)}

			res, err := NewDriver(WithResizeMaxSide(512)).WriteSplit(context.Background(), "train", entries, w)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Written)
			require.Len(t, w.samples, 1)

			s := w.samples[0]
			assert.Equal(t, 256, s.Height)
			assert.Equal(t, 512, s.Width)
			assert.Equal(t, format, s.Format)

			cfg, decodedFormat, err := image.DecodeConfig(bytes.NewReader(s.Image))
			require.NoError(t, err)
			assert.Equal(t, format, decodedFormat)
			assert.Equal(t, 512, cfg.Width)
			assert.Equal(t, 256, cfg.Height)

			// boxes are unchanged unless rescaling is enabled
			assert.Equal(t, []types.Box{{10, 20, 100, 200}}, s.Boxes)
		})
	}
}

func TestWriteSplit_RescaleBoxes(t *testing.T) {
	w := &memoryWriter{}
	entries := []types.Entry{testEntry("a", testImage(t, formatJPEG, 800, 400), 400, 800)}

	_, err := NewDriver(WithResizeMaxSide(400), WithRescaleBoxes(true)).WriteSplit(context.Background(), "train", entries, w)
	require.NoError(t, err)
	require.Len(t, w.samples, 1)
	assert.Equal(t, []types.Box{{5, 10, 50, 100}}, w.samples[0].Boxes)
	// the entry itself is not modified
	assert.Equal(t, []types.Box{{10, 20, 100, 200}}, entries[0].Boxes)
}

func TestWriteSplit_SmallImageUnchanged(t *testing.T) {
	w := &memoryWriter{}
	raw := testImage(t, formatJPEG, 100, 50)
	entries := []types.Entry{testEntry("a", raw, 50, 100)}

	_, err := NewDriver(WithResizeMaxSide(512)).WriteSplit(context.Background(), "val", entries, w)
	require.NoError(t, err)
	require.Len(t, w.samples, 1)
	assert.Equal(t, raw, w.samples[0].Image)
}

func TestWriteSplit_SkipsBadEntries(t *testing.T) {
	good := testImage(t, formatJPEG, 64, 32)
	corrupt := []byte("definitely not an image")

	tests := []struct {
		name        string
		opts        []DriverOption
		entries     []types.Entry
		wantWritten []string
		wantSkipped int
	}{
		{
			name:        "corrupt image with check",
			opts:        []DriverOption{WithCheckBadImages(true)},
			entries:     []types.Entry{testEntry("a", good, 32, 64), testEntry("b", corrupt, 32, 64), testEntry("c", good, 32, 64)},
			wantWritten: []string{"a", "c"},
			wantSkipped: 1,
		},
		{
			name:        "corrupt image without check is passed through",
			entries:     []types.Entry{testEntry("a", good, 32, 64), testEntry("b", corrupt, 32, 64)},
			wantWritten: []string{"a", "b"},
		},
		{
			name:        "corrupt image needing resize",
			opts:        []DriverOption{WithResizeMaxSide(16)},
			entries:     []types.Entry{testEntry("a", corrupt, 32, 64), testEntry("b", good, 32, 64)},
			wantWritten: []string{"b"},
			wantSkipped: 1,
		},
		{
			name:        "missing image file",
			entries:     []types.Entry{{Id: "a", ImagePath: "/does/not/exist.jpg"}, testEntry("b", good, 32, 64)},
			wantWritten: []string{"b"},
			wantSkipped: 1,
		},
		{
			name: "mismatched boxes and classes",
			entries: []types.Entry{
				{Id: "a", Image: good, Boxes: []types.Box{{0, 0, 1, 1}}, Classes: []int32{1, 2}},
				testEntry("b", good, 32, 64),
			},
			wantWritten: []string{"b"},
			wantSkipped: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &memoryWriter{}
			res, err := NewDriver(tt.opts...).WriteSplit(context.Background(), "train", tt.entries, w)
			require.NoError(t, err)

			var ids []string
			for _, s := range w.samples {
				ids = append(ids, s.Id)
			}
			assert.Equal(t, tt.wantWritten, ids)
			assert.Equal(t, tt.wantSkipped, res.Skipped)
			assert.Equal(t, len(tt.entries), res.Total)
			assert.Equal(t, res.Total-res.Skipped, res.Written)
			assert.True(t, w.flushed)
		})
	}
}

func TestWriteSplit_ReadsImagePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	require.NoError(t, os.WriteFile(path, testImage(t, formatPNG, 20, 10), 0600))

	w := &memoryWriter{}
	entries := []types.Entry{{Id: "a", ImagePath: path, Boxes: []types.Box{}, Classes: []int32{}}}
	_, err := NewDriver().WriteSplit(context.Background(), "val", entries, w)
	require.NoError(t, err)
	require.Len(t, w.samples, 1)
	assert.Equal(t, formatPNG, w.samples[0].Format)
	// dimensions are read from the image when the entry does not record them
	assert.Equal(t, 10, w.samples[0].Height)
	assert.Equal(t, 20, w.samples[0].Width)
}

func TestWriteSplit_WriterErrorAborts(t *testing.T) {
	errDisk := errors.New("disk full")
	w := &memoryWriter{pushErr: errDisk}
	entries := []types.Entry{testEntry("a", testImage(t, formatJPEG, 8, 8), 8, 8)}

	_, err := NewDriver().WriteSplit(context.Background(), "train", entries, w)
	assert.ErrorIs(t, err, errDisk)
	assert.True(t, w.closed)
	assert.False(t, w.flushed)
}

func TestWriteSplit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &memoryWriter{}
	entries := []types.Entry{testEntry("a", testImage(t, formatJPEG, 8, 8), 8, 8)}
	_, err := NewDriver().WriteSplit(ctx, "train", entries, w)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.samples)
	assert.True(t, w.closed)
}

func TestWriteSplit_SkippedEntriesAbsentFromShards(t *testing.T) {
	dir := t.TempDir()
	sink, err := shard.NewFileSystemSink(dir)
	require.NoError(t, err)
	writer, err := shard.NewWriter(shard.WriterOptions{NumShards: 3, Prefix: "val", Sink: sink})
	require.NoError(t, err)

	good := testImage(t, formatJPEG, 16, 16)
	var entries []types.Entry
	for i := 0; i < 10; i++ {
		img := good
		if i == 4 {
			img = []byte{0xff, 0xd8, 0x00}
		}
		entries = append(entries, testEntry(fmt.Sprintf("e%d", i), img, 16, 16))
	}

	res, err := NewDriver(WithCheckBadImages(true)).WriteSplit(context.Background(), "val", entries, writer)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 9, res.ShardCounts.Total())
	assert.LessOrEqual(t, res.ShardCounts.Spread(), 1)

	files, err := filepath.Glob(filepath.Join(dir, shard.Pattern("val")))
	require.NoError(t, err)
	require.Len(t, files, 3)

	var ids []string
	for _, name := range files {
		f, err := os.Open(name)
		require.NoError(t, err)
		records, err := shard.ReadAll(name, f)
		require.NoError(t, err)
		for _, r := range records {
			s, err := shard.UnmarshalSample(r)
			require.NoError(t, err)
			ids = append(ids, s.Id)
		}
	}
	assert.Len(t, ids, 9)
	assert.NotContains(t, ids, "e4")
}
