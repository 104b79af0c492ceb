package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbot/shardpipe/constants"
	"github.com/turbot/shardpipe/shard"
	"github.com/turbot/shardpipe/shard_source"
	"github.com/turbot/shardpipe/types"
)

// writeShards writes numSamples samples across numShards shard files and returns a source over them
func writeShards(t *testing.T, prefix string, numShards, numSamples int) (shard_source.ShardSource, []string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := shard.NewFileSystemSink(dir)
	require.NoError(t, err)
	w, err := shard.NewWriter(shard.WriterOptions{NumShards: numShards, Prefix: prefix, Sink: sink})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < numSamples; i++ {
		s := &types.Sample{
			Id:      fmt.Sprintf("%s-%d", prefix, i),
			Image:   []byte{0xff, 0xd8, byte(i)},
			Format:  "jpeg",
			Height:  8,
			Width:   8,
			Boxes:   []types.Box{{0, 0, 1, 1}},
			Classes: []int32{1},
		}
		require.NoError(t, w.Push(context.Background(), s))
		ids = append(ids, s.Id)
	}
	_, err = w.FlushLast(context.Background())
	require.NoError(t, err)

	source, err := shard_source.NewFileSystemSource(filepath.Join(dir, shard.Pattern(prefix)))
	require.NoError(t, err)
	return source, ids
}

// idTransform decodes a record and returns its sample id
func idTransform(_ context.Context, record []byte) (string, error) {
	s, err := shard.UnmarshalSample(record)
	if err != nil {
		return "", err
	}
	return s.Id, nil
}

func listFiles(t *testing.T, source shard_source.ShardSource) []string {
	t.Helper()
	files, err := source.List(context.Background())
	require.NoError(t, err)
	return files
}

func TestRecordStream_ValSinglePass(t *testing.T) {
	tests := []struct {
		name        string
		shards      int
		samples     int
		batchSize   int
		wantBatches []int
	}{
		{name: "remainder batch", shards: 4, samples: 10, batchSize: 4, wantBatches: []int{4, 4, 2}},
		{name: "exact batches", shards: 3, samples: 9, batchSize: 3, wantBatches: []int{3, 3, 3}},
		{name: "single batch", shards: 2, samples: 1, batchSize: 8, wantBatches: []int{1}},
		{name: "more shards than samples", shards: 8, samples: 3, batchSize: 2, wantBatches: []int{2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			source, ids := writeShards(t, constants.RunModeVal, tt.shards, tt.samples)

			s, err := NewRecordStream(ctx, listFiles(t, source), source, idTransform, StreamConfig{
				RunMode:   constants.RunModeVal,
				BatchSize: tt.batchSize,
			})
			require.NoError(t, err)
			defer s.Close()

			var got []string
			var sizes []int
			for {
				b, err := s.Next(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				require.NoError(t, err)
				sizes = append(sizes, len(b))
				got = append(got, b...)
			}
			assert.Equal(t, tt.wantBatches, sizes)
			assert.ElementsMatch(t, ids, got)

			// the stream stays exhausted
			_, err = s.Next(ctx)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestRecordStream_All(t *testing.T) {
	ctx := context.Background()
	source, ids := writeShards(t, constants.RunModeVal, 3, 7)

	s, err := NewRecordStream(ctx, listFiles(t, source), source, idTransform, StreamConfig{
		RunMode:   constants.RunModeVal,
		BatchSize: 2,
	})
	require.NoError(t, err)
	defer s.Close()

	var got []string
	for b, err := range s.All(ctx) {
		require.NoError(t, err)
		got = append(got, b...)
	}
	assert.ElementsMatch(t, ids, got)
}

func TestRecordStream_TrainRepeatsWithFullBatches(t *testing.T) {
	ctx := context.Background()
	source, ids := writeShards(t, constants.RunModeTrain, 3, 10)

	s, err := NewRecordStream(ctx, listFiles(t, source), source, idTransform, StreamConfig{
		RunMode:           constants.RunModeTrain,
		BatchSize:         4,
		ShuffleBufferSize: 5,
		Seed:              42,
	})
	require.NoError(t, err)
	defer s.Close()

	// 25 batches of 4 is 10 passes over the data - the stream must keep going and never yield a short batch
	counts := make(map[string]int)
	for i := 0; i < 25; i++ {
		b, err := s.Next(ctx)
		require.NoError(t, err)
		require.Len(t, b, 4)
		for _, id := range b {
			require.Contains(t, ids, id)
			counts[id]++
		}
	}
	assert.Len(t, counts, len(ids))
}

func TestRecordStream_TransformErrorIsFatal(t *testing.T) {
	ctx := context.Background()
	source, _ := writeShards(t, constants.RunModeVal, 2, 20)
	errBoom := errors.New("boom")

	transform := func(ctx context.Context, record []byte) (string, error) {
		id, err := idTransform(ctx, record)
		if err != nil {
			return "", err
		}
		if id == "val-7" {
			return "", errBoom
		}
		return id, nil
	}
	s, err := NewRecordStream(ctx, listFiles(t, source), source, transform, StreamConfig{
		RunMode:              constants.RunModeVal,
		BatchSize:            1,
		TransformConcurrency: 2,
	})
	require.NoError(t, err)
	defer s.Close()

	for {
		b, err := s.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, errBoom)
			assert.NotErrorIs(t, err, io.EOF)
			return
		}
		require.NotContains(t, b, "val-7")
	}
}

func TestRecordStream_CorruptShardIsFatal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	name := filepath.Join(dir, shard.Name(constants.RunModeVal, 0, 1, constants.CompressionNone))
	require.NoError(t, os.WriteFile(name, []byte("not a shard file"), 0600))

	source, err := shard_source.NewFileSystemSource(filepath.Join(dir, shard.Pattern(constants.RunModeVal)))
	require.NoError(t, err)

	s, err := NewRecordStream(ctx, listFiles(t, source), source, idTransform, StreamConfig{
		RunMode:   constants.RunModeVal,
		BatchSize: 1,
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, shard.ErrCorruptRecord)
}

func TestRecordStream_TrainEmptyShards(t *testing.T) {
	ctx := context.Background()
	source, _ := writeShards(t, constants.RunModeTrain, 3, 0)

	s, err := NewRecordStream(ctx, listFiles(t, source), source, idTransform, StreamConfig{
		RunMode:           constants.RunModeTrain,
		BatchSize:         2,
		ShuffleBufferSize: 4,
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrEmptyShards)
}

func TestRecordStream_CloseStopsTraining(t *testing.T) {
	ctx := context.Background()
	source, _ := writeShards(t, constants.RunModeTrain, 4, 16)

	s, err := NewRecordStream(ctx, listFiles(t, source), source, idTransform, StreamConfig{
		RunMode:           constants.RunModeTrain,
		BatchSize:         2,
		ShuffleBufferSize: 8,
	})
	require.NoError(t, err)

	_, err = s.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	// closing twice is harmless
	require.NoError(t, s.Close())

	// once closed, any prefetched batch may be returned, after which the stream reports cancellation
	for i := 0; i < 2; i++ {
		if _, err = s.Next(ctx); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordStream_NextHonoursContext(t *testing.T) {
	source, _ := writeShards(t, constants.RunModeTrain, 1, 1)

	// a transform which blocks until cancelled, so no batch is ever produced
	transform := func(ctx context.Context, _ []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s, err := NewRecordStream(context.Background(), listFiles(t, source), source, transform, StreamConfig{
		RunMode:           constants.RunModeTrain,
		BatchSize:         1,
		ShuffleBufferSize: 1,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordStream_PrefetchIsBounded(t *testing.T) {
	ctx := context.Background()
	source, _ := writeShards(t, constants.RunModeVal, 1, 100)

	var calls atomic.Int64
	transform := func(ctx context.Context, record []byte) (string, error) {
		calls.Add(1)
		return idTransform(ctx, record)
	}
	const batchSize, cycleLength, workers = 2, 1, 1
	s, err := NewRecordStream(ctx, listFiles(t, source), source, transform, StreamConfig{
		RunMode:              constants.RunModeVal,
		BatchSize:            batchSize,
		CycleLength:          cycleLength,
		TransformConcurrency: workers,
	})
	require.NoError(t, err)
	defer s.Close()

	// with no consumer: one batch waits in the prefetch channel, one full batch is held by the batcher,
	// the examples channel is full and each worker holds one transformed example
	bound := int64(2*batchSize + cycleLength + workers)
	require.Eventually(t, func() bool { return calls.Load() == bound }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, bound, calls.Load())

	// consuming one batch lets the stages advance by exactly one batch
	b, err := s.Next(ctx)
	require.NoError(t, err)
	require.Len(t, b, batchSize)
	require.Eventually(t, func() bool { return calls.Load() == bound+batchSize }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, bound+batchSize, calls.Load())
}

func TestNewRecordStream_Invalid(t *testing.T) {
	source, _ := writeShards(t, constants.RunModeVal, 1, 1)
	files := listFiles(t, source)

	tests := []struct {
		name    string
		files   []string
		cfg     StreamConfig
		wantErr error
	}{
		{name: "unsupported mode", files: files, cfg: StreamConfig{RunMode: "test", BatchSize: 1}, wantErr: ErrUnsupportedRunMode},
		{name: "zero batch size", files: files, cfg: StreamConfig{RunMode: constants.RunModeVal}},
		{name: "train without shuffle buffer", files: files, cfg: StreamConfig{RunMode: constants.RunModeTrain, BatchSize: 1}},
		{name: "no files", cfg: StreamConfig{RunMode: constants.RunModeVal, BatchSize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecordStream(context.Background(), tt.files, source, idTransform, tt.cfg)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestReservoir(t *testing.T) {
	run := func(seed uint64, size int, n int) [][]byte {
		r := newReservoir(size, seed)
		in := make(chan []byte, n)
		out := make(chan []byte, n)
		for i := 0; i < n; i++ {
			in <- []byte{byte(i)}
		}
		close(in)
		require.NoError(t, shuffle(context.Background(), r, in, out))
		var res [][]byte
		for rec := range out {
			res = append(res, rec)
		}
		return res
	}

	t.Run("every record is emitted once", func(t *testing.T) {
		got := run(1, 10, 100)
		require.Len(t, got, 100)
		seen := make([]int, 0, 100)
		for _, rec := range got {
			seen = append(seen, int(rec[0]))
		}
		slices.Sort(seen)
		for i, v := range seen {
			assert.Equal(t, i, v)
		}
	})

	t.Run("same seed same order", func(t *testing.T) {
		assert.Equal(t, run(7, 16, 64), run(7, 16, 64))
	})

	t.Run("buffer larger than input", func(t *testing.T) {
		assert.Len(t, run(3, 1000, 5), 5)
	})
}
