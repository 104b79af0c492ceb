package rate_limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name      string
		def       Definition
		wantCount int
	}{
		{name: "concurrency only", def: Definition{Name: "readers", MaxConcurrency: 4}},
		{name: "rate only", def: Definition{Name: "opens", FillRate: 10, BucketSize: 1}},
		{name: "no name", def: Definition{MaxConcurrency: 4}, wantCount: 1},
		{name: "no limits", def: Definition{Name: "x"}, wantCount: 1},
		{name: "negative", def: Definition{Name: "x", MaxConcurrency: -1}, wantCount: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.def.Validate(), tt.wantCount)
		})
	}
}

func TestLimiter_BoundsConcurrency(t *testing.T) {
	l, err := NewLimiter(&Definition{Name: "readers", MaxConcurrency: 3})
	require.NoError(t, err)

	var active, maxActive int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, l.Wait(context.Background())) {
				return
			}
			defer l.Release()
			n := atomic.AddInt64(&active, 1)
			for {
				m := atomic.LoadInt64(&maxActive)
				if n <= m || atomic.CompareAndSwapInt64(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&active, -1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxActive, int64(3))
	assert.Equal(t, int64(3), l.MaxConcurrency())
}

func TestLimiter_WaitCancelled(t *testing.T) {
	l, err := NewLimiter(&Definition{Name: "readers", MaxConcurrency: 1})
	require.NoError(t, err)
	require.NoError(t, l.Wait(context.Background()))

	// the only slot is held, so a bounded wait times out
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)

	l.Release()
	assert.NoError(t, l.Wait(context.Background()))
	l.Release()
}

func TestLimiter_FillRate(t *testing.T) {
	l, err := NewLimiter(&Definition{Name: "opens", FillRate: 1, BucketSize: 1, MaxConcurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, "Limit(/s): 1, Burst: 1 MaxConcurrency: 4", l.String())

	// the burst admits one holder straight away
	require.NoError(t, l.Wait(context.Background()))
	l.Release()

	// the next token is a second away, so a short wait fails and gives its slot back
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
	for range 4 {
		require.True(t, l.sem.TryAcquire(1))
	}
}

func TestNewLimiter_Invalid(t *testing.T) {
	_, err := NewLimiter(&Definition{})
	assert.Error(t, err)
}
