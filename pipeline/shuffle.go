package pipeline

import (
	"context"
	"math/rand/v2"
)

// reservoir is a bounded shuffle buffer - once full, each incoming record replaces a uniformly
// chosen buffered record, which is emitted
// It is owned by the shuffle stage of a single stream and is never shared
type reservoir struct {
	size    int
	records [][]byte
	rng     *rand.Rand
}

func newReservoir(size int, seed uint64) *reservoir {
	if size < 1 {
		size = 1
	}
	return &reservoir{
		size:    size,
		records: make([][]byte, 0, size),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// add buffers rec, returning a record to emit once the buffer is full
func (r *reservoir) add(rec []byte) ([]byte, bool) {
	if len(r.records) < r.size {
		r.records = append(r.records, rec)
		return nil, false
	}
	i := r.rng.IntN(len(r.records))
	out := r.records[i]
	r.records[i] = rec
	return out, true
}

// pop removes and returns a uniformly chosen buffered record
func (r *reservoir) pop() ([]byte, bool) {
	n := len(r.records)
	if n == 0 {
		return nil, false
	}
	i := r.rng.IntN(n)
	out := r.records[i]
	r.records[i] = r.records[n-1]
	r.records[n-1] = nil
	r.records = r.records[:n-1]
	return out, true
}

// shuffle reads records from in and writes them to out in pseudo-random order, draining the
// buffer once in is closed
func shuffle(ctx context.Context, r *reservoir, in <-chan []byte, out chan<- []byte) error {
	defer close(out)
	for rec := range in {
		emit, ok := r.add(rec)
		if !ok {
			continue
		}
		if err := send(ctx, out, emit); err != nil {
			return err
		}
	}
	for {
		emit, ok := r.pop()
		if !ok {
			return ctx.Err()
		}
		if err := send(ctx, out, emit); err != nil {
			return err
		}
	}
}

// send writes v to ch, giving up if the context is cancelled
func send[V any](ctx context.Context, ch chan<- V, v V) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
