package rate_limiter

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds the number of concurrent holders and, optionally, the rate at which they are admitted
// A record stream uses one Limiter to cap the number of shard files being read at once
type Limiter struct {
	Name string

	// underlying rate limiter
	limiter *rate.Limiter
	// semaphore to control concurrency
	sem            *semaphore.Weighted
	maxConcurrency int64
}

func NewLimiter(d *Definition) (*Limiter, error) {
	if validationErrors := d.Validate(); len(validationErrors) > 0 {
		return nil, errors.New(strings.Join(validationErrors, "; "))
	}
	res := &Limiter{
		Name:           d.Name,
		maxConcurrency: d.MaxConcurrency,
	}
	if d.FillRate != 0 {
		res.limiter = rate.NewLimiter(d.FillRate, int(d.BucketSize))
	}
	if d.MaxConcurrency != 0 {
		res.sem = semaphore.NewWeighted(d.MaxConcurrency)
	}
	return res, nil
}

func (l *Limiter) String() string {
	d := Definition{Name: l.Name, MaxConcurrency: l.maxConcurrency}
	if l.limiter != nil {
		d.FillRate = l.limiter.Limit()
		d.BucketSize = int64(l.limiter.Burst())
	}
	return d.String()
}

// MaxConcurrency returns the concurrency cap, or 0 if unbounded
func (l *Limiter) MaxConcurrency() int64 {
	return l.maxConcurrency
}

// Wait blocks until a slot is available (and the rate limit allows) or the context is cancelled
// every successful Wait must be paired with a Release
func (l *Limiter) Wait(ctx context.Context) error {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			// give back the slot we took
			l.Release()
			return err
		}
	}
	return nil
}

func (l *Limiter) Release() {
	if l.sem == nil {
		return
	}
	l.sem.Release(1)
}
