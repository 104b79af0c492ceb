package rate_limiter

import (
	"fmt"
	"strings"

	"golang.org/x/time/rate"
)

// Definition describes a Limiter
type Definition struct {
	// the limiter name
	Name string
	// optional rate limit on acquisitions, e.g. object store opens per second
	FillRate   rate.Limit
	BucketSize int64
	// the max number of concurrent holders
	MaxConcurrency int64
}

func (d *Definition) String() string {
	var parts []string
	if d.FillRate > 0 {
		parts = append(parts, fmt.Sprintf("Limit(/s): %v, Burst: %d", d.FillRate, d.BucketSize))
	}
	if d.MaxConcurrency > 0 {
		parts = append(parts, fmt.Sprintf("MaxConcurrency: %d", d.MaxConcurrency))
	}
	return strings.Join(parts, " ")
}

func (d *Definition) Validate() []string {
	var validationErrors []string
	if d.Name == "" {
		validationErrors = append(validationErrors, "rate limiter definition must specify a name")
	}
	if (d.FillRate == 0 || d.BucketSize == 0) && d.MaxConcurrency == 0 {
		validationErrors = append(validationErrors, "rate limiter definition must define either a rate limit or max concurrency")
	}
	if d.FillRate < 0 || d.BucketSize < 0 || d.MaxConcurrency < 0 {
		validationErrors = append(validationErrors, "rate limiter definition values must not be negative")
	}
	return validationErrors
}
