package context_values

import (
	"context"
	"fmt"

	"github.com/rs/xid"
	"github.com/turbot/pipe-fittings/contexthelpers"
)

var contextKeyRunId = contexthelpers.ContextKey("run_id")

// NewRunId returns a new globally unique, sortable run id
func NewRunId() string {
	return xid.New().String()
}

// WithRunId adds the run id to the context
func WithRunId(ctx context.Context, runId string) context.Context {
	return context.WithValue(ctx, contextKeyRunId, runId)
}

// RunIdFromContext returns the run id from the context
func RunIdFromContext(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is nil")
	}
	val, ok := ctx.Value(contextKeyRunId).(string)
	if !ok {
		return "", fmt.Errorf("no run id in context")
	}
	return val, nil
}

// EnsureRunId returns a context carrying a run id, generating one if the context does not already have one
func EnsureRunId(ctx context.Context) (context.Context, string) {
	if runId, err := RunIdFromContext(ctx); err == nil {
		return ctx, runId
	}
	runId := NewRunId()
	return WithRunId(ctx, runId), runId
}
