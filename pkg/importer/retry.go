package importer

import (
	"context"
	"time"
)

// RetryPolicy bounds the attempt loop for one item. The backoff is fixed:
// after a failed attempt the worker waits the full interval inside its
// concurrency slot before retrying.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is three attempts with a 10 second pause between them.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     10 * time.Second,
}

// Wait blocks for the backoff interval or until the context is done.
func (p RetryPolicy) Wait(ctx context.Context) error {
	timer := time.NewTimer(p.Backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
