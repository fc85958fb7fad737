package middleware

import (
	"context"
	"time"

	"github.com/xraph/outbox/job"
)

// Timeout returns middleware that bounds every handler call by d. When the
// deadline passes the context is cancelled and a well-behaved handler
// returns context.DeadlineExceeded, which is classified as retryable.
// A zero d disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
