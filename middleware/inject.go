package middleware

import (
	"context"

	"github.com/xraph/outbox/job"
)

// InjectJob returns middleware that stores the executing job in the
// context so handlers can read its ID, attempts and idempotency key via
// job.FromContext.
func InjectJob() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(job.ContextWithJob(ctx, j))
	}
}
