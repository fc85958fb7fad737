package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/outbox/job"
)

// Recover turns a handler panic into an ordinary attempt failure, so the
// job is retried like any other unclassified error.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			attrs := append(jobAttrs(j),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			logger.LogAttrs(ctx, slog.LevelError, "handler panicked", attrs...)
			retErr = fmt.Errorf("%s handler panicked: %v", j.Type, r)
		}()
		return next(ctx)
	}
}
