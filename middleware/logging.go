package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/outbox/classify"
	"github.com/xraph/outbox/job"
)

// Logging logs each delivery attempt. Failures also record the error
// class and whether that class is retryable.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.LogAttrs(ctx, slog.LevelDebug, "delivering job", jobAttrs(j)...)

		start := time.Now()
		err := next(ctx)
		attrs := append(jobAttrs(j), slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			class := classify.Classify(err)
			attrs = append(attrs,
				slog.String("error", err.Error()),
				slog.String("class", class.String()),
				slog.Bool("retryable", class.Retryable()),
			)
			logger.LogAttrs(ctx, slog.LevelWarn, "delivery attempt failed", attrs...)
			return err
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "job delivered", attrs...)
		return nil
	}
}

// jobAttrs identifies j in log records. Attempt is 1-based.
func jobAttrs(j *job.Job) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempts+1),
		slog.Int("max_attempts", j.MaxAttempts),
	}
	if j.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", j.CorrelationID))
	}
	return attrs
}
