package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/job"
)

// InterruptedError is recorded on jobs reset by Recover.
const InterruptedError = "interrupted: process stopped while the job was running"

// Recovery reports what Recover did.
type Recovery struct {
	Requeued int
	Buried   int
}

// Recover treats every running job as an interrupted attempt. Each one
// has its attempts incremented and goes back to queued, due at now, or to
// dead when the cap is reached. defaultMax applies to jobs without their
// own cap. Call it before the dispatcher starts.
func Recover(ctx context.Context, store job.Store, defaultMax int, now time.Time, logger *slog.Logger) (Recovery, error) {
	var rec Recovery

	running, err := store.ListByStatus(ctx, job.StatusRunning)
	if err != nil {
		return rec, fmt.Errorf("list running jobs: %w", err)
	}

	for _, j := range running {
		attempts := j.Attempts + 1
		limit := j.MaxAttempts
		if limit <= 0 {
			limit = defaultMax
		}

		var patch job.Patch
		if limit > 0 && attempts >= limit {
			patch = job.Bury(attempts, InterruptedError)
		} else {
			patch = job.Reschedule(attempts, now, InterruptedError)
		}

		if err := store.UpdateJob(ctx, j.ID, patch); err != nil {
			if errors.Is(err, outbox.ErrStaleState) {
				continue
			}
			return rec, fmt.Errorf("recover job %s: %w", j.ID, err)
		}

		if patch.Status == job.StatusDead {
			rec.Buried++
		} else {
			rec.Requeued++
		}
		logger.Warn("recovered interrupted job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("status", string(patch.Status)),
			slog.Int("attempts", attempts),
		)
	}
	return rec, nil
}
