package ext

import (
	"context"
	"time"

	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// Outcome is the result of one execution attempt.
type Outcome string

const (
	// OutcomeSucceeded means the handler returned a result.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeRetrying means the attempt failed and the job was requeued.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeDead means the attempt failed and the job will not run again.
	OutcomeDead Outcome = "dead"
)

// Processed describes a finished execution attempt.
type Processed struct {
	JobID         id.JobID
	Type          job.Type
	CorrelationID string
	Outcome       Outcome
	// Status is the status the job was left in.
	Status    job.Status
	Attempts  int
	Error     string
	NextRunAt time.Time
	Elapsed   time.Duration
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobAdded is called after a new job is inserted.
type JobAdded interface {
	OnJobAdded(ctx context.Context, j *job.Job) error
}

// JobStarted is called once a job has been claimed, before its handler runs.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProcessed is called after every execution attempt.
type JobProcessed interface {
	OnJobProcessed(ctx context.Context, p Processed) error
}

// JobRetried is called when an operator moves a dead job back to queued.
type JobRetried interface {
	OnJobRetried(ctx context.Context, j *job.Job) error
}

// JobsPurged is called after jobs in status were deleted.
type JobsPurged interface {
	OnJobsPurged(ctx context.Context, status job.Status, count int64) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
