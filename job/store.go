package job

import (
	"context"
	"time"

	"github.com/xraph/outbox/id"
)

// ListOpts controls filtering and pagination for job list queries.
type ListOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// CorrelationID filters by correlation id. Empty means any.
	CorrelationID string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs.
type Store interface {
	// InsertJob persists a new job. It returns
	// outbox.ErrDuplicateIdempotencyKey when the key is taken.
	InsertJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID, or outbox.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindByIdempotencyKey retrieves the job holding key, or
	// outbox.ErrJobNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (*Job, error)

	// FindDue returns up to limit queued jobs with next_run_at <= now,
	// oldest created_at first with ties broken by ID.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// ListJobs returns jobs matching opts, oldest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// ListByStatus returns every job in status, oldest first.
	ListByStatus(ctx context.Context, status Status) ([]*Job, error)

	// UpdateJob applies p to the job as a single compare-and-update and
	// always touches updated_at. It returns outbox.ErrJobNotFound when the
	// job is absent and outbox.ErrStaleState when p.Expect does not match.
	UpdateJob(ctx context.Context, jobID id.JobID, p Patch) error

	// DeleteJobs removes every job in status and returns how many.
	DeleteJobs(ctx context.Context, status Status) (int64, error)

	// Stats aggregates counts, the oldest queued job and mean duration.
	Stats(ctx context.Context) (*Stats, error)
}
