package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

// InsertJob persists a new job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		// idempotency_key first: "outbox_jobs.id" is a prefix of it.
		if constraintOn(err, "idempotency_key") {
			return outbox.ErrDuplicateIdempotencyKey
		}
		if constraintOn(err, "id") {
			return outbox.ErrJobAlreadyExists
		}
		return fmt.Errorf("outbox/sqlite: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getOne(ctx, "get job", "id = ?", jobID.String())
}

// FindByIdempotencyKey retrieves the job holding key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	return s.getOne(ctx, "find by idempotency key", "idempotency_key = ?", key)
}

func (s *Store) getOne(ctx context.Context, op, where string, arg any) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).Where(where, arg).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outbox.ErrJobNotFound
		}
		return nil, fmt.Errorf("outbox/sqlite: %s: %w", op, err)
	}
	return fromJobModel(m)
}

// FindDue returns up to limit queued jobs due at now, oldest first.
func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", string(job.StatusQueued)).
		Where("next_run_at <= ?", now.UnixNano()).
		OrderExpr("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outbox/sqlite: find due: %w", err)
	}
	return fromModels(models)
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.CorrelationID != "" {
		q = q.Where("correlation_id = ?", opts.CorrelationID)
	}
	q = q.OrderExpr("created_at ASC, id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// SQLite only accepts OFFSET after a LIMIT.
			q = q.Limit(-1)
		}
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outbox/sqlite: list jobs: %w", err)
	}
	return fromModels(models)
}

// ListByStatus returns every job in status.
func (s *Store) ListByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	return s.ListJobs(ctx, job.ListOpts{Status: status})
}

// UpdateJob applies p as a single compare-and-update.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, p job.Patch) error {
	q := s.db.NewUpdate().
		TableExpr("outbox_jobs").
		Where("id = ?", jobID.String())
	q = applyPatch(q, p)
	q = q.Set("updated_at = ?", s.now().UnixNano())
	if p.Expect != "" {
		q = q.Where("status = ?", string(p.Expect))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("outbox/sqlite: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().TableExpr("outbox_jobs").Where("id = ?", jobID.String()).Exists(ctx)
	if err != nil {
		return fmt.Errorf("outbox/sqlite: update job: %w", err)
	}
	if !exists {
		return outbox.ErrJobNotFound
	}
	return outbox.ErrStaleState
}

func applyPatch(q *bun.UpdateQuery, p job.Patch) *bun.UpdateQuery {
	if p.Status != "" {
		q = q.Set("status = ?", string(p.Status))
	}
	if p.Attempts != nil {
		q = q.Set("attempts = ?", *p.Attempts)
	}
	if p.NextRunAt != nil {
		q = q.Set("next_run_at = ?", p.NextRunAt.UnixNano())
	}
	if p.Error != nil {
		q = q.Set("last_error = ?", *p.Error)
	}
	if p.Result != nil {
		q = q.Set("result = ?", string(p.Result))
	}
	return q
}

// DeleteJobs removes every job in status.
func (s *Store) DeleteJobs(ctx context.Context, status job.Status) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("outbox_jobs").
		Where("status = ?", string(status)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox/sqlite: delete jobs: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// Stats aggregates the job table.
func (s *Store) Stats(ctx context.Context) (*job.Stats, error) {
	stats := &job.Stats{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outbox_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlite: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("outbox/sqlite: stats scan: %w", err)
		}
		stats.Add(job.Status(status), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox/sqlite: stats: %w", err)
	}

	var oldest sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM outbox_jobs WHERE status = ?`,
		string(job.StatusQueued),
	).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlite: stats oldest: %w", err)
	}
	if oldest.Valid {
		at := fromNanos(oldest.Int64)
		stats.OldestQueuedAt = &at
	}

	var mean sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT AVG(updated_at - created_at) FROM outbox_jobs WHERE status IN (?, ?)`,
		string(job.StatusSucceeded), string(job.StatusFailed),
	).Scan(&mean)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlite: stats mean: %w", err)
	}
	if mean.Valid {
		ms := mean.Float64 / float64(time.Millisecond)
		stats.MeanDurationMs = &ms
	}
	return stats, nil
}
