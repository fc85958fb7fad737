package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

const jobColumns = `id, type, payload, idempotency_key, correlation_id, status,
	attempts, max_attempts, next_run_at, last_error, result, created_at, updated_at`

// InsertJob persists a new job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		j.ID.String(), string(j.Type), []byte(j.Payload), j.IdempotencyKey, j.CorrelationID,
		string(j.Status), j.Attempts, j.MaxAttempts, j.NextRunAt, j.Error,
		nullableJSON(j.Result), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "outbox_jobs_idempotency_key_key" {
				return outbox.ErrDuplicateIdempotencyKey
			}
			return outbox.ErrJobAlreadyExists
		}
		return fmt.Errorf("outbox/postgres: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM outbox_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, outbox.ErrJobNotFound
		}
		return nil, fmt.Errorf("outbox/postgres: get job: %w", err)
	}
	return j, nil
}

// FindByIdempotencyKey retrieves the job holding key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM outbox_jobs WHERE idempotency_key = $1`, key)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, outbox.ErrJobNotFound
		}
		return nil, fmt.Errorf("outbox/postgres: find by idempotency key: %w", err)
	}
	return j, nil
}

// FindDue returns up to limit queued jobs due at now, oldest first.
func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM outbox_jobs
		WHERE status = $1 AND next_run_at <= $2
		ORDER BY created_at ASC, id ASC`
	args := []any{string(job.StatusQueued), now}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox/postgres: find due: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if opts.CorrelationID != "" {
		args = append(args, opts.CorrelationID)
		where = append(where, "correlation_id = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM outbox_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox/postgres: list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListByStatus returns every job in status.
func (s *Store) ListByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	return s.ListJobs(ctx, job.ListOpts{Status: status})
}

// UpdateJob applies p as a single compare-and-update.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, p job.Patch) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if p.Status != "" {
		set("status", string(p.Status))
	}
	if p.Attempts != nil {
		set("attempts", *p.Attempts)
	}
	if p.NextRunAt != nil {
		set("next_run_at", *p.NextRunAt)
	}
	if p.Error != nil {
		set("last_error", *p.Error)
	}
	if p.Result != nil {
		set("result", []byte(p.Result))
	}
	set("updated_at", s.now().UTC())

	args = append(args, jobID.String())
	query := `UPDATE outbox_jobs SET ` + strings.Join(sets, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args))
	if p.Expect != "" {
		args = append(args, string(p.Expect))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("outbox/postgres: update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM outbox_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("outbox/postgres: update job: %w", err)
	}
	if !exists {
		return outbox.ErrJobNotFound
	}
	return outbox.ErrStaleState
}

// DeleteJobs removes every job in status.
func (s *Store) DeleteJobs(ctx context.Context, status job.Status) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM outbox_jobs WHERE status = $1`, string(status))
	if err != nil {
		return 0, fmt.Errorf("outbox/postgres: delete jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats aggregates the job table.
func (s *Store) Stats(ctx context.Context) (*job.Stats, error) {
	stats := &job.Stats{}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM outbox_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("outbox/postgres: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("outbox/postgres: stats scan: %w", err)
		}
		stats.Add(job.Status(status), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox/postgres: stats: %w", err)
	}

	var (
		oldest *time.Time
		mean   *float64
	)
	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT MIN(created_at) FROM outbox_jobs WHERE status = $1),
			(SELECT AVG(EXTRACT(EPOCH FROM (updated_at - created_at)) * 1000)::float8
			   FROM outbox_jobs WHERE status = ANY($2))`,
		string(job.StatusQueued),
		[]string{string(job.StatusSucceeded), string(job.StatusFailed)},
	).Scan(&oldest, &mean)
	if err != nil {
		return nil, fmt.Errorf("outbox/postgres: stats aggregates: %w", err)
	}
	if oldest != nil {
		at := oldest.UTC()
		stats.OldestQueuedAt = &at
	}
	stats.MeanDurationMs = mean
	return stats, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j       job.Job
		idStr   string
		typ     string
		status  string
		payload []byte
		result  []byte
	)
	err := row.Scan(
		&idStr, &typ, &payload, &j.IdempotencyKey, &j.CorrelationID, &status,
		&j.Attempts, &j.MaxAttempts, &j.NextRunAt, &j.Error, &result,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("outbox/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.Type = job.Type(typ)
	j.Status = job.Status(status)
	j.Payload = json.RawMessage(payload)
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	j.NextRunAt = j.NextRunAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}
