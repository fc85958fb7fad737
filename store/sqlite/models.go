package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:outbox_jobs"`

	ID             string  `bun:"id,pk"`
	Type           string  `bun:"type,notnull"`
	Payload        string  `bun:"payload,notnull"`
	IdempotencyKey string  `bun:"idempotency_key,notnull"`
	CorrelationID  string  `bun:"correlation_id,notnull"`
	Status         string  `bun:"status,notnull"`
	Attempts       int     `bun:"attempts,notnull"`
	MaxAttempts    int     `bun:"max_attempts,notnull"`
	NextRunAt      int64   `bun:"next_run_at,notnull"`
	LastError      string  `bun:"last_error,notnull"`
	Result         *string `bun:"result"`
	CreatedAt      int64   `bun:"created_at,notnull"`
	UpdatedAt      int64   `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:             j.ID.String(),
		Type:           string(j.Type),
		Payload:        string(j.Payload),
		IdempotencyKey: j.IdempotencyKey,
		CorrelationID:  j.CorrelationID,
		Status:         string(j.Status),
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		NextRunAt:      j.NextRunAt.UnixNano(),
		LastError:      j.Error,
		CreatedAt:      j.CreatedAt.UnixNano(),
		UpdatedAt:      j.UpdatedAt.UnixNano(),
	}
	if j.Result != nil {
		r := string(j.Result)
		m.Result = &r
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlite: parse job id %q: %w", m.ID, err)
	}
	j := &job.Job{
		Entity: outbox.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:             jobID,
		Type:           job.Type(m.Type),
		Payload:        json.RawMessage(m.Payload),
		IdempotencyKey: m.IdempotencyKey,
		CorrelationID:  m.CorrelationID,
		Status:         job.Status(m.Status),
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		NextRunAt:      fromNanos(m.NextRunAt),
		Error:          m.LastError,
	}
	if m.Result != nil {
		j.Result = json.RawMessage(*m.Result)
	}
	return j, nil
}

func fromModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
