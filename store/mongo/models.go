package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

// jobModel is the BSON document shape. Payload and result are kept as JSON
// text so they round-trip byte for byte.
type jobModel struct {
	ID             string    `bson:"_id"`
	Type           string    `bson:"type"`
	Payload        string    `bson:"payload"`
	IdempotencyKey string    `bson:"idempotency_key"`
	CorrelationID  string    `bson:"correlation_id"`
	Status         string    `bson:"status"`
	Attempts       int       `bson:"attempts"`
	MaxAttempts    int       `bson:"max_attempts"`
	NextRunAt      time.Time `bson:"next_run_at"`
	LastError      string    `bson:"last_error"`
	Result         *string   `bson:"result,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
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
		NextRunAt:      j.NextRunAt.UTC(),
		LastError:      j.Error,
		CreatedAt:      j.CreatedAt.UTC(),
		UpdatedAt:      j.UpdatedAt.UTC(),
	}
	if j.Result != nil {
		r := string(j.Result)
		m.Result = &r
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("outbox/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: outbox.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             parsedID,
		Type:           job.Type(m.Type),
		Payload:        json.RawMessage(m.Payload),
		IdempotencyKey: m.IdempotencyKey,
		CorrelationID:  m.CorrelationID,
		Status:         job.Status(m.Status),
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		NextRunAt:      m.NextRunAt.UTC(),
		Error:          m.LastError,
	}
	if m.Result != nil {
		j.Result = json.RawMessage(*m.Result)
	}
	return j, nil
}
