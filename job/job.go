package job

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job is waiting for its next_run_at.
	StatusQueued Status = "queued"
	// StatusRunning means a worker has claimed the job.
	StatusRunning Status = "running"
	// StatusSucceeded means the handler returned a result. Terminal.
	StatusSucceeded Status = "succeeded"
	// StatusFailed is reported on events for a failed attempt that will be
	// retried. Jobs are never stored in this state.
	StatusFailed Status = "failed"
	// StatusDead means the job hit a permanent error or ran out of
	// attempts. Terminal until an operator retries it.
	StatusDead Status = "dead"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusDead}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusDead
}

// Resolved reports whether s counts towards the mean duration in Stats.
// Dead jobs are excluded.
func (s Status) Resolved() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is a durable, retryable side effect.
type Job struct {
	outbox.Entity

	ID             id.JobID        `json:"id"`
	Type           Type            `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	NextRunAt      time.Time       `json:"next_run_at"`
	Error          string          `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload = slices.Clone(j.Payload)
	cp.Result = slices.Clone(j.Result)
	return &cp
}

// Due reports whether j may be picked up at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == StatusQueued && !j.NextRunAt.After(now)
}

type ctxKey struct{}

// ContextWithJob returns a context carrying j. The executor attaches the
// running job so handlers can read its idempotency key.
func ContextWithJob(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the job attached by ContextWithJob.
func FromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(ctxKey{}).(*Job)
	return j, ok
}
