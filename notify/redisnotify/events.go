package redisnotify

import (
	"encoding/json"
	"time"

	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/job"
)

// Outbox lifecycle event types. Each constant maps to one ext lifecycle
// hook and is used as Message.Type.
const (
	EventJobAdded     = "outbox.job.added"
	EventJobStarted   = "outbox.job.started"
	EventJobSucceeded = "outbox.job.succeeded"
	EventJobFailed    = "outbox.job.failed"
	EventJobDead      = "outbox.job.dead"
	EventJobRetried   = "outbox.job.retried"
	EventJobsPurged   = "outbox.jobs.purged"
)

// AllEvents lists every event type the extension can publish.
var AllEvents = []string{
	EventJobAdded,
	EventJobStarted,
	EventJobSucceeded,
	EventJobFailed,
	EventJobDead,
	EventJobRetried,
	EventJobsPurged,
}

// Message is the JSON document published on the channel.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

// jobPayload is the common payload for job events.
type jobPayload struct {
	JobID         string `json:"job_id"`
	Type          string `json:"job_type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
}

func newJobPayload(j *job.Job) *jobPayload {
	return &jobPayload{
		JobID:         j.ID.String(),
		Type:          string(j.Type),
		CorrelationID: j.CorrelationID,
		Status:        string(j.Status),
		Attempts:      j.Attempts,
	}
}

// processedPayload is published for succeeded, failed and dead.
type processedPayload struct {
	jobPayload
	ElapsedMs int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

func newProcessedPayload(p ext.Processed) (string, *processedPayload) {
	out := &processedPayload{
		jobPayload: jobPayload{
			JobID:         p.JobID.String(),
			Type:          string(p.Type),
			CorrelationID: p.CorrelationID,
			Status:        string(p.Status),
			Attempts:      p.Attempts,
		},
		ElapsedMs: p.Elapsed.Milliseconds(),
		Error:     p.Error,
	}
	switch p.Outcome {
	case ext.OutcomeSucceeded:
		return EventJobSucceeded, out
	case ext.OutcomeRetrying:
		out.Status = string(job.StatusFailed)
		if !p.NextRunAt.IsZero() {
			out.NextRunAt = p.NextRunAt.UTC().Format(time.RFC3339)
		}
		return EventJobFailed, out
	default:
		return EventJobDead, out
	}
}

type purgedPayload struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}
