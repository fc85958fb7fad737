// Package stream provides a real-time event broker for outbox lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub; the api package serves it over WebSocket and SSE.
package stream

import (
	"encoding/json"
	"time"

	"github.com/xraph/outbox/id"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobAdded     EventType = "job.added"
	EventJobStarted   EventType = "job.started"
	EventJobSucceeded EventType = "job.succeeded"
	// EventJobFailed is a failed attempt that will be retried.
	EventJobFailed  EventType = "job.failed"
	EventJobDead    EventType = "job.dead"
	EventJobRetried EventType = "job.retried"

	EventJobsPurged EventType = "jobs.purged"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// ID uniquely identifies the event.
	ID id.EventID `json:"id"`

	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID         string `json:"job_id"`
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	ElapsedMs     int64  `json:"elapsed_ms,omitempty"`
	Error         string `json:"error,omitempty"`
	NextRunAt     string `json:"next_run_at,omitempty"`
}

// PurgeEventData is the payload for jobs.purged.
type PurgeEventData struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}
