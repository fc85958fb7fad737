package job

import "time"

// Stats aggregates the job table for operator dashboards.
type Stats struct {
	Total     int64 `json:"total"`
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Dead      int64 `json:"dead"`

	// OldestQueuedAt is the created_at of the oldest queued job.
	OldestQueuedAt *time.Time `json:"oldest_queued_at,omitempty"`

	// MeanDurationMs is the mean of updated_at - created_at over succeeded
	// and failed jobs, in milliseconds.
	MeanDurationMs *float64 `json:"mean_duration_ms,omitempty"`
}

// Add counts n jobs in status s.
func (s *Stats) Add(status Status, n int64) {
	switch status {
	case StatusQueued:
		s.Queued += n
	case StatusRunning:
		s.Running += n
	case StatusSucceeded:
		s.Succeeded += n
	case StatusFailed:
		s.Failed += n
	case StatusDead:
		s.Dead += n
	default:
		return
	}
	s.Total += n
}

// Count returns the number of jobs in status.
func (s *Stats) Count(status Status) int64 {
	switch status {
	case StatusQueued:
		return s.Queued
	case StatusRunning:
		return s.Running
	case StatusSucceeded:
		return s.Succeeded
	case StatusFailed:
		return s.Failed
	case StatusDead:
		return s.Dead
	}
	return 0
}
