package api

import (
	"log/slog"
	"net/http"
)

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Total          int64    `json:"total"`
	Queued         int64    `json:"queued"`
	Running        int64    `json:"running"`
	Succeeded      int64    `json:"succeeded"`
	Failed         int64    `json:"failed"`
	Dead           int64    `json:"dead"`
	OldestQueuedAt *string  `json:"oldest_queued_at,omitempty"`
	MeanDurationMs *float64 `json:"mean_duration_ms,omitempty"`

	// InFlight is the number of jobs executing in this process.
	InFlight int `json:"in_flight"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	s, err := a.q.GetStats(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := StatsResponse{
		Total:          s.Total,
		Queued:         s.Queued,
		Running:        s.Running,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		Dead:           s.Dead,
		MeanDurationMs: s.MeanDurationMs,
		InFlight:       a.q.Running(),
	}
	if s.OldestQueuedAt != nil {
		ts := s.OldestQueuedAt.UTC().Format(timeFormat)
		resp.OldestQueuedAt = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	for _, check := range a.checks {
		if err := check(r.Context()); err != nil {
			a.logger.WarnContext(r.Context(), "readiness check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "NOT_READY"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
