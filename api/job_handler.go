package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// EnqueueRequest is the body of POST /v1/jobs.
type EnqueueRequest struct {
	Type           job.Type        `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	RunAt          *time.Time      `json:"run_at,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
}

// PurgeResponse is the body of POST /v1/jobs/purge-dead.
type PurgeResponse struct {
	Purged int64 `json:"purged"`
}

func (a *API) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: decode body: %v", errBadRequest, err))
		return
	}
	if !req.Type.Valid() {
		a.writeError(w, r, fmt.Errorf("%w: %q", outbox.ErrUnknownJobType, req.Type))
		return
	}
	if req.MaxAttempts < 0 {
		a.writeError(w, r, fmt.Errorf("%w: max_attempts must not be negative", errBadRequest))
		return
	}

	payload, err := job.DecodePayload(req.Type, req.Payload)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var opts []job.Option
	if req.CorrelationID != "" {
		opts = append(opts, job.WithCorrelationID(req.CorrelationID))
	}
	if req.RunAt != nil {
		opts = append(opts, job.WithRunAt(*req.RunAt))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}

	res, err := a.q.Enqueue(r.Context(), payload, req.IdempotencyKey, opts...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := job.ListOpts{
		Status:        job.Status(q.Get("status")),
		CorrelationID: q.Get("correlation_id"),
		Limit:         defaultListLimit,
	}

	var err error
	if opts.Limit, err = intParam(q.Get("limit"), defaultListLimit); err != nil {
		a.writeError(w, r, err)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		a.writeError(w, r, err)
		return
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}

	jobs, err := a.q.QueryJobs(r.Context(), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.q.GetJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if j == nil {
		a.writeError(w, r, fmt.Errorf("%w: %s", outbox.ErrJobNotFound, jobID))
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.q.RetryJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) purgeDead(w http.ResponseWriter, r *http.Request) {
	n, err := a.q.PurgeDead(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeResponse{Purged: n})
}

func jobIDParam(r *http.Request) (id.JobID, error) {
	raw := chi.URLParam(r, "jobId")
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		return id.JobID{}, fmt.Errorf("%w: invalid job ID %q", errBadRequest, raw)
	}
	return jobID, nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", outbox.ErrInvalidQuery, raw)
	}
	return n, nil
}
