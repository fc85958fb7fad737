package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/outbox/api"
	"github.com/xraph/outbox/engine"
	"github.com/xraph/outbox/job"
)

// EnqueueOption configures an Enqueue call.
type EnqueueOption func(*api.EnqueueRequest)

// WithCorrelationID groups the job with related jobs.
func WithCorrelationID(cid string) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.CorrelationID = cid }
}

// WithRunAt delays the first attempt.
func WithRunAt(t time.Time) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.RunAt = &t }
}

// WithMaxAttempts overrides the server's attempt cap for this job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.MaxAttempts = n }
}

// Enqueue submits payload under the idempotency key. A key that already
// belongs to a job returns that job, with its result once it succeeded.
func (c *Client) Enqueue(ctx context.Context, payload job.Payload, key string, opts ...EnqueueOption) (*engine.EnqueueResult, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", job.ErrInvalidPayload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req := api.EnqueueRequest{
		Type:           payload.Type(),
		Payload:        raw,
		IdempotencyKey: key,
	}
	for _, opt := range opts {
		opt(&req)
	}

	var res engine.EnqueueResult
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListOptions filters ListJobs.
type ListOptions struct {
	Status        job.Status
	CorrelationID string
	Limit         int
	Offset        int
}

// ListJobs lists jobs, oldest first.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) ([]*job.Job, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.CorrelationID != "" {
		q.Set("correlation_id", opts.CorrelationID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var jobs []*job.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// RetryJob requeues a dead job.
func (c *Client) RetryJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/retry", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// PurgeDead deletes every dead job and returns how many were removed.
func (c *Client) PurgeDead(ctx context.Context) (int64, error) {
	var res api.PurgeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/purge-dead", nil, &res); err != nil {
		return 0, err
	}
	return res.Purged, nil
}

// Stats retrieves queue statistics.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var res api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
