// Package api serves the operator HTTP API: enqueue, inspect, retry and
// purge jobs, read queue stats and follow lifecycle events live.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/engine"
	"github.com/xraph/outbox/job"
	"github.com/xraph/outbox/stream"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// API wires the HTTP handlers to a Queue and a stream Broker.
type API struct {
	q       *engine.Queue
	broker  *stream.Broker
	logger  *slog.Logger
	checks  []HealthCheck
	metrics http.Handler
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for request failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithHealthCheck adds a readiness check to /healthz.
func WithHealthCheck(check HealthCheck) Option {
	return func(a *API) { a.checks = append(a.checks, check) }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// New creates an API. broker may be nil, in which case /v1/events is
// not served.
func New(q *engine.Queue, broker *stream.Broker, opts ...Option) *API {
	a := &API{
		q:      q,
		broker: broker,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.healthz)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.enqueue)
			r.Get("/", a.listJobs)
			r.Post("/purge-dead", a.purgeDead)
			r.Get("/{jobId}", a.getJob)
			r.Post("/{jobId}/retry", a.retryJob)
		})
		r.Get("/stats", a.stats)
		if a.broker != nil {
			r.Get("/events", a.events)
		}
	})
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client gone
}

// writeError maps err to a status code and writes it. Unexpected errors
// are logged and reported without detail.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "api request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, outbox.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, outbox.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, job.ErrInvalidPayload),
		errors.Is(err, outbox.ErrUnknownJobType),
		errors.Is(err, outbox.ErrInvalidQuery),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

const timeFormat = time.RFC3339Nano
