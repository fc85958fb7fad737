// Package engine wires the outbox subsystems together. It creates the
// extension registry, job registry, middleware chain, executor and
// dispatcher, and provides the Enqueue and operator operations.
//
// This package exists to break the import cycle: the root outbox package
// defines Entity and the sentinel errors (imported by job, worker, etc.)
// and so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/backoff"
	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/idempotency"
	"github.com/xraph/outbox/job"
	mw "github.com/xraph/outbox/middleware"
	"github.com/xraph/outbox/observability"
	"github.com/xraph/outbox/throttle"
	"github.com/xraph/outbox/worker"
)

// Queue is the outbox handle. Build one with New and pass it to the code
// that enqueues work; there is no package-level queue.
type Queue struct {
	config     outbox.Config
	store      job.Store
	extensions *ext.Registry
	registry   *job.Registry
	guard      *idempotency.Guard
	policy     backoff.Policy
	logger     *slog.Logger
	now        func() time.Time

	mws             []mw.Middleware
	policySet       bool
	throttleConfigs []throttle.Config
	throttle        *throttle.Manager

	executor   *worker.Executor
	dispatcher *worker.Dispatcher

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	startOnce sync.Once
	startErr  error
}

// Option configures a Queue.
type Option func(*Queue)

// WithConfig replaces the default configuration.
func WithConfig(cfg outbox.Config) Option {
	return func(q *Queue) { q.config = cfg }
}

// WithLogger sets the logger used by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(q *Queue) { q.extensions.Register(e) }
}

// WithMiddleware appends middleware after the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(q *Queue) { q.mws = append(q.mws, m) }
}

// WithPolicy overrides the retry policy derived from the configuration.
func WithPolicy(p backoff.Policy) Option {
	return func(q *Queue) {
		q.policy = p
		q.policySet = true
	}
}

// WithThrottle adds per-type start limits on top of those in the
// configuration. Types not listed are unlimited.
func WithThrottle(configs ...throttle.Config) Option {
	return func(q *Queue) { q.throttleConfigs = append(q.throttleConfigs, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(q *Queue) { q.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the metrics
// middleware and the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(q *Queue) { q.meterProvider = mp }
}

// WithClock overrides the clock. It is used for created_at, next_run_at
// and due-job selection.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New builds a Queue over store.
func New(store job.Store, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, outbox.ErrNoStore
	}

	q := &Queue{
		config:   outbox.DefaultConfig(),
		store:    store,
		registry: job.NewRegistry(),
		guard:    idempotency.New(store),
		logger:   slog.Default(),
		now:      time.Now,
	}
	// Extensions registered through options need the registry to exist;
	// its logger is swapped once options are applied.
	q.extensions = ext.NewRegistry(q.logger)
	for _, opt := range opts {
		opt(q)
	}
	q.extensions.SetLogger(q.logger)

	if err := q.config.Validate(); err != nil {
		return nil, err
	}
	if !q.policySet {
		q.policy = backoff.Policy{
			Strategy:    backoff.NewTable(backoff.DefaultSchedule, q.config.BackoffJitter),
			MaxAttempts: q.config.MaxAttempts,
		}
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if q.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(q.tracerProvider.Tracer("github.com/xraph/outbox"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the metrics extension.
	var (
		metricsMw mw.Middleware
		obsExt    *observability.MetricsExtension
	)
	if q.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(q.meterProvider.Meter("github.com/xraph/outbox"))
		obsExt = observability.NewMetricsExtensionWithMeter(q.meterProvider.Meter("github.com/xraph/outbox/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	q.extensions.Register(obsExt)

	// Default stack: recover → tracing → metrics → logging → inject → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(q.logger),
		tracingMw,
		metricsMw,
		mw.Logging(q.logger),
		mw.InjectJob(),
		mw.Timeout(q.config.JobTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(q.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, q.mws...)

	q.executor = worker.NewExecutor(q.registry, q.extensions, store, q.policy, q.logger,
		worker.WithExecutorClock(q.now),
		worker.WithMiddleware(allMws...),
	)

	dispatcherOpts := []worker.DispatcherOption{
		worker.WithConcurrency(q.config.Concurrency),
		worker.WithPollInterval(q.config.PollInterval),
		worker.WithClock(q.now),
	}
	configs := append(throttle.FromRates(q.config.Throttle), q.throttleConfigs...)
	if len(configs) > 0 {
		q.throttle = throttle.NewManager(configs...)
		dispatcherOpts = append(dispatcherOpts, worker.WithThrottle(q.throttle))
	}
	q.dispatcher = worker.NewDispatcher(store, q.executor, q.extensions, q.logger, dispatcherOpts...)

	return q, nil
}

// Register registers a typed handler with the queue.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[P job.Payload, R any](q *Queue, def *job.Definition[P, R]) {
	job.RegisterDefinition(q.registry, def)
}

// EnqueueResult describes the job an Enqueue call resolved to.
type EnqueueResult struct {
	JobID         id.JobID        `json:"job_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        job.Status      `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	// Existing is true when key already belonged to a job and nothing was
	// inserted.
	Existing bool `json:"existing"`
}

// Enqueue validates payload and inserts a job for it under key. When key
// already belongs to a job, that job is returned instead; a succeeded job
// carries its stored result. Enqueue never fails because a job exists.
func (q *Queue) Enqueue(ctx context.Context, payload job.Payload, key string, opts ...job.Option) (*EnqueueResult, error) {
	raw, err := job.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	typ := payload.Type()
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %s", outbox.ErrUnknownJobType, typ)
	}

	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}

	adm, err := q.guard.Admit(ctx, key, func() (*job.Job, error) {
		now := q.now().UTC()
		runAt := now
		if !o.RunAt.IsZero() {
			runAt = o.RunAt.UTC()
		}
		maxAttempts := q.policy.MaxAttempts
		if o.MaxAttempts > 0 {
			maxAttempts = o.MaxAttempts
		}
		return &job.Job{
			Entity:        outbox.Entity{CreatedAt: now, UpdatedAt: now},
			ID:            id.NewJobID(),
			Type:          typ,
			Payload:       raw,
			CorrelationID: o.CorrelationID,
			Status:        job.StatusQueued,
			MaxAttempts:   maxAttempts,
			NextRunAt:     runAt,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", typ, err)
	}

	j := adm.Job
	res := &EnqueueResult{
		JobID:         j.ID,
		CorrelationID: j.CorrelationID,
		Status:        j.Status,
		Existing:      adm.Decision != idempotency.Created,
	}

	switch adm.Decision {
	case idempotency.Created:
		q.extensions.EmitJobAdded(ctx, j)
	case idempotency.Replayed:
		res.Result = j.Result
	case idempotency.Existing:
		q.logger.Debug("enqueue matched existing job",
			slog.String("job_id", j.ID.String()),
			slog.String("status", string(j.Status)),
		)
	}
	return res, nil
}

// GetStats aggregates the job table.
func (q *Queue) GetStats(ctx context.Context) (*job.Stats, error) {
	return q.store.Stats(ctx)
}

// ListJobs returns up to limit jobs in status, oldest first. An empty
// status lists every job; a zero limit means no limit.
func (q *Queue) ListJobs(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	return q.QueryJobs(ctx, job.ListOpts{Status: status, Limit: limit})
}

// QueryJobs lists jobs with the full set of filters.
func (q *Queue) QueryJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", outbox.ErrInvalidQuery, opts.Status)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", outbox.ErrInvalidQuery)
	}
	return q.store.ListJobs(ctx, opts)
}

// GetJob returns the job with jobID, or nil when there is none.
func (q *Queue) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := q.store.GetJob(ctx, jobID)
	if errors.Is(err, outbox.ErrJobNotFound) {
		return nil, nil
	}
	return j, err
}

// RetryJob requeues a dead job with its attempts reset, due now. It
// returns outbox.ErrNotRetryable for any other status and
// outbox.ErrJobNotFound when the job does not exist.
func (q *Queue) RetryJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusDead {
		return nil, fmt.Errorf("%w: job %s is %s", outbox.ErrNotRetryable, jobID, j.Status)
	}

	now := q.now().UTC()
	patch := job.Revive(now)
	if err := q.store.UpdateJob(ctx, jobID, patch); err != nil {
		if errors.Is(err, outbox.ErrStaleState) {
			return nil, fmt.Errorf("%w: job %s changed concurrently", outbox.ErrNotRetryable, jobID)
		}
		return nil, err
	}
	patch.Apply(j, now)

	q.logger.Info("dead job requeued", slog.String("job_id", jobID.String()))
	q.extensions.EmitJobRetried(ctx, j)
	return j, nil
}

// PurgeDead deletes every dead job and returns how many were removed.
func (q *Queue) PurgeDead(ctx context.Context) (int64, error) {
	n, err := q.store.DeleteJobs(ctx, job.StatusDead)
	if err != nil {
		return 0, err
	}
	q.logger.Info("dead jobs purged", slog.Int64("count", n))
	q.extensions.EmitJobsPurged(ctx, job.StatusDead, n)
	return n, nil
}

// Start recovers jobs left running by a previous process, when enabled,
// and starts the dispatcher. Only the first call has an effect.
func (q *Queue) Start(ctx context.Context) error {
	q.startOnce.Do(func() {
		if q.config.RecoverOnStart {
			rec, err := worker.Recover(ctx, q.store, q.policy.MaxAttempts, q.now().UTC(), q.logger)
			if err != nil {
				q.startErr = fmt.Errorf("recover interrupted jobs: %w", err)
				return
			}
			if rec.Requeued > 0 || rec.Buried > 0 {
				q.logger.Info("startup recovery finished",
					slog.Int("requeued", rec.Requeued),
					slog.Int("buried", rec.Buried),
				)
			}
		}
		q.startErr = q.dispatcher.Start(ctx)
	})
	return q.startErr
}

// Stop stops the dispatcher, waiting for running jobs until ctx expires,
// then notifies extensions.
func (q *Queue) Stop(ctx context.Context) error {
	err := q.dispatcher.Stop(ctx)
	q.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return err
}

// Tick runs a single dispatch pass without the background loop.
func (q *Queue) Tick(ctx context.Context) (int, error) {
	return q.dispatcher.Tick(ctx)
}

// Wait blocks until every job started by Tick or the loop has finished.
func (q *Queue) Wait() { q.dispatcher.Wait() }

// Running returns the number of jobs executing right now.
func (q *Queue) Running() int { return q.dispatcher.Running() }

// Config returns the effective configuration.
func (q *Queue) Config() outbox.Config { return q.config }

// Policy returns the retry policy.
func (q *Queue) Policy() backoff.Policy { return q.policy }

// Extensions returns the extension registry.
func (q *Queue) Extensions() *ext.Registry { return q.extensions }

// Registry returns the job registry.
func (q *Queue) Registry() *job.Registry { return q.registry }

// Store returns the job store.
func (q *Queue) Store() job.Store { return q.store }
