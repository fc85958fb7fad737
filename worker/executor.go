package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/backoff"
	"github.com/xraph/outbox/classify"
	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/job"
	"github.com/xraph/outbox/middleware"
)

// Executor runs a single claimed job through middleware and the registered
// handler, then persists the outcome and emits lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	policy     backoff.Policy
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorClock overrides the clock used for next_run_at.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithMiddleware sets the middleware chain wrapped around every handler.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	policy backoff.Policy,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		policy:     policy,
		mw:         middleware.Chain(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a job that has already been claimed (status running).
//
// On success the job becomes succeeded with the handler result. On a
// retryable failure under the attempt cap it returns to queued with a
// backoff delay. Any other failure dead-letters it. The returned error is
// the handler error, for logging only; the outcome is already persisted.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	start := time.Now()

	var result json.RawMessage
	handler, ok := e.registry.Get(j.Type)
	terminal := func(ctx context.Context) error {
		if !ok {
			return fmt.Errorf("%w: %s", outbox.ErrNoHandler, j.Type)
		}
		var err error
		result, err = handler(ctx, j.Payload)
		return err
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	// Persist the outcome even when ctx was cancelled by a shutdown.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		return e.handleFailure(ctx, j, err, elapsed)
	}
	return e.handleSuccess(ctx, j, result, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result json.RawMessage, elapsed time.Duration) error {
	patch := job.Succeed(result)
	if err := e.store.UpdateJob(ctx, j.ID, patch); err != nil {
		return e.updateFailed(j, "succeeded", err)
	}
	patch.Apply(j, e.now().UTC())

	e.extensions.EmitJobProcessed(ctx, ext.Processed{
		JobID:         j.ID,
		Type:          j.Type,
		CorrelationID: j.CorrelationID,
		Outcome:       ext.OutcomeSucceeded,
		Status:        j.Status,
		Attempts:      j.Attempts,
		Elapsed:       elapsed,
	})
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, elapsed time.Duration) error {
	now := e.now().UTC()
	attempts := j.Attempts + 1
	class := classify.Classify(handlerErr)
	msg := handlerErr.Error()

	var (
		delay time.Duration
		retry bool
	)
	if class.Retryable() {
		delay, retry = e.policy.Next(attempts, j.MaxAttempts)
	}

	var (
		patch   job.Patch
		outcome ext.Outcome
	)
	if retry {
		patch = job.Reschedule(attempts, now.Add(delay), msg)
		outcome = ext.OutcomeRetrying
	} else {
		patch = job.Bury(attempts, msg)
		outcome = ext.OutcomeDead
	}

	if err := e.store.UpdateJob(ctx, j.ID, patch); err != nil {
		_ = e.updateFailed(j, string(patch.Status), err)
		return handlerErr
	}
	patch.Apply(j, now)

	if retry {
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("class", class.String()),
			slog.Int("attempts", attempts),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("delay", delay),
		)
	} else {
		e.logger.Warn("job dead-lettered",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("class", class.String()),
			slog.Int("attempts", attempts),
			slog.String("error", msg),
		)
	}

	p := ext.Processed{
		JobID:         j.ID,
		Type:          j.Type,
		CorrelationID: j.CorrelationID,
		Outcome:       outcome,
		Status:        j.Status,
		Attempts:      attempts,
		Error:         msg,
		Elapsed:       elapsed,
	}
	if retry {
		p.NextRunAt = j.NextRunAt
	}
	e.extensions.EmitJobProcessed(ctx, p)

	return handlerErr
}

// updateFailed logs a store error after execution. A stale state means
// another writer moved the job; the outcome is dropped.
func (e *Executor) updateFailed(j *job.Job, to string, err error) error {
	if errors.Is(err, outbox.ErrStaleState) || errors.Is(err, outbox.ErrJobNotFound) {
		e.logger.Warn("job changed during execution, outcome dropped",
			slog.String("job_id", j.ID.String()),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return nil
	}
	e.logger.Error("failed to record job outcome",
		slog.String("job_id", j.ID.String()),
		slog.String("to", to),
		slog.String("error", err.Error()),
	)
	return err
}
