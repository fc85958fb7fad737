package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/job"
)

// Throttle gates job starts per job type. The dispatcher calls Acquire
// before claiming a due job and Release once the job finished or could
// not be claimed.
type Throttle interface {
	Acquire(t job.Type) bool
	Release(t job.Type)
}

// Dispatcher claims due jobs on a fixed tick and hands them to the
// Executor, keeping at most concurrency of them running.
type Dispatcher struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	throttle     Throttle
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	running  map[string]struct{}
	inFlight bool
	started  bool
	stopped  bool

	execCtx    context.Context
	cancelExec context.CancelFunc
	stopCh     chan struct{}
	loopDone   chan struct{}
	wg         sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConcurrency sets the maximum number of jobs running at once.
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithPollInterval sets the tick interval.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithThrottle sets the per-type throttle.
func WithThrottle(t Throttle) DispatcherOption {
	return func(d *Dispatcher) { d.throttle = t }
}

// WithClock overrides the clock used to select due jobs.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher. Defaults: concurrency 2, tick 5s.
func NewDispatcher(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  2,
		pollInterval: 5 * time.Second,
		logger:       logger,
		now:          time.Now,
		running:      make(map[string]struct{}),
		execCtx:      ctx,
		cancelExec:   cancel,
		stopCh:       make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Running returns the number of jobs currently executing.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// Wait blocks until every launched job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Tick runs one dispatch pass and returns how many jobs it started. It is
// a no-op while another pass is in flight, when every slot is busy, or
// after Stop.
//
// Due jobs that cannot start (throttled, or claimed elsewhere) do not use
// up a slot: the pass widens its window past them so later jobs of other
// types still start.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	d.mu.Lock()
	if d.stopped || d.inFlight || len(d.running) >= d.concurrency {
		d.mu.Unlock()
		return 0, nil
	}
	d.inFlight = true
	capacity := d.concurrency - len(d.running)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	var (
		started int
		limit   int
		skipped = make(map[string]struct{})
		blocked = make(map[job.Type]struct{})
	)
	for started < capacity && !d.isStopped() {
		limit = max(capacity-started+len(skipped), 2*limit)
		due, err := d.store.FindDue(ctx, d.now().UTC(), limit)
		if err != nil {
			return started, fmt.Errorf("find due jobs: %w", err)
		}

		fresh := 0
		for _, j := range due {
			if started >= capacity {
				break
			}
			key := j.ID.String()
			if _, seen := skipped[key]; seen {
				continue
			}
			fresh++
			if d.start(ctx, j, blocked) {
				started++
			} else {
				skipped[key] = struct{}{}
			}
		}
		if fresh == 0 || len(due) < limit {
			break
		}
	}
	return started, nil
}

// start claims j and launches it. It reports false when j stays queued.
// A type the throttle refused once is not asked again in the same pass.
func (d *Dispatcher) start(ctx context.Context, j *job.Job, blocked map[job.Type]struct{}) bool {
	if _, ok := blocked[j.Type]; ok {
		return false
	}
	if d.throttle != nil && !d.throttle.Acquire(j.Type) {
		blocked[j.Type] = struct{}{}
		d.logger.Debug("job throttled",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
		)
		return false
	}

	claim := job.Claim()
	if err := d.store.UpdateJob(ctx, j.ID, claim); err != nil {
		d.release(j.Type)
		if errors.Is(err, outbox.ErrStaleState) || errors.Is(err, outbox.ErrJobNotFound) {
			d.logger.Debug("job claimed elsewhere, skipping", slog.String("job_id", j.ID.String()))
			return false
		}
		d.logger.Error("claim failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	claim.Apply(j, d.now().UTC())

	if !d.launch(j) {
		d.release(j.Type)
		if err := d.store.UpdateJob(ctx, j.ID, job.Unclaim()); err != nil {
			d.logger.Warn("unclaim after stop failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return true
}

func (d *Dispatcher) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// launch runs j in its own goroutine. It refuses once Stop has begun, so
// wg.Add never races with the wait in Stop.
func (d *Dispatcher) launch(j *job.Job) bool {
	key := j.ID.String()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.running[key] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, key)
			d.mu.Unlock()
			d.release(j.Type)
		}()

		d.extensions.EmitJobStarted(d.execCtx, j)
		if err := d.executor.Execute(d.execCtx, j); err != nil {
			d.logger.Debug("job attempt failed",
				slog.String("job_id", key),
				slog.String("job_type", string(j.Type)),
				slog.String("error", err.Error()),
			)
		}
	}()
	return true
}

func (d *Dispatcher) release(t job.Type) {
	if d.throttle != nil {
		d.throttle.Release(t)
	}
}

// Start launches the tick loop. The first pass runs immediately. It
// returns at once; calling it twice is a no-op.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return nil
	}
	d.started = true

	d.logger.Info("dispatcher starting",
		slog.Int("concurrency", d.concurrency),
		slog.Duration("poll_interval", d.pollInterval),
	)

	go d.loop()
	return nil
}

func (d *Dispatcher) loop() {
	defer close(d.loopDone)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.Tick(d.execCtx); err != nil {
			d.logger.Error("dispatch tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the tick loop and waits for running jobs. When ctx expires
// first, running handlers are cancelled and Stop waits for them to
// record their outcome.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	d.mu.Unlock()

	d.logger.Info("dispatcher stopping")
	close(d.stopCh)
	if started {
		<-d.loopDone
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped gracefully")
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out, cancelling running jobs",
			slog.Int("running", d.Running()),
		)
		d.cancelExec()
		<-done
	}
	d.cancelExec()
	return nil
}
