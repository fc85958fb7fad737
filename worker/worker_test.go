package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/backoff"
	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
	"github.com/xraph/outbox/middleware"
	"github.com/xraph/outbox/store/memory"
	"github.com/xraph/outbox/throttle"
	"github.com/xraph/outbox/worker"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock shared by store and worker.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects JobProcessed events.
type recorder struct {
	mu     sync.Mutex
	events []ext.Processed
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnJobProcessed(_ context.Context, p ext.Processed) error {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
	return nil
}

func (r *recorder) outcomes() []ext.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ext.Outcome, len(r.events))
	for i, e := range r.events {
		out[i] = e.Outcome
	}
	return out
}

type harness struct {
	clock      *fakeClock
	store      *memory.Store
	registry   *job.Registry
	rec        *recorder
	dispatcher *worker.Dispatcher
}

func newHarness(t *testing.T, concurrency int, opts ...worker.DispatcherOption) *harness {
	t.Helper()
	logger := slog.Default()
	clock := &fakeClock{now: base}
	s := memory.New(memory.WithClock(clock.Now))
	reg := job.NewRegistry()
	rec := &recorder{}
	extensions := ext.NewRegistry(logger)
	extensions.Register(rec)

	policy := backoff.Policy{Strategy: backoff.NewConstant(time.Minute), MaxAttempts: 7}
	executor := worker.NewExecutor(reg, extensions, s, policy, logger,
		worker.WithExecutorClock(clock.Now),
		worker.WithMiddleware(middleware.Recover(logger), middleware.InjectJob()),
	)
	opts = append([]worker.DispatcherOption{
		worker.WithConcurrency(concurrency),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithClock(clock.Now),
	}, opts...)
	d := worker.NewDispatcher(s, executor, extensions, logger, opts...)
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	return &harness{clock: clock, store: s, registry: reg, rec: rec, dispatcher: d}
}

func (h *harness) insert(t *testing.T, typ job.Type, payload string, createdAt time.Time) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:         outbox.Entity{CreatedAt: createdAt, UpdatedAt: createdAt},
		ID:             id.NewJobID(),
		Type:           typ,
		Payload:        json.RawMessage(payload),
		IdempotencyKey: "key-" + id.NewJobID().String(),
		Status:         job.StatusQueued,
		MaxAttempts:    7,
		NextRunAt:      createdAt,
	}
	if err := h.store.InsertJob(context.Background(), j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	return j
}

func (h *harness) tick(t *testing.T) int {
	t.Helper()
	n, err := h.dispatcher.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	h.dispatcher.Wait()
	return n
}

func (h *harness) get(t *testing.T, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func rawHandler(fn func(ctx context.Context) (json.RawMessage, error)) job.HandlerFunc {
	return func(ctx context.Context, _ []byte) (json.RawMessage, error) {
		return fn(ctx)
	}
}

func TestDispatcherTickNoJobs(t *testing.T) {
	h := newHarness(t, 2)
	if n := h.tick(t); n != 0 {
		t.Fatalf("started = %d, want 0", n)
	}
}

func TestDispatcherSkipsFutureJobs(t *testing.T) {
	h := newHarness(t, 2)
	h.registry.Register(job.TypeEventLog, rawHandler(func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"logged":true}`), nil
	}))
	j := h.insert(t, job.TypeEventLog, `{"event":"x"}`, base.Add(time.Minute))

	if n := h.tick(t); n != 0 {
		t.Fatalf("started = %d, want 0", n)
	}
	h.clock.Advance(time.Minute)
	if n := h.tick(t); n != 1 {
		t.Fatalf("started = %d, want 1", n)
	}
	if got := h.get(t, j.ID); got.Status != job.StatusSucceeded {
		t.Errorf("Status = %s, want succeeded", got.Status)
	}
}

func TestConcurrencyBound(t *testing.T) {
	h := newHarness(t, 2)

	release := make(chan struct{})
	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	h.registry.Register(job.TypeEventLog, rawHandler(func(context.Context) (json.RawMessage, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		<-release
		mu.Lock()
		current--
		mu.Unlock()
		return json.RawMessage(`{"logged":true}`), nil
	}))

	for i := range 10 {
		h.insert(t, job.TypeEventLog, `{"event":"e"}`, base.Add(-time.Duration(10-i)*time.Second))
	}

	ctx := context.Background()
	n, err := h.dispatcher.Tick(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Tick = %d, %v; want 2 started", n, err)
	}
	if n, _ := h.dispatcher.Tick(ctx); n != 0 {
		t.Fatalf("second Tick started %d jobs while at capacity", n)
	}
	if got := h.dispatcher.Running(); got != 2 {
		t.Fatalf("Running = %d, want 2", got)
	}
	stats, _ := h.store.Stats(ctx)
	if stats.Running != 2 || stats.Queued != 8 {
		t.Fatalf("stats running=%d queued=%d, want 2/8", stats.Running, stats.Queued)
	}

	close(release)
	h.dispatcher.Wait()
	for range 10 {
		h.tick(t)
	}

	stats, _ = h.store.Stats(ctx)
	if stats.Succeeded != 10 {
		t.Fatalf("succeeded = %d, want 10", stats.Succeeded)
	}
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestFairnessOldestFirst(t *testing.T) {
	h := newHarness(t, 1)
	var order []string
	h.registry.Register(job.TypeEventLog, rawHandler(func(ctx context.Context) (json.RawMessage, error) {
		j, _ := job.FromContext(ctx)
		order = append(order, j.ID.String())
		return nil, nil
	}))

	newer := h.insert(t, job.TypeEventLog, `{"event":"b"}`, base.Add(-time.Second))
	older := h.insert(t, job.TypeEventLog, `{"event":"a"}`, base.Add(-time.Minute))

	h.tick(t)
	h.tick(t)

	if len(order) != 2 || order[0] != older.ID.String() || order[1] != newer.ID.String() {
		t.Fatalf("order = %v, want older then newer", order)
	}
}

func TestScenarioServiceUnavailableThenSuccess(t *testing.T) {
	h := newHarness(t, 2)

	calls := 0
	h.registry.Register(job.TypeCreateLabel, rawHandler(func(context.Context) (json.RawMessage, error) {
		calls++
		if calls <= 3 {
			return nil, fmt.Errorf("label provider: 503 Service Unavailable")
		}
		return json.RawMessage(`{"labelId":"L1","trackingNumber":"1Z"}`), nil
	}))
	j := h.insert(t, job.TypeCreateLabel, `{"orderId":"O1"}`, base)

	for i := 0; i < 10; i++ {
		h.tick(t)
		got := h.get(t, j.ID)
		if got.Status == job.StatusSucceeded {
			break
		}
		if got.Status != job.StatusQueued {
			t.Fatalf("after attempt %d Status = %s, want queued", i+1, got.Status)
		}
		if want := h.clock.Now().Add(time.Minute); !got.NextRunAt.Equal(want) {
			t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, want)
		}
		h.clock.Advance(2 * time.Minute)
	}

	got := h.get(t, j.ID)
	if got.Status != job.StatusSucceeded {
		t.Fatalf("Status = %s, want succeeded", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}
	if calls != 4 {
		t.Errorf("handler calls = %d, want 4", calls)
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want cleared", got.Error)
	}
	if string(got.Result) != `{"labelId":"L1","trackingNumber":"1Z"}` {
		t.Errorf("Result = %s", got.Result)
	}

	want := []ext.Outcome{ext.OutcomeRetrying, ext.OutcomeRetrying, ext.OutcomeRetrying, ext.OutcomeSucceeded}
	outcomes := h.rec.outcomes()
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcomes[%d] = %s, want %s", i, outcomes[i], want[i])
		}
	}
}

func TestScenarioNotFoundIsDead(t *testing.T) {
	h := newHarness(t, 2)

	calls := 0
	h.registry.Register(job.TypeVoidLabel, rawHandler(func(context.Context) (json.RawMessage, error) {
		calls++
		return nil, fmt.Errorf("void label: 404 Not Found")
	}))
	j := h.insert(t, job.TypeVoidLabel, `{"labelId":"L404"}`, base)

	h.tick(t)
	h.clock.Advance(time.Hour)
	h.tick(t)

	got := h.get(t, j.ID)
	if got.Status != job.StatusDead {
		t.Fatalf("Status = %s, want dead", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if got.Error != "void label: 404 Not Found" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestDeadAtMaxAttempts(t *testing.T) {
	h := newHarness(t, 1)
	h.registry.Register(job.TypeCreateLabel, rawHandler(func(context.Context) (json.RawMessage, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}))
	j := h.insert(t, job.TypeCreateLabel, `{"orderId":"O1"}`, base)

	for range 20 {
		h.tick(t)
		h.clock.Advance(2 * time.Minute)
	}

	got := h.get(t, j.ID)
	if got.Status != job.StatusDead {
		t.Fatalf("Status = %s, want dead", got.Status)
	}
	if got.Attempts != got.MaxAttempts {
		t.Errorf("Attempts = %d, want %d", got.Attempts, got.MaxAttempts)
	}
}

func TestUnknownTypeIsDead(t *testing.T) {
	h := newHarness(t, 1)
	j := h.insert(t, job.TypeInventoryAdjust, `{"inventoryItemId":"I1","locationId":"L1","delta":1}`, base)

	h.tick(t)

	got := h.get(t, j.ID)
	if got.Status != job.StatusDead || got.Attempts != 1 {
		t.Fatalf("got %s/%d, want dead/1", got.Status, got.Attempts)
	}
}

func TestPanicIsRetried(t *testing.T) {
	h := newHarness(t, 1)
	h.registry.Register(job.TypeEventLog, rawHandler(func(context.Context) (json.RawMessage, error) {
		panic("printer on fire")
	}))
	j := h.insert(t, job.TypeEventLog, `{"event":"x"}`, base)

	h.tick(t)

	got := h.get(t, j.ID)
	if got.Status != job.StatusQueued || got.Attempts != 1 {
		t.Fatalf("got %s/%d, want queued/1", got.Status, got.Attempts)
	}
}

// denyThrottle refuses every job and counts calls.
type denyThrottle struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (d *denyThrottle) Acquire(job.Type) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquired++
	return false
}

func (d *denyThrottle) Release(job.Type) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
}

func TestThrottledJobStaysQueued(t *testing.T) {
	th := &denyThrottle{}
	h := newHarness(t, 2, worker.WithThrottle(th))
	h.registry.Register(job.TypeCreateLabel, rawHandler(func(context.Context) (json.RawMessage, error) {
		t.Error("throttled job must not run")
		return nil, nil
	}))
	j := h.insert(t, job.TypeCreateLabel, `{"orderId":"O1"}`, base)

	if n := h.tick(t); n != 0 {
		t.Fatalf("started = %d, want 0", n)
	}
	got := h.get(t, j.ID)
	if got.Status != job.StatusQueued || got.Attempts != 0 {
		t.Fatalf("got %s/%d, want queued/0", got.Status, got.Attempts)
	}
	if th.acquired != 1 {
		t.Errorf("acquired = %d, want 1", th.acquired)
	}
}

func TestThrottledTypeDoesNotStarveOthers(t *testing.T) {
	th := throttle.NewManager(throttle.Config{Type: job.TypeCreateLabel, RateLimit: 0.0001})
	h := newHarness(t, 2, worker.WithThrottle(th))

	var mu sync.Mutex
	ran := map[job.Type]int{}
	count := func(typ job.Type) job.HandlerFunc {
		return rawHandler(func(context.Context) (json.RawMessage, error) {
			mu.Lock()
			ran[typ]++
			mu.Unlock()
			return json.RawMessage(`{}`), nil
		})
	}
	h.registry.Register(job.TypeCreateLabel, count(job.TypeCreateLabel))
	h.registry.Register(job.TypeEventLog, count(job.TypeEventLog))

	labels := []*job.Job{
		h.insert(t, job.TypeCreateLabel, `{"orderId":"O1"}`, base.Add(-4*time.Second)),
		h.insert(t, job.TypeCreateLabel, `{"orderId":"O2"}`, base.Add(-3*time.Second)),
		h.insert(t, job.TypeCreateLabel, `{"orderId":"O3"}`, base.Add(-2*time.Second)),
	}
	logged := h.insert(t, job.TypeEventLog, `{"event":"x"}`, base.Add(-time.Second))

	if n := h.tick(t); n != 2 {
		t.Fatalf("first tick started = %d, want 2", n)
	}
	if got := h.get(t, logged.ID); got.Status != job.StatusSucceeded {
		t.Fatalf("event_log status = %s, want succeeded", got.Status)
	}
	if n := h.tick(t); n != 0 {
		t.Fatalf("second tick started = %d, want 0", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if ran[job.TypeCreateLabel] != 1 || ran[job.TypeEventLog] != 1 {
		t.Fatalf("ran = %v, want one create_label and one event_log", ran)
	}
	for _, j := range labels[1:] {
		if got := h.get(t, j.ID); got.Status != job.StatusQueued || got.Attempts != 0 {
			t.Errorf("%s: got %s/%d, want queued/0", j.ID, got.Status, got.Attempts)
		}
	}
}

// gatedStore blocks FindDue until release is closed.
type gatedStore struct {
	job.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	close(g.entered)
	<-g.release
	return g.Store.FindDue(ctx, now, limit)
}

func TestTickAfterStopDoesNotLaunch(t *testing.T) {
	logger := slog.Default()
	s := memory.New(memory.WithClock(func() time.Time { return base }))
	reg := job.NewRegistry()
	reg.Register(job.TypeEventLog, rawHandler(func(context.Context) (json.RawMessage, error) {
		t.Error("job must not run after Stop")
		return nil, nil
	}))
	extensions := ext.NewRegistry(logger)
	executor := worker.NewExecutor(reg, extensions, s, backoff.DefaultPolicy(), logger)
	gs := &gatedStore{Store: s, entered: make(chan struct{}), release: make(chan struct{})}
	d := worker.NewDispatcher(gs, executor, extensions, logger,
		worker.WithClock(func() time.Time { return base }),
	)

	j := &job.Job{
		Entity:         outbox.Entity{CreatedAt: base, UpdatedAt: base},
		ID:             id.NewJobID(),
		Type:           job.TypeEventLog,
		Payload:        json.RawMessage(`{"event":"x"}`),
		IdempotencyKey: "stop-race",
		Status:         job.StatusQueued,
		MaxAttempts:    7,
		NextRunAt:      base,
	}
	if err := s.InsertJob(context.Background(), j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := d.Tick(context.Background())
		done <- result{n, err}
	}()
	<-gs.entered

	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(gs.release)

	res := <-done
	if res.err != nil || res.n != 0 {
		t.Fatalf("Tick = %d, %v; want 0, nil", res.n, res.err)
	}
	d.Wait()

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusQueued || got.Attempts != 0 {
		t.Fatalf("got %s/%d, want queued/0", got.Status, got.Attempts)
	}
}

func TestStartStopRunsJobs(t *testing.T) {
	h := newHarness(t, 2)
	done := make(chan struct{})
	h.registry.Register(job.TypeEventLog, rawHandler(func(context.Context) (json.RawMessage, error) {
		close(done)
		return nil, nil
	}))
	h.insert(t, job.TypeEventLog, `{"event":"x"}`, base)

	ctx := context.Background()
	if err := h.dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.dispatcher.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.dispatcher.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.dispatcher.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStopCancelsAfterDeadline(t *testing.T) {
	h := newHarness(t, 1)
	started := make(chan struct{})
	h.registry.Register(job.TypeCreateLabel, rawHandler(func(ctx context.Context) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	j := h.insert(t, job.TypeCreateLabel, `{"orderId":"O1"}`, base)

	if _, err := h.dispatcher.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.dispatcher.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := h.get(t, j.ID)
	if got.Status != job.StatusQueued || got.Attempts != 1 {
		t.Fatalf("got %s/%d, want queued/1", got.Status, got.Attempts)
	}
}
