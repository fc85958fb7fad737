package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/api"
	"github.com/xraph/outbox/classify"
	"github.com/xraph/outbox/client"
	"github.com/xraph/outbox/engine"
	"github.com/xraph/outbox/job"
	"github.com/xraph/outbox/store/memory"
	"github.com/xraph/outbox/stream"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupClientTest serves the operator API over a memory-backed queue and
// returns a client for it.
func setupClientTest(t *testing.T) (*client.Client, *engine.Queue) {
	t.Helper()

	broker := stream.NewBroker(testLogger())
	cfg := outbox.DefaultConfig()
	cfg.Store = "memory"

	q, err := engine.New(memory.New(),
		engine.WithConfig(cfg),
		engine.WithLogger(testLogger()),
		engine.WithExtension(broker),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	engine.Register(q, job.NewDefinition(func(_ context.Context, p job.EventLog) (job.EventLogResult, error) {
		if p.Event == "explode" {
			return job.EventLogResult{}, classify.Permanent(errors.New("boom"))
		}
		return job.EventLogResult{Logged: true}, nil
	}))

	ts := httptest.NewServer(api.New(q, broker, api.WithLogger(testLogger())).Handler())
	t.Cleanup(ts.Close)

	c, err := client.New(ts.URL, client.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c, q
}

func drain(t *testing.T, q *engine.Queue) {
	t.Helper()
	if _, err := q.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	q.Wait()
}

// ── Jobs ──────────────────────────────────────────────

func TestClient_EnqueueAndGet(t *testing.T) {
	c, q := setupClientTest(t)
	ctx := context.Background()

	res, err := c.Enqueue(ctx, job.EventLog{Event: "order.packed"}, "log:1", client.WithCorrelationID("order:1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Existing {
		t.Error("first enqueue reported Existing")
	}

	again, err := c.Enqueue(ctx, job.EventLog{Event: "order.packed"}, "log:1")
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if !again.Existing || again.JobID != res.JobID {
		t.Errorf("second enqueue = %+v, want existing %s", again, res.JobID)
	}

	drain(t, q)

	j, err := c.GetJob(ctx, res.JobID.String())
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusSucceeded {
		t.Errorf("Status = %s, want succeeded", j.Status)
	}
	if j.CorrelationID != "order:1" {
		t.Errorf("CorrelationID = %q", j.CorrelationID)
	}
}

func TestClient_Errors(t *testing.T) {
	c, _ := setupClientTest(t)
	ctx := context.Background()

	_, err := c.GetJob(ctx, "job_01h455vb4pex5vsknk084sn02q")
	if !errors.Is(err, outbox.ErrJobNotFound) {
		t.Errorf("GetJob missing: err = %v, want ErrJobNotFound", err)
	}

	_, err = c.Enqueue(ctx, job.EventLog{}, "k")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Errorf("invalid payload: err = %v, want 400", err)
	}
}

func TestClient_RetryPurgeAndStats(t *testing.T) {
	c, q := setupClientTest(t)
	ctx := context.Background()

	dead, err := c.Enqueue(ctx, job.EventLog{Event: "explode"}, "dead")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ok, err := c.Enqueue(ctx, job.EventLog{Event: "fine"}, "ok")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	drain(t, q)

	if _, err := c.RetryJob(ctx, ok.JobID.String()); !errors.Is(err, outbox.ErrNotRetryable) {
		t.Errorf("RetryJob(succeeded): err = %v, want ErrNotRetryable", err)
	}

	deadJobs, err := c.ListJobs(ctx, client.ListOptions{Status: job.StatusDead})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(deadJobs) != 1 || deadJobs[0].ID != dead.JobID {
		t.Fatalf("dead jobs = %v", deadJobs)
	}

	j, err := c.RetryJob(ctx, dead.JobID.String())
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if j.Status != job.StatusQueued || j.Attempts != 0 {
		t.Errorf("retried job = %s attempts %d", j.Status, j.Attempts)
	}

	drain(t, q)
	n, err := c.PurgeDead(ctx)
	if err != nil {
		t.Fatalf("PurgeDead: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 1 || stats.Succeeded != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// ── Subscriptions ─────────────────────────────────────

func TestClient_Subscribe(t *testing.T) {
	c, q := setupClientTest(t)
	ctx := context.Background()

	res, err := c.Enqueue(ctx, job.EventLog{Event: "x"}, "sub-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sub, err := c.Subscribe(ctx, stream.JobTopic(res.JobID.String()))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	drain(t, q)

	var got []stream.EventType
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed early, got %v", got)
			}
			got = append(got, evt.Type)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != stream.EventJobStarted || got[1] != stream.EventJobSucceeded {
		t.Errorf("events = %v, want started then succeeded", got)
	}
}

func TestClient_SubscribeInvalidTopic(t *testing.T) {
	c, _ := setupClientTest(t)
	if _, err := c.Subscribe(context.Background(), "printer:1"); err == nil {
		t.Error("expected error for unknown topic entity")
	}
}

func TestClient_SubscriptionCloses(t *testing.T) {
	c, _ := setupClientTest(t)

	sub, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel still open after Close")
	}
}
