package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls     []string
	processed []ext.Processed
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobAdded")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobProcessed(_ context.Context, p ext.Processed) error {
	e.calls = append(e.calls, "OnJobProcessed")
	e.processed = append(e.processed, p)
	return nil
}

func (e *allHooksExt) OnJobRetried(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobRetried")
	return nil
}

func (e *allHooksExt) OnJobsPurged(_ context.Context, _ job.Status, _ int64) error {
	e.calls = append(e.calls, "OnJobsPurged")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// addedOnlyExt implements only JobAdded.
type addedOnlyExt struct {
	added int
}

func (e *addedOnlyExt) Name() string { return "added-only" }

func (e *addedOnlyExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	e.added++
	return nil
}

// failingExt returns an error from every hook it implements.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	return errors.New("sink unavailable")
}

// panickingExt panics from its hook.
type panickingExt struct{}

func (e *panickingExt) Name() string { return "panicking" }

func (e *panickingExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	panic("boom")
}

// mutatingExt tries to change the job it was handed.
type mutatingExt struct{}

func (e *mutatingExt) Name() string { return "mutating" }

func (e *mutatingExt) OnJobStarted(_ context.Context, j *job.Job) error {
	j.Status = job.StatusDead
	return nil
}

func newJob() *job.Job {
	return &job.Job{
		ID:     id.NewJobID(),
		Type:   job.TypeCreateLabel,
		Status: job.StatusQueued,
	}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistryEmitsAllHooks(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &allHooksExt{}
	r.Register(e)

	ctx := context.Background()
	j := newJob()

	r.EmitJobAdded(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobProcessed(ctx, ext.Processed{
		JobID:   j.ID,
		Type:    j.Type,
		Outcome: ext.OutcomeSucceeded,
		Status:  job.StatusSucceeded,
		Elapsed: 10 * time.Millisecond,
	})
	r.EmitJobRetried(ctx, j)
	r.EmitJobsPurged(ctx, job.StatusDead, 3)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobAdded", "OnJobStarted", "OnJobProcessed",
		"OnJobRetried", "OnJobsPurged", "OnShutdown",
	}
	if len(e.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", e.calls, want)
	}
	for i := range want {
		if e.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, e.calls[i], want[i])
		}
	}
	if e.processed[0].Outcome != ext.OutcomeSucceeded || e.processed[0].JobID != j.ID {
		t.Errorf("processed = %+v", e.processed[0])
	}
}

func TestRegistryOptIn(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &addedOnlyExt{}
	r.Register(e)

	ctx := context.Background()
	r.EmitJobAdded(ctx, newJob())
	r.EmitJobStarted(ctx, newJob())
	r.EmitShutdown(ctx)

	if e.added != 1 {
		t.Errorf("added = %d, want 1", e.added)
	}
	if got := len(r.Extensions()); got != 1 {
		t.Errorf("Extensions() len = %d, want 1", got)
	}
}

func TestRegistrySwallowsErrorsAndPanics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := ext.NewRegistry(logger)

	after := &addedOnlyExt{}
	r.Register(&failingExt{})
	r.Register(&panickingExt{})
	r.Register(after)

	r.EmitJobAdded(context.Background(), newJob())

	if after.added != 1 {
		t.Errorf("extension after failing ones was not notified")
	}
	out := buf.String()
	if !strings.Contains(out, "sink unavailable") {
		t.Errorf("log missing hook error: %s", out)
	}
	if !strings.Contains(out, "panic: boom") {
		t.Errorf("log missing recovered panic: %s", out)
	}
}

func TestRegistryPassesCopies(t *testing.T) {
	r := ext.NewRegistry(nil)
	r.Register(&mutatingExt{})

	j := newJob()
	r.EmitJobStarted(context.Background(), j)

	if j.Status != job.StatusQueued {
		t.Errorf("Status = %q, extension mutated the caller's job", j.Status)
	}
}
