package job_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

func newJob(status job.Status) *job.Job {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &job.Job{
		Entity:      outbox.Entity{CreatedAt: t0, UpdatedAt: t0},
		ID:          id.NewJobID(),
		Type:        job.TypeCreateLabel,
		Status:      status,
		MaxAttempts: 7,
		NextRunAt:   t0,
	}
}

func TestPatchTransitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

	t.Run("claim", func(t *testing.T) {
		j := newJob(job.StatusQueued)
		p := job.Claim()
		if p.Expect != job.StatusQueued {
			t.Fatalf("Expect = %q", p.Expect)
		}
		p.Apply(j, now)
		if j.Status != job.StatusRunning {
			t.Errorf("Status = %q", j.Status)
		}
		if !j.UpdatedAt.Equal(now) {
			t.Errorf("UpdatedAt = %v, want %v", j.UpdatedAt, now)
		}
	})

	t.Run("succeed", func(t *testing.T) {
		j := newJob(job.StatusRunning)
		j.Error = "503 Service Unavailable"
		job.Succeed(json.RawMessage(`{"labelId":"L1"}`)).Apply(j, now)
		if j.Status != job.StatusSucceeded || j.Error != "" || string(j.Result) != `{"labelId":"L1"}` {
			t.Errorf("job = %+v", j)
		}
	})

	t.Run("reschedule", func(t *testing.T) {
		j := newJob(job.StatusRunning)
		at := now.Add(time.Minute)
		job.Reschedule(1, at, "timeout").Apply(j, now)
		if j.Status != job.StatusQueued || j.Attempts != 1 || !j.NextRunAt.Equal(at) || j.Error != "timeout" {
			t.Errorf("job = %+v", j)
		}
	})

	t.Run("bury", func(t *testing.T) {
		j := newJob(job.StatusRunning)
		job.Bury(1, "404 Not Found").Apply(j, now)
		if j.Status != job.StatusDead || j.Attempts != 1 || j.Error != "404 Not Found" {
			t.Errorf("job = %+v", j)
		}
	})

	t.Run("revive", func(t *testing.T) {
		j := newJob(job.StatusDead)
		j.Attempts = 7
		j.Error = "gave up"
		p := job.Revive(now)
		if p.Expect != job.StatusDead {
			t.Fatalf("Expect = %q", p.Expect)
		}
		p.Apply(j, now)
		if j.Status != job.StatusQueued || j.Attempts != 0 || j.Error != "" || !j.NextRunAt.Equal(now) {
			t.Errorf("job = %+v", j)
		}
	})
}

func TestStatus(t *testing.T) {
	for _, s := range job.Statuses {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if job.Status("paused").Valid() {
		t.Error("paused should not be valid")
	}
	if !job.StatusSucceeded.Terminal() || !job.StatusDead.Terminal() || job.StatusQueued.Terminal() {
		t.Error("terminal statuses are succeeded and dead")
	}
	if !job.StatusSucceeded.Resolved() || !job.StatusFailed.Resolved() || job.StatusDead.Resolved() {
		t.Error("resolved statuses are succeeded and failed")
	}
}

func TestStatsAdd(t *testing.T) {
	var s job.Stats
	s.Add(job.StatusQueued, 2)
	s.Add(job.StatusDead, 3)
	s.Add("bogus", 5)
	if s.Total != 5 || s.Queued != 2 || s.Dead != 3 {
		t.Errorf("stats = %+v", s)
	}
	if s.Count(job.StatusDead) != 3 {
		t.Errorf("Count(dead) = %d", s.Count(job.StatusDead))
	}
}

func TestContextWithJob(t *testing.T) {
	j := newJob(job.StatusRunning)
	ctx := job.ContextWithJob(context.Background(), j)
	got, ok := job.FromContext(ctx)
	if !ok || got != j {
		t.Errorf("FromContext = %v, %v", got, ok)
	}
	if _, ok := job.FromContext(context.Background()); ok {
		t.Error("expected no job on bare context")
	}
}
