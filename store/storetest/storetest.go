// Package storetest is the behavioural suite shared by every store
// backend. Backend tests call Run with a constructor for an empty store.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
	"github.com/xraph/outbox/store"
)

// Factory returns an empty, migrated store. It should register cleanup
// with t.Cleanup.
type Factory func(t *testing.T) store.Store

// Base is a millisecond-aligned reference time so every backend can
// round-trip it exactly.
var Base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewJob builds a job in status created at createdAt and due at createdAt.
func NewJob(status job.Status, createdAt time.Time) *job.Job {
	jobID := id.NewJobID()
	return &job.Job{
		Entity:         outbox.Entity{CreatedAt: createdAt, UpdatedAt: createdAt},
		ID:             jobID,
		Type:           job.TypeCreateLabel,
		Payload:        json.RawMessage(`{"orderId":"O1"}`),
		IdempotencyKey: "key-" + jobID.String(),
		Status:         status,
		MaxAttempts:    7,
		NextRunAt:      createdAt,
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"DuplicateIdempotencyKey", testDuplicateIdempotencyKey},
		{"GetMissing", testGetMissing},
		{"FindByIdempotencyKey", testFindByIdempotencyKey},
		{"FindDueFairness", testFindDueFairness},
		{"FindDueFilters", testFindDueFilters},
		{"UpdateJobCompareAndSet", testUpdateJobCompareAndSet},
		{"TerminalImmutable", testTerminalImmutable},
		{"ListJobs", testListJobs},
		{"DeleteJobs", testDeleteJobs},
		{"Stats", testStats},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.StatusQueued, Base)
	j.CorrelationID = "order-1001"

	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("ID = %q, want %q", got.ID, j.ID)
	}
	if got.Type != j.Type || got.Status != j.Status || got.IdempotencyKey != j.IdempotencyKey {
		t.Errorf("got %+v", got)
	}
	if got.CorrelationID != "order-1001" {
		t.Errorf("CorrelationID = %q", got.CorrelationID)
	}
	if got.MaxAttempts != 7 || got.Attempts != 0 {
		t.Errorf("attempts = %d/%d", got.Attempts, got.MaxAttempts)
	}
	if !got.CreatedAt.Equal(Base) || !got.NextRunAt.Equal(Base) {
		t.Errorf("CreatedAt = %v, NextRunAt = %v, want %v", got.CreatedAt, got.NextRunAt, Base)
	}
	assertJSON(t, got.Payload, j.Payload)

	if err := s.InsertJob(ctx, j); err == nil {
		t.Error("expected error inserting the same job twice")
	}
}

func testDuplicateIdempotencyKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewJob(job.StatusSucceeded, Base)
	b := NewJob(job.StatusQueued, Base.Add(time.Second))
	b.IdempotencyKey = a.IdempotencyKey

	if err := s.InsertJob(ctx, a); err != nil {
		t.Fatalf("InsertJob(a): %v", err)
	}
	if err := s.InsertJob(ctx, b); !errors.Is(err, outbox.ErrDuplicateIdempotencyKey) {
		t.Fatalf("InsertJob(b) = %v, want ErrDuplicateIdempotencyKey", err)
	}
	if _, err := s.GetJob(ctx, b.ID); !errors.Is(err, outbox.ErrJobNotFound) {
		t.Errorf("losing insert left a row behind: %v", err)
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, outbox.ErrJobNotFound) {
		t.Errorf("GetJob = %v, want ErrJobNotFound", err)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "nope"); !errors.Is(err, outbox.ErrJobNotFound) {
		t.Errorf("FindByIdempotencyKey = %v, want ErrJobNotFound", err)
	}
	if err := s.UpdateJob(ctx, id.NewJobID(), job.Claim()); !errors.Is(err, outbox.ErrJobNotFound) {
		t.Errorf("UpdateJob = %v, want ErrJobNotFound", err)
	}
}

func testFindByIdempotencyKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.StatusQueued, Base)
	mustInsert(t, s, j)

	got, err := s.FindByIdempotencyKey(ctx, j.IdempotencyKey)
	if err != nil {
		t.Fatalf("FindByIdempotencyKey: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("ID = %q, want %q", got.ID, j.ID)
	}
}

func testFindDueFairness(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := NewJob(job.StatusQueued, Base.Add(time.Second))
	a := NewJob(job.StatusQueued, Base)
	mustInsert(t, s, b)
	mustInsert(t, s, a)

	due, err := s.FindDue(ctx, Base.Add(time.Minute), 1)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("len(due) = %d, want 1", len(due))
	}
	if due[0].ID.String() != a.ID.String() {
		t.Errorf("FindDue returned %q, want the older job %q", due[0].ID, a.ID)
	}

	all, err := s.FindDue(ctx, Base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(all) != 2 || all[0].ID.String() != a.ID.String() || all[1].ID.String() != b.ID.String() {
		t.Errorf("FindDue order = %v", ids(all))
	}
}

func testFindDueFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Base.Add(time.Hour)

	due := NewJob(job.StatusQueued, Base)
	future := NewJob(job.StatusQueued, Base)
	future.NextRunAt = now.Add(time.Minute)
	running := NewJob(job.StatusRunning, Base)
	dead := NewJob(job.StatusDead, Base)
	succeeded := NewJob(job.StatusSucceeded, Base)
	for _, j := range []*job.Job{due, future, running, dead, succeeded} {
		mustInsert(t, s, j)
	}

	got, err := s.FindDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != due.ID.String() {
		t.Errorf("FindDue = %v, want only %q", ids(got), due.ID)
	}

	// next_run_at equal to now is due.
	got, err = s.FindDue(ctx, future.NextRunAt, 10)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("FindDue at boundary = %v, want 2 jobs", ids(got))
	}
}

func testUpdateJobCompareAndSet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.StatusQueued, Base)
	mustInsert(t, s, j)

	if err := s.UpdateJob(ctx, j.ID, job.Claim()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.UpdateJob(ctx, j.ID, job.Claim()); !errors.Is(err, outbox.ErrStaleState) {
		t.Fatalf("second claim = %v, want ErrStaleState", err)
	}

	next := Base.Add(5 * time.Minute)
	if err := s.UpdateJob(ctx, j.ID, job.Reschedule(1, next, "503 Service Unavailable")); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusQueued || got.Attempts != 1 || got.Error != "503 Service Unavailable" {
		t.Errorf("got %+v", got)
	}
	if !got.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}
	if !got.UpdatedAt.After(Base) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, Base)
	}
	if !got.CreatedAt.Equal(Base) {
		t.Errorf("CreatedAt changed to %v", got.CreatedAt)
	}
}

func testTerminalImmutable(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.StatusQueued, Base)
	mustInsert(t, s, j)

	if err := s.UpdateJob(ctx, j.ID, job.Claim()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.UpdateJob(ctx, j.ID, job.Succeed(json.RawMessage(`{"labelId":"L1"}`))); err != nil {
		t.Fatalf("succeed: %v", err)
	}

	for name, p := range map[string]job.Patch{
		"claim":      job.Claim(),
		"succeed":    job.Succeed(json.RawMessage(`{"labelId":"L2"}`)),
		"reschedule": job.Reschedule(1, Base, "x"),
		"bury":       job.Bury(1, "x"),
		"revive":     job.Revive(Base),
	} {
		if err := s.UpdateJob(ctx, j.ID, p); !errors.Is(err, outbox.ErrStaleState) {
			t.Errorf("%s on succeeded job = %v, want ErrStaleState", name, err)
		}
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusSucceeded || got.Attempts != 0 {
		t.Errorf("got %+v", got)
	}
	assertJSON(t, got.Result, json.RawMessage(`{"labelId":"L1"}`))
}

func testListJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	var queued []*job.Job
	for i := range 3 {
		j := NewJob(job.StatusQueued, Base.Add(time.Duration(i)*time.Second))
		j.CorrelationID = "order-1"
		queued = append(queued, j)
		mustInsert(t, s, j)
	}
	dead := NewJob(job.StatusDead, Base)
	dead.CorrelationID = "order-2"
	mustInsert(t, s, dead)

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}

	byStatus, err := s.ListJobs(ctx, job.ListOpts{Status: job.StatusQueued, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(byStatus) != 2 || byStatus[0].ID.String() != queued[1].ID.String() || byStatus[1].ID.String() != queued[2].ID.String() {
		t.Errorf("paged = %v", ids(byStatus))
	}

	byCorrelation, err := s.ListJobs(ctx, job.ListOpts{CorrelationID: "order-2"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(byCorrelation) != 1 || byCorrelation[0].ID.String() != dead.ID.String() {
		t.Errorf("by correlation = %v", ids(byCorrelation))
	}

	deadOnly, err := s.ListByStatus(ctx, job.StatusDead)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(deadOnly) != 1 {
		t.Errorf("ListByStatus(dead) = %v", ids(deadOnly))
	}
}

func testDeleteJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	var keep []*job.Job
	for i := range 3 {
		mustInsert(t, s, NewJob(job.StatusDead, Base.Add(time.Duration(i)*time.Second)))
	}
	for i := range 2 {
		j := NewJob(job.StatusSucceeded, Base.Add(time.Duration(i)*time.Second))
		keep = append(keep, j)
		mustInsert(t, s, j)
	}

	n, err := s.DeleteJobs(ctx, job.StatusDead)
	if err != nil {
		t.Fatalf("DeleteJobs: %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteJobs = %d, want 3", n)
	}
	for _, j := range keep {
		if _, err := s.GetJob(ctx, j.ID); err != nil {
			t.Errorf("succeeded job %q removed: %v", j.ID, err)
		}
	}

	if n, _ := s.DeleteJobs(ctx, job.StatusDead); n != 0 {
		t.Errorf("second DeleteJobs = %d, want 0", n)
	}
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if empty.Total != 0 || empty.OldestQueuedAt != nil || empty.MeanDurationMs != nil {
		t.Errorf("empty stats = %+v", empty)
	}

	oldQueued := NewJob(job.StatusQueued, Base)
	newQueued := NewJob(job.StatusQueued, Base.Add(time.Minute))
	running := NewJob(job.StatusRunning, Base)
	ok := NewJob(job.StatusSucceeded, Base)
	ok.UpdatedAt = Base.Add(2 * time.Second)
	failed := NewJob(job.StatusFailed, Base)
	failed.UpdatedAt = Base.Add(4 * time.Second)
	// Dead jobs are counted but kept out of the mean.
	dead := NewJob(job.StatusDead, Base)
	dead.UpdatedAt = Base.Add(time.Hour)
	for _, j := range []*job.Job{newQueued, oldQueued, running, ok, failed, dead} {
		mustInsert(t, s, j)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 6 || stats.Queued != 2 || stats.Running != 1 || stats.Succeeded != 1 || stats.Dead != 1 || stats.Failed != 1 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.OldestQueuedAt == nil || !stats.OldestQueuedAt.Equal(Base) {
		t.Errorf("OldestQueuedAt = %v, want %v", stats.OldestQueuedAt, Base)
	}
	if stats.MeanDurationMs == nil || math.Abs(*stats.MeanDurationMs-3000) > 1 {
		t.Errorf("MeanDurationMs = %v, want 3000", fmtPtr(stats.MeanDurationMs))
	}
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func mustInsert(t *testing.T, s store.Store, j *job.Job) {
	t.Helper()
	if err := s.InsertJob(context.Background(), j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
}

func ids(jobs []*job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID.String()
	}
	return out
}

func assertJSON(t *testing.T, got, want json.RawMessage) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal %s: %v", got, err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("unmarshal %s: %v", want, err)
	}
	if fmt.Sprint(g) != fmt.Sprint(w) {
		t.Errorf("json = %s, want %s", got, want)
	}
}

func fmtPtr(f *float64) string {
	if f == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%g", *f)
}
