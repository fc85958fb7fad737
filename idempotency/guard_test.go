package idempotency_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/idempotency"
	"github.com/xraph/outbox/job"
	"github.com/xraph/outbox/store/memory"
)

func factory(calls *int) idempotency.Factory {
	return func() (*job.Job, error) {
		if calls != nil {
			*calls++
		}
		now := time.Now().UTC()
		return &job.Job{
			Entity:      outbox.Entity{CreatedAt: now, UpdatedAt: now},
			ID:          id.NewJobID(),
			Type:        job.TypeCreateLabel,
			Payload:     json.RawMessage(`{"orderId":"O1"}`),
			Status:      job.StatusQueued,
			MaxAttempts: 7,
			NextRunAt:   now,
		}, nil
	}
}

func TestAdmitCreatesOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	g := idempotency.New(s)

	var calls int
	first, err := g.Admit(ctx, "order-1:label", factory(&calls))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if first.Decision != idempotency.Created {
		t.Fatalf("Decision = %v, want created", first.Decision)
	}
	if first.Job.IdempotencyKey != "order-1:label" {
		t.Errorf("IdempotencyKey = %q", first.Job.IdempotencyKey)
	}

	second, err := g.Admit(ctx, "order-1:label", factory(&calls))
	if err != nil {
		t.Fatalf("Admit again: %v", err)
	}
	if second.Decision != idempotency.Existing {
		t.Errorf("Decision = %v, want existing", second.Decision)
	}
	if second.Job.ID != first.Job.ID {
		t.Errorf("ID = %s, want %s", second.Job.ID, first.Job.ID)
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}
}

func TestAdmitReplaysSucceeded(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	g := idempotency.New(s)

	first, err := g.Admit(ctx, "k", factory(nil))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := s.UpdateJob(ctx, first.Job.ID, job.Claim()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.UpdateJob(ctx, first.Job.ID, job.Succeed(json.RawMessage(`{"labelId":"L1"}`))); err != nil {
		t.Fatalf("Succeed: %v", err)
	}

	got, err := g.Admit(ctx, "k", factory(nil))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got.Decision != idempotency.Replayed {
		t.Fatalf("Decision = %v, want replayed", got.Decision)
	}
	if string(got.Job.Result) != `{"labelId":"L1"}` {
		t.Errorf("Result = %s", got.Job.Result)
	}
}

func TestAdmitDeadIsExisting(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	g := idempotency.New(s)

	first, _ := g.Admit(ctx, "k", factory(nil))
	_ = s.UpdateJob(ctx, first.Job.ID, job.Claim())
	if err := s.UpdateJob(ctx, first.Job.ID, job.Bury(1, "404 Not Found")); err != nil {
		t.Fatalf("Bury: %v", err)
	}

	got, err := g.Admit(ctx, "k", factory(nil))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got.Decision != idempotency.Existing || got.Job.Status != job.StatusDead {
		t.Errorf("got %v/%s, want existing/dead", got.Decision, got.Job.Status)
	}
}

func TestAdmitEmptyKey(t *testing.T) {
	g := idempotency.New(memory.New())
	_, err := g.Admit(context.Background(), "", factory(nil))
	if !errors.Is(err, job.ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestAdmitFactoryError(t *testing.T) {
	g := idempotency.New(memory.New())
	boom := errors.New("boom")
	_, err := g.Admit(context.Background(), "k", func() (*job.Job, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

// racingStore hides the first insert from the lookup that precedes it, so
// the guard's insert loses to a concurrent writer.
type racingStore struct {
	*memory.Store
	once sync.Once
}

func (r *racingStore) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	var hide bool
	r.once.Do(func() {
		hide = true
		winner, _ := factory(nil)()
		winner.IdempotencyKey = key
		_ = r.Store.InsertJob(ctx, winner)
	})
	if hide {
		return nil, outbox.ErrJobNotFound
	}
	return r.Store.FindByIdempotencyKey(ctx, key)
}

func TestAdmitLosesRace(t *testing.T) {
	ctx := context.Background()
	s := &racingStore{Store: memory.New()}
	g := idempotency.New(s)

	got, err := g.Admit(ctx, "k", factory(nil))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got.Decision != idempotency.Existing {
		t.Errorf("Decision = %v, want existing", got.Decision)
	}

	all, _ := s.ListJobs(ctx, job.ListOpts{})
	if len(all) != 1 || all[0].ID != got.Job.ID {
		t.Errorf("store holds %d jobs, want only the winner", len(all))
	}
}
