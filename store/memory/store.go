package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
	"github.com/xraph/outbox/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job
	keys map[string]string // idempotency key -> job id

	now func() time.Time
}

// Option configures a memory Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs: make(map[string]*job.Job),
		keys: make(map[string]string),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// InsertJob persists a new job.
func (m *Store) InsertJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return outbox.ErrJobAlreadyExists
	}
	if _, taken := m.keys[j.IdempotencyKey]; taken {
		return outbox.ErrDuplicateIdempotencyKey
	}
	m.jobs[key] = j.Clone()
	m.keys[j.IdempotencyKey] = key
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, outbox.ErrJobNotFound
	}
	return j.Clone(), nil
}

// FindByIdempotencyKey retrieves the job holding key.
func (m *Store) FindByIdempotencyKey(_ context.Context, key string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobID, ok := m.keys[key]
	if !ok {
		return nil, outbox.ErrJobNotFound
	}
	return m.jobs[jobID].Clone(), nil
}

// FindDue returns up to limit queued jobs due at now, oldest first.
func (m *Store) FindDue(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Due(now) {
			due = append(due, j.Clone())
		}
	}
	sortOldestFirst(due)

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListJobs returns jobs matching opts, oldest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.CorrelationID != "" && j.CorrelationID != opts.CorrelationID {
			continue
		}
		result = append(result, j.Clone())
	}
	sortOldestFirst(result)

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ListByStatus returns every job in status.
func (m *Store) ListByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	return m.ListJobs(ctx, job.ListOpts{Status: status})
}

// UpdateJob applies p as a compare-and-update.
func (m *Store) UpdateJob(_ context.Context, jobID id.JobID, p job.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return outbox.ErrJobNotFound
	}
	if p.Expect != "" && j.Status != p.Expect {
		return outbox.ErrStaleState
	}
	p.Apply(j, m.now())
	return nil
}

// DeleteJobs removes every job in status.
func (m *Store) DeleteJobs(_ context.Context, status job.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, j := range m.jobs {
		if j.Status != status {
			continue
		}
		delete(m.keys, j.IdempotencyKey)
		delete(m.jobs, key)
		n++
	}
	return n, nil
}

// Stats aggregates the job table.
func (m *Store) Stats(_ context.Context) (*job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &job.Stats{}
	var (
		resolved int64
		total    time.Duration
	)
	for _, j := range m.jobs {
		stats.Add(j.Status, 1)
		if j.Status == job.StatusQueued {
			if stats.OldestQueuedAt == nil || j.CreatedAt.Before(*stats.OldestQueuedAt) {
				at := j.CreatedAt
				stats.OldestQueuedAt = &at
			}
		}
		if j.Status.Resolved() {
			resolved++
			total += j.UpdatedAt.Sub(j.CreatedAt)
		}
	}
	if resolved > 0 {
		mean := float64(total) / float64(resolved) / float64(time.Millisecond)
		stats.MeanDurationMs = &mean
	}
	return stats, nil
}

func sortOldestFirst(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.Less(jobs[k].ID)
	})
}
