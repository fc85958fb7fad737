// Package idempotency admits new jobs at most once per idempotency key.
//
// A key that already maps to a job is never inserted again: a succeeded
// job is replayed with its stored result, any other job is reported as
// existing. Two callers racing on the same key both end up with the job
// that won the insert.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/job"
)

// Decision says how Admit resolved a key.
type Decision int

const (
	// Created means a new job was inserted.
	Created Decision = iota
	// Replayed means the key belongs to a succeeded job; its result is
	// returned and nothing is executed again.
	Replayed
	// Existing means the key belongs to a job that has not succeeded.
	Existing
)

func (d Decision) String() string {
	switch d {
	case Created:
		return "created"
	case Replayed:
		return "replayed"
	case Existing:
		return "existing"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Admission is the result of Admit.
type Admission struct {
	Decision Decision
	// Job is the admitted or pre-existing job.
	Job *job.Job
}

// Factory builds the job to insert when a key is new.
type Factory func() (*job.Job, error)

// Store is the subset of job.Store the guard needs.
type Store interface {
	InsertJob(ctx context.Context, j *job.Job) error
	FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error)
}

// Guard deduplicates job admission by idempotency key.
type Guard struct {
	store Store
}

// New returns a guard over store.
func New(store Store) *Guard {
	return &Guard{store: store}
}

// Admit resolves key to a job, inserting the job built by factory when the
// key is unknown.
func (g *Guard) Admit(ctx context.Context, key string, factory Factory) (*Admission, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty idempotency key", job.ErrInvalidPayload)
	}

	if existing, err := g.lookup(ctx, key); err != nil || existing != nil {
		return existing, err
	}

	j, err := factory()
	if err != nil {
		return nil, err
	}
	j.IdempotencyKey = key

	err = g.store.InsertJob(ctx, j)
	switch {
	case err == nil:
		return &Admission{Decision: Created, Job: j}, nil
	case errors.Is(err, outbox.ErrDuplicateIdempotencyKey):
		// Lost the race; the winner is now readable.
		existing, lookupErr := g.lookup(ctx, key)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	default:
		return nil, err
	}
}

func (g *Guard) lookup(ctx context.Context, key string) (*Admission, error) {
	j, err := g.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, outbox.ErrJobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if j.Status == job.StatusSucceeded {
		return &Admission{Decision: Replayed, Job: j}, nil
	}
	return &Admission{Decision: Existing, Job: j}, nil
}
