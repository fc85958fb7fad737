// Package backoff provides retry delay strategies and the attempt cap that
// decides when a failing job is dead-lettered. All strategies are safe for
// concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Table
// ──────────────────────────────────────────────────

// DefaultSchedule is the delay after the 1st through 6th failed attempt.
var DefaultSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// Table looks the delay up in a fixed schedule and adds a bounded random
// jitter of up to Jitter times the table value. Attempts past the end of
// the schedule reuse the last entry.
type Table struct {
	Schedule []time.Duration
	Jitter   float64
}

// NewTable creates a table strategy. jitter is a fraction of the table
// value, e.g. 0.1 adds up to 10%.
func NewTable(schedule []time.Duration, jitter float64) *Table {
	return &Table{Schedule: schedule, Jitter: jitter}
}

// Base returns the table value for attempt, without jitter.
func (t *Table) Base(attempt int) time.Duration {
	if len(t.Schedule) == 0 {
		return 0
	}
	switch {
	case attempt < 1:
		attempt = 1
	case attempt > len(t.Schedule):
		attempt = len(t.Schedule)
	}
	return t.Schedule[attempt-1]
}

// Delay returns Base(attempt) plus up to Jitter * Base(attempt).
func (t *Table) Delay(attempt int) time.Duration {
	base := t.Base(attempt)
	if t.Jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*t.Jitter*float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Policy pairs a delay strategy with the attempt cap.
type Policy struct {
	Strategy    Strategy
	MaxAttempts int
}

// DefaultPolicy returns the table schedule with 10% jitter and one initial
// run plus one retry per table entry.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:    NewTable(DefaultSchedule, 0.1),
		MaxAttempts: len(DefaultSchedule) + 1,
	}
}

// Next reports whether a job that has now failed attempts times should
// run again, and after how long.
func (p Policy) Next(attempts, maxAttempts int) (time.Duration, bool) {
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts
	}
	if attempts >= maxAttempts {
		return 0, false
	}
	return p.Strategy.Delay(attempts), true
}
