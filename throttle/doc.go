// Package throttle limits how fast jobs of one type leave the outbox.
//
// A reconnecting client can find hundreds of label jobs due at once. The
// label provider rate-limits aggressively, so the dispatcher asks the
// [Manager] before claiming each job. A denied job is left queued and is
// considered again on the next tick; no attempt is consumed.
//
//	m := throttle.NewManager(
//	    throttle.Config{Type: job.TypeCreateLabel, RateLimit: 2, RateBurst: 4},
//	    throttle.Config{Type: job.TypeVoidLabel, MaxConcurrency: 1},
//	)
//	if m.Acquire(j.Type) {
//	    defer m.Release(j.Type)
//	    // claim and execute
//	}
//
// Limits use a token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate. Types without a [Config] are only bound by the
// dispatcher's concurrency.
package throttle
