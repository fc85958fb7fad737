// Package worker provides the job execution engine: a Dispatcher that
// claims due jobs on a fixed tick and an Executor that runs each claimed
// job through middleware and its registered handler, then records the
// outcome.
//
// The Dispatcher keeps at most Concurrency jobs running. A tick is
// skipped while a previous pass is still claiming or when every slot is
// taken. Claims are compare-and-update (queued → running), so a job that
// another process claimed first is skipped.
//
// The Executor never lets a handler error escape: a failure is classified,
// then the job is either rescheduled with backoff or dead-lettered.
//
// Recover resets jobs left running by a process that stopped mid-attempt.
// Run it once, before the first tick.
package worker
