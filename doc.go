// Package outbox is a durable, at-least-once job outbox for an offline-first
// client. Side-effecting calls to remote services (creating fulfillments,
// buying and voiding shipping labels, adjusting inventory, recording audit
// events) are written to a local store first and executed later by a
// bounded pool of workers, with idempotency keys, classified errors and a
// fixed backoff table between attempts.
//
// # Quick Start
//
//	st, err := sqlite.Open(ctx, "outbox.db")
//	q, err := engine.New(st,
//	    engine.WithConfig(cfg),
//	    engine.WithExtension(stream.NewBroker(logger)),
//	)
//	handlers.Register(q, handlers.Deps{Labels: labels})
//	res, err := q.Enqueue(ctx, job.CreateLabel{...}, "label:order-1001")
//
// # Architecture
//
// A job moves queued -> running -> succeeded, or back to queued with a
// later next_run_at after a retryable failure, or to dead once the attempt
// cap is reached or the error is permanent. Dead jobs stay in the store
// until an operator retries or purges them.
//
// Every transition is a single-row compare-and-update in the store, so
// two dispatchers racing for the same row cannot both claim it.
package outbox
