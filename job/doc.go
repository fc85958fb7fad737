// Package job defines the job entity, its state machine, the typed
// payloads for each job type, handler definitions and the store contract.
//
// # Job Entity
//
// A [Job] is one durable side effect. It embeds [outbox.Entity] for
// timestamps and moves through:
//
//	queued -> running -> succeeded
//	queued -> running -> queued (retryable failure, next_run_at pushed out)
//	queued -> running -> dead
//	dead -> queued (operator retry)
//
// "failed" appears only on lifecycle events for an attempt that will be
// retried; stored jobs are never left in it.
//
// # Payloads
//
// Each [Type] has one payload struct implementing [Payload]. Payloads are
// validated when enqueued and again before the handler runs:
//
//	res, err := q.Enqueue(ctx, job.CreateLabel{OrderID: "O1"}, "label_O1")
//
// # Defining a Handler
//
//	var createLabel = job.NewDefinition(
//	    func(ctx context.Context, p job.CreateLabel) (*job.LabelResult, error) {
//	        return labels.CreateLabel(ctx, p)
//	    },
//	)
//	job.RegisterDefinition(registry, createLabel)
//
// # Transitions
//
// [Claim], [Succeed], [Reschedule], [Bury] and [Revive] build the [Patch]
// for each edge of the state machine. Every patch carries the status it
// expects to find, so stores apply it as a compare-and-update.
package job
