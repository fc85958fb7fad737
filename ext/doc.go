// Package ext defines the notification sink of the outbox.
//
// Extensions are notified of lifecycle events and can react to them:
// pushing progress to a UI, publishing to Redis, writing audit records or
// recording metrics. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobProcessed(ctx context.Context, p ext.Processed) error {
//	    log.Printf("job %s %s after %s", p.JobID, p.Outcome, p.Elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobAdded]: a new job was inserted
//   - [JobStarted]: a job was claimed and its handler is about to run
//   - [JobProcessed]: an attempt finished (succeeded, retrying or dead)
//   - [JobRetried]: an operator revived a dead job
//   - [JobsPurged]: jobs were bulk-deleted
//   - [Shutdown]: the queue is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Delivery is synchronous and
// best-effort: hook errors and panics are logged, never returned.
package ext
