// Package engine wires the outbox subsystems together and provides the
// application-level API for registering handlers and enqueuing work.
//
// # Building a Queue
//
//	st := sqlite.New(db)
//	q, err := engine.New(st,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(broker),
//	)
//
// # Registering Handlers
//
//	engine.Register(q, job.NewDefinition(func(ctx context.Context, p job.CreateLabel) (job.LabelResult, error) {
//	    return labels.CreateLabel(ctx, p)
//	}))
//
// # Enqueuing Jobs
//
//	res, err := q.Enqueue(ctx, job.CreateLabel{OrderID: "1001"}, "label:1001",
//	    job.WithCorrelationID("order:1001"),
//	)
//
// Enqueuing twice with the same idempotency key returns the first job.
// When that job already succeeded, its stored result is returned and
// nothing runs again.
//
// # Operator Actions
//
//   - [Queue.GetStats] — counts per status, oldest queued job, mean duration
//   - [Queue.ListJobs] — jobs by status, oldest first
//   - [Queue.RetryJob] — requeue a dead job with attempts reset
//   - [Queue.PurgeDead] — delete all dead jobs
//
// # Options
//
//   - [WithConfig] — concurrency, poll interval, attempt cap, throttles
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware after the default stack
//   - [WithPolicy] — replace the retry policy
//   - [WithThrottle] — per-type start limits
//   - [WithTracerProvider], [WithMeterProvider] — OpenTelemetry providers
package engine
