// Package audithook is an outbox extension that turns lifecycle events
// into audit records for an operator-facing trail.
//
// Every job lifecycle hook emits a structured [AuditEvent] through the
// [Recorder] interface. The extension assigns severity levels (info for
// normal operations, warning for failed attempts, critical for dead
// letters) and metadata (job type, correlation id, attempts, elapsed
// time, errors).
//
// # Logging recorder
//
// With no external audit backend, [NewSlogRecorder] writes each event as a
// structured log line:
//
//	audithook.New(audithook.NewSlogRecorder(logger))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobDead,
//	        audithook.ActionJobRetried,
//	        audithook.ActionJobsPurged,
//	    ),
//	)
package audithook
