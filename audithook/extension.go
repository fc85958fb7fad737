package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobAdded     = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobProcessed = (*Extension)(nil)
	_ ext.JobRetried   = (*Extension)(nil)
	_ ext.JobsPurged   = (*Extension)(nil)
)

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges outbox lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobAdded implements ext.JobAdded.
func (e *Extension) OnJobAdded(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobAdded, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, "",
		"job_type", string(j.Type),
		"correlation_id", j.CorrelationID,
		"idempotency_key", j.IdempotencyKey,
		"max_attempts", j.MaxAttempts,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		j.ID.String(), CategoryJob, "",
		"job_type", string(j.Type),
		"attempts", j.Attempts,
	)
}

// OnJobProcessed implements ext.JobProcessed.
func (e *Extension) OnJobProcessed(ctx context.Context, p ext.Processed) error {
	kv := []any{
		"job_type", string(p.Type),
		"correlation_id", p.CorrelationID,
		"attempts", p.Attempts,
		"elapsed_ms", p.Elapsed.Milliseconds(),
	}
	switch p.Outcome {
	case ext.OutcomeSucceeded:
		return e.record(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess,
			p.JobID.String(), CategoryJob, "", kv...)
	case ext.OutcomeRetrying:
		kv = append(kv, "next_run_at", p.NextRunAt)
		return e.record(ctx, ActionJobFailed, SeverityWarning, OutcomeFailure,
			p.JobID.String(), CategoryJob, p.Error, kv...)
	default:
		return e.record(ctx, ActionJobDead, SeverityCritical, OutcomeFailure,
			p.JobID.String(), CategoryJob, p.Error, kv...)
	}
}

// OnJobRetried implements ext.JobRetried.
func (e *Extension) OnJobRetried(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobRetried, SeverityWarning, OutcomeSuccess,
		j.ID.String(), CategoryOperator, "",
		"job_type", string(j.Type),
		"correlation_id", j.CorrelationID,
	)
}

// OnJobsPurged implements ext.JobsPurged.
func (e *Extension) OnJobsPurged(ctx context.Context, status job.Status, count int64) error {
	return e.record(ctx, ActionJobsPurged, SeverityWarning, OutcomeSuccess,
		"", CategoryOperator, "",
		"status", string(status),
		"count", count,
	)
}

// record builds an AuditEvent and hands it to the recorder. Recorder
// failures are logged and never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resourceID, category, reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		if s, isStr := kvPairs[i+1].(string); isStr && s == "" {
			continue
		}
		meta[key] = kvPairs[i+1]
	}
	if reason != "" {
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audithook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
