package handlers

import (
	"context"
	"log/slog"
	"sort"

	"github.com/xraph/outbox/job"
)

// EventLogger handles event_log jobs by writing them to a structured log.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger returns an EventLogger writing to logger.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger.With(slog.String("component", "event_log"))}
}

// Log records p.
func (e *EventLogger) Log(ctx context.Context, p job.EventLog) (job.EventLogResult, error) {
	attrs := []slog.Attr{slog.String("event", p.Event)}
	if p.OrderID != "" {
		attrs = append(attrs, slog.String("order_id", p.OrderID))
	}
	if p.Actor != "" {
		attrs = append(attrs, slog.String("actor", p.Actor))
	}
	if j, ok := job.FromContext(ctx); ok {
		attrs = append(attrs, slog.String("job_id", j.ID.String()))
	}
	if len(p.Data) > 0 {
		keys := make([]string, 0, len(p.Data))
		for k := range p.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		data := make([]any, 0, len(keys))
		for _, k := range keys {
			data = append(data, slog.Any(k, p.Data[k]))
		}
		attrs = append(attrs, slog.Group("data", data...))
	}

	e.logger.LogAttrs(ctx, slog.LevelInfo, "event", attrs...)
	return job.EventLogResult{Logged: true}, nil
}
