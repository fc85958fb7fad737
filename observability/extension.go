package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobAdded     = (*MetricsExtension)(nil)
	_ ext.JobProcessed = (*MetricsExtension)(nil)
	_ ext.JobRetried   = (*MetricsExtension)(nil)
	_ ext.JobsPurged   = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope for lifecycle counters.
const meterName = "github.com/xraph/outbox/observability"

// MetricsExtension records lifecycle counters on an OTel meter. Every
// counter carries a job_type attribute except purged, which carries status.
type MetricsExtension struct {
	JobAdded     metric.Int64Counter
	JobSucceeded metric.Int64Counter
	JobRetrying  metric.Int64Counter
	JobDead      metric.Int64Counter
	JobRevived   metric.Int64Counter
	JobsPurged   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global meter
// provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	return &MetricsExtension{
		JobAdded:     counter("outbox.job.added", "Jobs inserted into the outbox"),
		JobSucceeded: counter("outbox.job.succeeded", "Jobs that completed successfully"),
		JobRetrying:  counter("outbox.job.retrying", "Failed attempts scheduled for retry"),
		JobDead:      counter("outbox.job.dead", "Jobs dead-lettered"),
		JobRevived:   counter("outbox.job.revived", "Dead jobs requeued by an operator"),
		JobsPurged:   counter("outbox.job.purged", "Jobs deleted by purge"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(t job.Type) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", string(t)))
}

// OnJobAdded implements ext.JobAdded.
func (m *MetricsExtension) OnJobAdded(ctx context.Context, j *job.Job) error {
	m.JobAdded.Add(ctx, 1, typeAttr(j.Type))
	return nil
}

// OnJobProcessed implements ext.JobProcessed.
func (m *MetricsExtension) OnJobProcessed(ctx context.Context, p ext.Processed) error {
	switch p.Outcome {
	case ext.OutcomeSucceeded:
		m.JobSucceeded.Add(ctx, 1, typeAttr(p.Type))
	case ext.OutcomeRetrying:
		m.JobRetrying.Add(ctx, 1, typeAttr(p.Type))
	case ext.OutcomeDead:
		m.JobDead.Add(ctx, 1, typeAttr(p.Type))
	}
	return nil
}

// OnJobRetried implements ext.JobRetried.
func (m *MetricsExtension) OnJobRetried(ctx context.Context, j *job.Job) error {
	m.JobRevived.Add(ctx, 1, typeAttr(j.Type))
	return nil
}

// OnJobsPurged implements ext.JobsPurged.
func (m *MetricsExtension) OnJobsPurged(ctx context.Context, status job.Status, count int64) error {
	m.JobsPurged.Add(ctx, count, metric.WithAttributes(attribute.String("status", string(status))))
	return nil
}
