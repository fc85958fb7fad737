// Package observability exports outbox health to OpenTelemetry and
// Prometheus.
//
// [MetricsExtension] is an ext.Extension that counts lifecycle events
// (added, succeeded, retrying, dead, revived, purged) on an OTel meter.
// [StatsCollector] is a prometheus.Collector that reads job.Stats on every
// scrape, so queue depth and the age of the oldest queued job are always
// current even across restarts.
//
// For per-attempt tracing and latency, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
