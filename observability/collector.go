package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/outbox/job"
)

// StatsSource is anything that can aggregate the job table.
type StatsSource interface {
	Stats(ctx context.Context) (*job.Stats, error)
}

// StatsCollector is a prometheus.Collector that reads job.Stats on every
// scrape.
type StatsCollector struct {
	source  StatsSource
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	jobs         *prometheus.Desc
	oldestQueued *prometheus.Desc
	meanDuration *prometheus.Desc
	up           *prometheus.Desc
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector creates a collector over source.
func NewStatsCollector(source StatsSource, logger *slog.Logger) *StatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsCollector{
		source:  source,
		timeout: 5 * time.Second,
		logger:  logger,
		now:     time.Now,
		jobs: prometheus.NewDesc("outbox_jobs",
			"Number of jobs by status.", []string{"status"}, nil),
		oldestQueued: prometheus.NewDesc("outbox_oldest_queued_age_seconds",
			"Age of the oldest queued job.", nil, nil),
		meanDuration: prometheus.NewDesc("outbox_mean_duration_seconds",
			"Mean time from creation to resolution of resolved jobs.", nil, nil),
		up: prometheus.NewDesc("outbox_store_up",
			"Whether the last stats query succeeded.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
	ch <- c.oldestQueued
	ch <- c.meanDuration
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		c.logger.Warn("stats scrape failed", slog.String("error", err.Error()))
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	for _, s := range job.Statuses {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue,
			float64(stats.Count(s)), string(s))
	}

	age := 0.0
	if stats.OldestQueuedAt != nil {
		age = c.now().Sub(*stats.OldestQueuedAt).Seconds()
	}
	ch <- prometheus.MustNewConstMetric(c.oldestQueued, prometheus.GaugeValue, age)

	if stats.MeanDurationMs != nil {
		ch <- prometheus.MustNewConstMetric(c.meanDuration, prometheus.GaugeValue,
			*stats.MeanDurationMs/1000)
	}
}

// Handler returns an HTTP handler exposing the collector, together with
// Go runtime and process metrics, in the Prometheus text format.
func Handler(c *StatsCollector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
