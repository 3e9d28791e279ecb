/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sdbmigrate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons reported by the migrations skipped counter.
const (
	SkipReasonDryRunNoTrx    = "dry_run_notrx"
	SkipReasonDryRunRollback = "dry_run_rollback"
)

// DefaultMigrationDurationBuckets is default buckets for the migration duration histogram.
var DefaultMigrationDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900}

// PrometheusMetricsOpts represents an options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. Default is "sdbmigrate".
	Namespace string
	// DurationBuckets is a list of buckets for the migration duration histogram.
	DurationBuckets []float64
	// ConstLabels is labels with constant values added to every metric.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents a collector of metrics for migration runs.
type PrometheusMetrics struct {
	MigrationsApplied *prometheus.CounterVec
	MigrationsSkipped *prometheus.CounterVec
	MigrationDuration *prometheus.HistogramVec
	SchemaVersion     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new metrics collector.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts is a more configurable version of creating PrometheusMetrics.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	if opts.Namespace == "" {
		opts.Namespace = "sdbmigrate"
	}
	if opts.DurationBuckets == nil {
		opts.DurationBuckets = DefaultMigrationDurationBuckets
	}
	return &PrometheusMetrics{
		MigrationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "migrations_applied_total",
			Help:        "Number of migrations applied to a database.",
			ConstLabels: opts.ConstLabels,
		}, []string{"database", "mode"}),
		MigrationsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "migrations_skipped_total",
			Help:        "Number of migrations skipped or rolled back on a database.",
			ConstLabels: opts.ConstLabels,
		}, []string{"database", "reason"}),
		MigrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "migration_duration_seconds",
			Help:        "A histogram of migration durations.",
			Buckets:     opts.DurationBuckets,
			ConstLabels: opts.ConstLabels,
		}, []string{"database"}),
		SchemaVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "schema_version",
			Help:        "Current schema version of a database.",
			ConstLabels: opts.ConstLabels,
		}, []string{"database"}),
	}
}

func (pm *PrometheusMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{pm.MigrationsApplied, pm.MigrationsSkipped, pm.MigrationDuration, pm.SchemaVersion}
}

// ObserveApplied counts the applied migration and observes its duration.
func (pm *PrometheusMetrics) ObserveApplied(database, mode string, duration time.Duration) {
	pm.MigrationsApplied.WithLabelValues(database, mode).Inc()
	pm.MigrationDuration.WithLabelValues(database).Observe(duration.Seconds())
}

// IncSkipped counts the migration that wasn't applied for the reason.
func (pm *PrometheusMetrics) IncSkipped(database, reason string) {
	pm.MigrationsSkipped.WithLabelValues(database, reason).Inc()
}

// SetSchemaVersion sets the current schema version of the database.
func (pm *PrometheusMetrics) SetSchemaVersion(database string, version int64) {
	pm.SchemaVersion.WithLabelValues(database).Set(float64(version))
}

// WriteToTextfile writes collected metrics into the file in the text exposition format,
// so node_exporter's textfile collector can pick them up after a one-shot run.
func (pm *PrometheusMetrics) WriteToTextfile(filename string) error {
	reg := prometheus.NewRegistry()
	for _, c := range pm.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return prometheus.WriteToTextfile(filename, reg)
}
