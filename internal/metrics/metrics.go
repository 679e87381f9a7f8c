// Package metrics defines the prometheus collectors for ingestion and matching.
package metrics

import (
	"context"
	"time"

	"github.com/helixml/vecmatch/domain/task"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vecmatch"

// Row and batch outcome labels.
const (
	StatusInserted    = "inserted"
	StatusInvalid     = "invalid"
	StatusQuarantined = "quarantined"
)

// Cache lookup result labels.
const (
	ResultCacheHit = "cache_hit"
	ResultStoreHit = "store_hit"
	ResultMiss     = "miss"
)

// Metrics holds the vecmatch collectors. All methods are safe on a nil
// receiver, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	IngestRows         *prometheus.CounterVec
	IngestBatches      *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	EmbedderValues     *prometheus.CounterVec
	MatchRows          prometheus.Counter
	MatchRoundDuration prometheus.Histogram
	MatchRemaining     prometheus.Gauge
	OperationProgress  *prometheus.GaugeVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		IngestRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rows_total",
				Help:      "Rows read from input files by outcome",
			},
			[]string{"kind", "status"},
		),

		IngestBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "batches_total",
				Help:      "Ingestion batches by outcome",
			},
			[]string{"kind", "status"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "embedding_cache",
				Name:      "lookups_total",
				Help:      "Embedding resolutions by source (in-memory cache, store, or miss)",
			},
			[]string{"kind", "result"},
		),

		EmbedderValues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "embedder",
				Name:      "values_total",
				Help:      "Distinct values sent to the embedding endpoint",
			},
			[]string{"kind"},
		),

		MatchRows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "match",
				Name:      "rows_total",
				Help:      "Targets assigned a nearest source",
			},
		),

		MatchRoundDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "match",
				Name:      "round_duration_seconds",
				Help:      "Duration of one match round",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
		),

		MatchRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "match",
				Name:      "remaining",
				Help:      "Targets still without a match",
			},
		),

		OperationProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "progress_ratio",
				Help:      "Completion of the running operation (0..1)",
			},
			[]string{"operation"},
		),
	}

	m.registry.MustRegister(
		m.IngestRows,
		m.IngestBatches,
		m.CacheLookups,
		m.EmbedderValues,
		m.MatchRows,
		m.MatchRoundDuration,
		m.MatchRemaining,
		m.OperationProgress,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordRows adds n rows of kind with the given outcome.
func (m *Metrics) RecordRows(kind, status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IngestRows.WithLabelValues(kind, status).Add(float64(n))
}

// RecordBatch counts one batch of kind with the given outcome.
func (m *Metrics) RecordBatch(kind, status string) {
	if m == nil {
		return
	}
	m.IngestBatches.WithLabelValues(kind, status).Inc()
}

// RecordLookups adds n embedding resolutions of kind with the given result.
func (m *Metrics) RecordLookups(kind, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheLookups.WithLabelValues(kind, result).Add(float64(n))
}

// RecordEmbedded adds n values sent to the embedder for kind.
func (m *Metrics) RecordEmbedded(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EmbedderValues.WithLabelValues(kind).Add(float64(n))
}

// RecordMatchRound records one match round.
func (m *Metrics) RecordMatchRound(matched int64, d time.Duration) {
	if m == nil {
		return
	}
	m.MatchRows.Add(float64(matched))
	m.MatchRoundDuration.Observe(d.Seconds())
}

// SetMatchRemaining sets the number of unmatched targets.
func (m *Metrics) SetMatchRemaining(n int64) {
	if m == nil {
		return
	}
	m.MatchRemaining.Set(float64(n))
}

// OnChange implements tracking.Reporter by exporting operation progress.
func (m *Metrics) OnChange(_ context.Context, status task.Status) error {
	if m == nil {
		return nil
	}
	ratio := status.CompletionPercent() / 100
	if status.State() == task.ReportingStateCompleted {
		ratio = 1
	}
	m.OperationProgress.WithLabelValues(status.Operation().String()).Set(ratio)
	return nil
}
