// Package metrics exposes collection progress as Prometheus metrics. Each run
// owns its own registry so runs never share counters.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blackmichael/bsky-collect/internal/domain"
	"github.com/blackmichael/bsky-collect/internal/output"
)

const namespace = "bskycollect"

// Metrics implements domain.Recorder, output.FlushObserver and
// lookup.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	inspected    *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	accepted     *prometheus.CounterVec
	pages        *prometheus.CounterVec
	batches      *prometheus.CounterVec
	rowsWritten  *prometheus.CounterVec
	flushLatency *prometheus.HistogramVec
	cache        *prometheus.CounterVec

	totalInspected atomic.Int64
	totalAccepted  atomic.Int64
	totalWritten   atomic.Int64
	totalPages     atomic.Int64
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		inspected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_inspected_total",
			Help:      "Envelopes taken from a record source.",
		}, []string{"mode"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_skipped_total",
			Help:      "Envelopes dropped because their record type is not recognized.",
		}, []string{"mode"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Rows rejected by the filter.",
		}, []string{"mode"}),
		accepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_accepted_total",
			Help:      "Rows accepted by the filter and handed to the writer.",
		}, []string{"mode", "action_type"}),
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages fetched from paginated endpoints.",
		}, []string{"kind"}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Batches written to the output sink.",
		}, []string{"format"}),
		rowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to the output sink.",
		}, []string{"format"}),
		flushLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"format"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_cache_requests_total",
			Help:      "Lookup cache requests by result.",
		}, []string{"cache", "result"}),
	}
}

// Registry returns the run's registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) EnvelopeInspected(mode domain.Mode) {
	m.inspected.WithLabelValues(string(mode)).Inc()
	m.totalInspected.Add(1)
}

func (m *Metrics) EnvelopeSkipped(mode domain.Mode) {
	m.skipped.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) RowRejected(mode domain.Mode) {
	m.rejected.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) RowAccepted(mode domain.Mode, action domain.ActionType) {
	m.accepted.WithLabelValues(string(mode), string(action)).Inc()
	m.totalAccepted.Add(1)
}

func (m *Metrics) PageFetched(kind string) {
	m.pages.WithLabelValues(kind).Inc()
	m.totalPages.Add(1)
}

func (m *Metrics) BatchFlushed(format output.Format, rows int, elapsed time.Duration) {
	m.batches.WithLabelValues(string(format)).Inc()
	m.rowsWritten.WithLabelValues(string(format)).Add(float64(rows))
	m.flushLatency.WithLabelValues(string(format)).Observe(elapsed.Seconds())
	m.totalWritten.Add(int64(rows))
}

func (m *Metrics) CacheHit(cache string) {
	m.cache.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	m.cache.WithLabelValues(cache, "miss").Inc()
}

// Snapshot is a point-in-time summary for status reporting.
type Snapshot struct {
	Inspected int64 `json:"inspected"`
	Accepted  int64 `json:"accepted"`
	Written   int64 `json:"written"`
	Pages     int64 `json:"pages"`
}

// Snapshot returns the run totals so far.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Inspected: m.totalInspected.Load(),
		Accepted:  m.totalAccepted.Load(),
		Written:   m.totalWritten.Load(),
		Pages:     m.totalPages.Load(),
	}
}
