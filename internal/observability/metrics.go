package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus registry and the cache's meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	IndexEntries prometheus.Gauge
	IndexLeaves  prometheus.Gauge
	IndexHeight  prometheus.Gauge
	IndexFill    prometheus.Gauge

	EvictionsTotal *prometheus.CounterVec
	PurgedTotal    prometheus.Counter
	RebuildsTotal  *prometheus.CounterVec
}

// NewMetrics creates a custom registry with the tdcache meters plus the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tdcache_operation_duration_seconds",
			Help:    "Duration of cache operations in seconds.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"operation", "status"}),
		OperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tdcache_operation_total",
			Help: "Total number of cache operations.",
		}, []string{"operation", "status"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tdcache_errors_total",
			Help: "Total number of failed operations by error kind.",
		}, []string{"operation", "type"}),
		IndexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tdcache_index_entries",
			Help: "Intervals stored in the temporal index.",
		}),
		IndexLeaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tdcache_index_leaves",
			Help: "Leaf nodes in the temporal index.",
		}),
		IndexHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tdcache_index_height",
			Help: "Levels in the temporal index.",
		}),
		IndexFill: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tdcache_index_fill_ratio",
			Help: "Average leaf occupancy relative to the branching factor.",
		}),
		EvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tdcache_evictions_total",
			Help: "Objects whose intervals were purged, by what removed the object.",
		}, []string{"source"}),
		PurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tdcache_purged_intervals_total",
			Help: "Intervals removed because their object left the store.",
		}),
		RebuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tdcache_rebuilds_total",
			Help: "Index rebuilds, by trigger.",
		}, []string{"trigger"}),
	}

	reg.MustRegister(
		m.OperationDuration, m.OperationTotal, m.ErrorsTotal,
		m.IndexEntries, m.IndexLeaves, m.IndexHeight, m.IndexFill,
		m.EvictionsTotal, m.PurgedTotal, m.RebuildsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// IndexShape is a snapshot of index size used to update the gauges.
type IndexShape struct {
	Entries int
	Leaves  int
	Height  int
	Fill    float64
}

// SetIndexShape updates the index gauges. A nil receiver is a no-op.
func (m *Metrics) SetIndexShape(s IndexShape) {
	if m == nil {
		return
	}
	m.IndexEntries.Set(float64(s.Entries))
	m.IndexLeaves.Set(float64(s.Leaves))
	m.IndexHeight.Set(float64(s.Height))
	m.IndexFill.Set(s.Fill)
}

// RecordEviction counts one purged object and the intervals it held.
func (m *Metrics) RecordEviction(source string, intervals int) {
	if m == nil {
		return
	}
	m.EvictionsTotal.WithLabelValues(source).Inc()
	m.PurgedTotal.Add(float64(intervals))
}

// RecordRebuild counts one index rebuild.
func (m *Metrics) RecordRebuild(trigger string) {
	if m == nil {
		return
	}
	m.RebuildsTotal.WithLabelValues(trigger).Inc()
}
