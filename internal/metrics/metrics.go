// Package metrics exposes Prometheus collectors for sync cycles.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "icsagenda"

// Cycle results.
const (
	ResultCommitted = "committed"
	ResultRetained  = "retained"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// Feed fetch results.
const (
	FeedOK    = "ok"
	FeedError = "error"
)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	feedFetches   *prometheus.CounterVec
	events        prometheus.Gauge
	lastCommit    prometheus.Gauge
	cycleDuration prometheus.Histogram
}

// New registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by outcome.",
		}, []string{"result"}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_total",
			Help:      "Feed fetch attempts by feed and outcome.",
		}, []string{"feed", "result"}),
		events: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events",
			Help:      "Events in the current snapshot.",
		}),
		lastCommit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_commit_timestamp_seconds",
			Help:      "Unix time of the last committed snapshot.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Wall time of one sync cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	m.registry.MustRegister(
		m.cycles,
		m.feedFetches,
		m.events,
		m.lastCommit,
		m.cycleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFeed counts one fetch+parse attempt of feed.
func (m *Metrics) ObserveFeed(feed string, err error) {
	if m == nil {
		return
	}
	result := FeedOK
	if err != nil {
		result = FeedError
	}
	m.feedFetches.WithLabelValues(feed, result).Inc()
}

// ObserveCycle records the outcome and duration of one cycle.
func (m *Metrics) ObserveCycle(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

// SetSnapshot publishes the size and stamp of the current snapshot.
func (m *Metrics) SetSnapshot(events int, stamp time.Time) {
	if m == nil {
		return
	}
	m.events.Set(float64(events))
	m.lastCommit.Set(float64(stamp.UnixNano()) / 1e9)
}
