package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinytrack/pkg/ingest"
)

// Metrics is the server's own Prometheus instrumentation.
// It implements ingest.Recorder and stats.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal   *prometheus.CounterVec
	statsDuration *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tinytrack",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Ingest requests by outcome.",
		}, []string{"outcome"}),
		statsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tinytrack",
			Subsystem: "stats",
			Name:      "compute_duration_seconds",
			Help:      "Time to produce a stats snapshot, by source (store or cache).",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"source"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tinytrack",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tinytrack",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RegisterCardinality exposes the number of distinct values per facet.
func (m *Metrics) RegisterCardinality(tracker *ingest.CardinalityTracker) {
	factory := promauto.With(m.registry)
	facets := map[string]func(ingest.CardinalityStats) int{
		ingest.FacetComponent: func(s ingest.CardinalityStats) int { return s.Components },
		ingest.FacetVariant:   func(s ingest.CardinalityStats) int { return s.Variants },
		ingest.FacetAction:    func(s ingest.CardinalityStats) int { return s.Actions },
	}
	for facet, pick := range facets {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "tinytrack",
			Subsystem:   "ingest",
			Name:        "distinct_values",
			Help:        "Distinct values seen per facet.",
			ConstLabels: prometheus.Labels{"facet": facet},
		}, func() float64 { return float64(pick(tracker.Stats())) })
	}
}

// RecordIngest counts one ingest request.
func (m *Metrics) RecordIngest(outcome string) {
	m.ingestTotal.WithLabelValues(outcome).Inc()
}

// ObserveStats records one snapshot computation.
func (m *Metrics) ObserveStats(d time.Duration, source string) {
	m.statsDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
