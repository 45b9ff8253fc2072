// Package metrics exposes Prometheus instrumentation for chart loading.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Load outcomes.
const (
	LoadOK         = "ok"
	LoadError      = "error"
	LoadSuperseded = "superseded"
)

type Metrics struct {
	registry *prometheus.Registry

	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	loads         *prometheus.CounterVec
	livePoints    prometheus.Counter
	httpRequests  *prometheus.CounterVec
}

// New builds a Metrics on its own registry, so several instances can live in
// one process (tests, multiple servers).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kwchart_cache_hits_total",
			Help: "Variable fetch cache lookups served by an existing entry.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kwchart_cache_misses_total",
			Help: "Variable fetch cache lookups that started a fetch.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwchart_fetches_total",
			Help: "Measurement fetches by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kwchart_fetch_duration_seconds",
			Help:    "Histogram of measurement fetch durations.",
			Buckets: prometheus.DefBuckets,
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwchart_loads_total",
			Help: "Chart load cycles by outcome (ok, error, superseded).",
		}, []string{"outcome"}),
		livePoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kwchart_live_points_total",
			Help: "Points appended to live series.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwchart_http_requests_total",
			Help: "HTTP API requests by route and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.cacheHits,
		m.cacheMisses,
		m.fetches,
		m.fetchDuration,
		m.loads,
		m.livePoints,
		m.httpRequests,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// Fetch records one completed measurement fetch.
func (m *Metrics) Fetch(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(duration.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

// Load records the outcome of one load cycle.
func (m *Metrics) Load(outcome string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LivePoints(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.livePoints.Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests to next under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
	})
}
