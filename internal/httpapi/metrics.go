package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the API server. Each server
// owns its own registry so repeated construction never panics on duplicate
// registration.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	BacktestRuns    prometheus.Counter
	FetchErrors     *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
}

// NewMetrics creates and registers all API metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backlab_request_duration_seconds",
				Help:    "HTTP request duration by route and status code",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"route", "code"},
		),

		BacktestRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backlab_backtest_runs_total",
				Help: "Total number of completed backtest runs",
			},
		),

		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlab_fetch_errors_total",
				Help: "Total number of upstream fetch failures by source",
			},
			[]string{"source"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlab_cache_hits_total",
				Help: "Total number of cache hits by payload kind",
			},
			[]string{"kind"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlab_cache_misses_total",
				Help: "Total number of cache misses by payload kind",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.RequestDuration,
		m.BacktestRuns,
		m.FetchErrors,
		m.CacheHits,
		m.CacheMisses,
	)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response code for request instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with a per-route duration histogram.
func (m *Metrics) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.RequestDuration.
			WithLabelValues(route, strconv.Itoa(rec.code)).
			Observe(time.Since(start).Seconds())
	})
}
