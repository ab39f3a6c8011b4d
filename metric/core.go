package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the serving layer's core metrics. Component-specific
// metrics (worker pool depth, etc.) are registered separately by their
// owners.
type Metrics struct {
	// HTTP surface
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Projection engine
	ProjectionCacheHits   prometheus.Counter
	ProjectionCacheMisses prometheus.Counter
	ProjectionsComputed   prometheus.Counter
	ProjectionDuration    prometheus.Histogram

	// Query gateway
	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram

	// RPC bridge
	BridgeConnected     prometheus.Gauge
	BridgeRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "embedatlas",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "embedatlas",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ProjectionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "embedatlas",
				Subsystem: "projection",
				Name:      "cache_hits_total",
				Help:      "Projection requests served from the cache",
			},
		),
		ProjectionCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "embedatlas",
				Subsystem: "projection",
				Name:      "cache_misses_total",
				Help:      "Projection requests that required computation",
			},
		),
		ProjectionsComputed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "embedatlas",
				Subsystem: "projection",
				Name:      "computed_total",
				Help:      "Completed embedding plus reduction runs",
			},
		),
		ProjectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "embedatlas",
				Subsystem: "projection",
				Name:      "compute_duration_seconds",
				Help:      "Duration of embedding plus reduction runs",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "embedatlas",
				Subsystem: "query",
				Name:      "total",
				Help:      "Query gateway executions by mode and status",
			},
			[]string{"mode", "status"},
		),
		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "embedatlas",
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Query execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		BridgeConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "embedatlas",
				Subsystem: "bridge",
				Name:      "connected",
				Help:      "Whether an RPC bridge peer is attached (0 or 1)",
			},
		),
		BridgeRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "embedatlas",
				Subsystem: "bridge",
				Name:      "requests_total",
				Help:      "Bridge requests by outcome",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) mustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ProjectionCacheHits,
		m.ProjectionCacheMisses,
		m.ProjectionsComputed,
		m.ProjectionDuration,
		m.QueriesTotal,
		m.QueryDuration,
		m.BridgeConnected,
		m.BridgeRequestsTotal,
	)
}

// ObserveHTTPRequest records one HTTP request outcome
func (m *Metrics) ObserveHTTPRequest(route, method, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
