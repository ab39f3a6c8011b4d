// Package metric provides Prometheus-based metrics collection for the
// serving layer.
//
// A Registry owns a private prometheus.Registry pre-populated with the
// core serving metrics (HTTP requests, projection cache hits and misses,
// query durations, bridge connectivity) plus Go runtime collectors.
// Components register additional collectors under a service/metric name
// pair so duplicate registrations surface as errors instead of prometheus
// panics:
//
//	registry := metric.NewRegistry()
//	registry.Core.ProjectionCacheHits.Inc()
//
//	depth := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Name: "queue_depth",
//	    Help: "Items waiting in the work queue",
//	})
//	if err := registry.RegisterGauge("worker", "queue_depth", depth); err != nil {
//	    // already registered
//	}
//
// Registry.Handler returns an http.Handler for mounting the exposition
// endpoint on the application mux. All registration methods are safe for
// concurrent use; metric recording is lock-free per the prometheus client
// guarantees.
//
// Core metrics use the namespace "embedatlas" with per-area subsystems,
// e.g. embedatlas_projection_cache_hits_total and
// embedatlas_query_duration_seconds.
package metric
