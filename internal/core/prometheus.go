package core

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsRecorder fulfills MetricsRecorder on top of a Prometheus
// registry, for deployments that scrape instead of reading expvar.
type PrometheusMetricsRecorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder constructs a recorder with its own registry.
// Pass the registry's handler to an HTTP mux via Handler().
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	registry := prometheus.NewRegistry()
	rec := &PrometheusMetricsRecorder{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessioncore_operations_total",
			Help: "Completed session service operations by operation and status.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessioncore_operation_duration_seconds",
			Help:    "Latency of session service operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	registry.MustRegister(rec.operations, rec.durations)
	return rec
}

// Registry exposes the underlying registry for custom collectors and test
// scraping.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler returns an http.Handler serving the scrape endpoint.
func (r *PrometheusMetricsRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Observe records a service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, op Operation, success bool, duration time.Duration) {
	if op == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(string(op), status).Inc()
	r.durations.WithLabelValues(string(op)).Observe(duration.Seconds())
}
