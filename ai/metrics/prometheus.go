// Package metrics provides Prometheus metrics export for the memory subsystem.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports memory subsystem metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Embedding metrics
	embeddingRequests *prometheus.CounterVec
	embeddingLatency  *prometheus.HistogramVec

	// Retrieval metrics
	retrievals       *prometheus.CounterVec
	retrievalLatency *prometheus.HistogramVec
	retrievalResults *prometheus.HistogramVec

	// Workflow lifecycle metrics
	workflowsRecorded  prometheus.Counter
	executionsRecorded *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{
		registry: registry,
	}

	e.embeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "memory",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"status"},
	)

	e.embeddingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kite",
			Subsystem: "memory",
			Name:      "embedding_latency_seconds",
			Help:      "Embedding request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"operation"},
	)

	e.retrievals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "memory",
			Name:      "retrievals_total",
			Help:      "Total number of retrieval calls",
		},
		[]string{"kind", "status"},
	)

	e.retrievalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kite",
			Subsystem: "memory",
			Name:      "retrieval_latency_seconds",
			Help:      "Retrieval latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"kind"},
	)

	e.retrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kite",
			Subsystem: "memory",
			Name:      "retrieval_results",
			Help:      "Number of results returned per retrieval",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"kind"},
	)

	e.workflowsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "memory",
			Name:      "workflows_recorded_total",
			Help:      "Total number of workflows recorded",
		},
	)

	e.executionsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "memory",
			Name:      "executions_recorded_total",
			Help:      "Total number of workflow executions recorded",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		e.embeddingRequests,
		e.embeddingLatency,
		e.retrievals,
		e.retrievalLatency,
		e.retrievalResults,
		e.workflowsRecorded,
		e.executionsRecorded,
	)

	return e
}

// RecordEmbedding records an embedding request metric.
func (e *PrometheusExporter) RecordEmbedding(operation string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.embeddingRequests.WithLabelValues(status).Inc()
	e.embeddingLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordRetrieval records a retrieval call metric.
func (e *PrometheusExporter) RecordRetrieval(kind string, latency time.Duration, resultCount int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.retrievals.WithLabelValues(kind, status).Inc()
	e.retrievalLatency.WithLabelValues(kind).Observe(latency.Seconds())
	e.retrievalResults.WithLabelValues(kind).Observe(float64(resultCount))
}

// RecordWorkflowRecorded records a workflow creation.
func (e *PrometheusExporter) RecordWorkflowRecorded() {
	e.workflowsRecorded.Inc()
}

// RecordExecutionRecorded records a workflow execution by status.
func (e *PrometheusExporter) RecordExecutionRecorded(status string) {
	e.executionsRecorded.WithLabelValues(status).Inc()
}

// GetHandler returns the HTTP handler for Prometheus metrics.
func (e *PrometheusExporter) GetHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
