// Package metrics exports turn and model usage metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter records turn lifecycle metrics.
type Exporter struct {
	registry *prometheus.Registry

	turnRequests *prometheus.CounterVec
	turnLatency  *prometheus.HistogramVec
	streamActive prometheus.Gauge

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec

	modelTokens  *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}
}

// NewExporter creates and registers the metric set.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatloom",
			Subsystem: "chat",
			Name:      "turn_requests_total",
			Help:      "Total number of generation turns",
		},
		[]string{"model", "status"},
	)

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatloom",
			Subsystem: "chat",
			Name:      "turn_latency_seconds",
			Help:      "Wall-clock duration of one generation turn",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	e.streamActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatloom",
			Subsystem: "chat",
			Name:      "streams_active",
			Help:      "Number of live generation streams",
		},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatloom",
			Subsystem: "chat",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	e.toolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatloom",
			Subsystem: "chat",
			Name:      "tool_latency_seconds",
			Help:      "Tool call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tool_name"},
	)

	e.modelTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatloom",
			Subsystem: "model",
			Name:      "tokens_total",
			Help:      "Total model tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.modelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatloom",
			Subsystem: "model",
			Name:      "request_latency_seconds",
			Help:      "Upstream model request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	registry.MustRegister(
		e.turnRequests,
		e.turnLatency,
		e.streamActive,
		e.toolCalls,
		e.toolLatency,
		e.modelTokens,
		e.modelLatency,
	)

	return e
}

// RecordTurn records one completed generation turn.
func (e *Exporter) RecordTurn(model string, latency time.Duration, status string) {
	e.turnRequests.WithLabelValues(model, status).Inc()
	e.turnLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// StreamStarted bumps the active stream gauge.
func (e *Exporter) StreamStarted() {
	e.streamActive.Inc()
}

// StreamFinished drops the active stream gauge.
func (e *Exporter) StreamFinished() {
	e.streamActive.Dec()
}

// RecordToolCall records a tool invocation.
func (e *Exporter) RecordToolCall(toolName string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.toolCalls.WithLabelValues(toolName, status).Inc()
	e.toolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
}

// RecordModelUsage records token counts for one upstream call.
func (e *Exporter) RecordModelUsage(model string, promptTokens, completionTokens int) {
	e.modelTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	e.modelTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordModelLatency records upstream request latency.
func (e *Exporter) RecordModelLatency(model string, latency time.Duration) {
	e.modelLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
