package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for HTTP handler operations
type HTTPMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestErrors     *prometheus.CounterVec
	streamConnections *prometheus.GaugeVec
}

// NewHTTPMetrics creates and registers new HTTP handler metrics
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   httpBuckets,
		}, []string{"method", "route"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP request errors",
		}, []string{"route", "category"}),
		streamConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "http_stream_connections",
			Help:      "Open SSE and WebSocket connections",
		}, []string{"transport"}), // transport: sse, websocket
	}

	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.requestErrors, m.streamConnections} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
		}
	}
	return m, nil
}

// RecordRequest records a completed request. Route is the matched route template,
// never the raw path, to keep label cardinality bounded.
func (m *HTTPMetrics) RecordRequest(method, route string, statusCode int, seconds float64) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordError records a mapped error response.
func (m *HTTPMetrics) RecordError(route, category string) {
	m.requestErrors.WithLabelValues(route, category).Inc()
}

// StreamOpened increments the open stream gauge.
func (m *HTTPMetrics) StreamOpened(transport string) {
	m.streamConnections.WithLabelValues(transport).Inc()
}

// StreamClosed decrements the open stream gauge.
func (m *HTTPMetrics) StreamClosed(transport string) {
	m.streamConnections.WithLabelValues(transport).Dec()
}
