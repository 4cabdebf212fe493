// Package observability provides the Prometheus registry and the per-subsystem
// metric collectors of the service.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pneumai/pneumai-go/internal/logger"
	"github.com/pneumai/pneumai-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Ingest    *metrics.IngestMetrics
	Broadcast *metrics.BroadcastMetrics
	HTTP      *metrics.HTTPMetrics
	MQTT      *metrics.MQTTMetrics
}

// NewMetrics creates a private registry and registers every collector on it.
// Each call returns an independent registry, so tests may create as many as they need.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	ingestMetrics, err := metrics.NewIngestMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest metrics: %w", err)
	}

	broadcastMetrics, err := metrics.NewBroadcastMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Ingest:    ingestMetrics,
		Broadcast: broadcastMetrics,
		HTTP:      httpMetrics,
		MQTT:      mqttMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{log: GetLogger()},
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      m.registry,
	})
}

// promLogger routes promhttp errors to the module logger.
type promLogger struct {
	log logger.Logger
}

func (l promLogger) Println(v ...any) {
	l.log.Warn("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
