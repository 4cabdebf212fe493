package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// BroadcastMetrics contains Prometheus metrics for the event broadcaster.
// It satisfies events.Recorder.
type BroadcastMetrics struct {
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	evicted     prometheus.Counter
	subscribers prometheus.Gauge
}

// NewBroadcastMetrics creates and registers the broadcaster metrics.
func NewBroadcastMetrics(registry prometheus.Registerer) (*BroadcastMetrics, error) {
	m := &BroadcastMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_published_total",
			Help:      "Events accepted by the broadcaster",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the buffer was full",
		}, []string{"type"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_delivered_total",
			Help:      "Events delivered to live subscribers",
		}, []string{"type"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "event_subscribers_evicted_total",
			Help:      "Subscribers evicted for exceeding the send timeout",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "event_subscribers",
			Help:      "Currently connected live subscribers",
		}),
	}

	for _, c := range []prometheus.Collector{m.published, m.dropped, m.delivered, m.evicted, m.subscribers} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register broadcast metrics: %w", err)
		}
	}
	return m, nil
}

// RecordPublished counts an accepted event.
func (m *BroadcastMetrics) RecordPublished(eventType string) {
	m.published.WithLabelValues(eventType).Inc()
}

// RecordDropped counts a dropped event.
func (m *BroadcastMetrics) RecordDropped(eventType string) {
	m.dropped.WithLabelValues(eventType).Inc()
}

// RecordDelivered counts one delivery to one subscriber.
func (m *BroadcastMetrics) RecordDelivered(eventType string) {
	m.delivered.WithLabelValues(eventType).Inc()
}

// RecordEvicted counts an evicted subscriber.
func (m *BroadcastMetrics) RecordEvicted() {
	m.evicted.Inc()
}

// SetSubscribers sets the live subscriber gauge.
func (m *BroadcastMetrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}

// Subscribers returns the current gauge value.
func (m *BroadcastMetrics) Subscribers() float64 {
	metric := &dto.Metric{}
	if err := m.subscribers.Write(metric); err != nil {
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}
