package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for the upload pipeline.
type IngestMetrics struct {
	Submissions       *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	PipelineDuration  *prometheus.HistogramVec
	ActiveInferences  prometheus.Gauge
	RiskLevels        *prometheus.CounterVec
	Failures          *prometheus.CounterVec
}

// NewIngestMetrics creates and registers the ingest metrics.
func NewIngestMetrics(registry prometheus.Registerer) (*IngestMetrics, error) {
	m := &IngestMetrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scan_submissions_total",
			Help:      "Scan submissions by outcome",
		}, []string{"outcome"}), // outcome: created, duplicate, retried, failed, rejected
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "inference_duration_seconds",
			Help:      "Time spent in the detection model",
			Buckets:   inferenceBuckets,
		}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end submission time",
			Buckets:   inferenceBuckets,
		}, []string{"outcome"}),
		ActiveInferences: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_inferences",
			Help:      "Inferences currently holding a worker slot",
		}),
		RiskLevels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scan_risk_levels_total",
			Help:      "Completed scans by risk level",
		}, []string{"level"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scan_failures_total",
			Help:      "Pipeline failures by error category",
		}, []string{"category"}),
	}

	for _, c := range m.collectors() {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register ingest metrics: %w", err)
		}
	}
	return m, nil
}

func (m *IngestMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Submissions, m.InferenceDuration, m.PipelineDuration,
		m.ActiveInferences, m.RiskLevels, m.Failures,
	}
}

// RecordSubmission counts a submission and observes its duration.
func (m *IngestMetrics) RecordSubmission(outcome string, seconds float64) {
	m.Submissions.WithLabelValues(outcome).Inc()
	m.PipelineDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordInference observes one model invocation.
func (m *IngestMetrics) RecordInference(seconds float64) {
	m.InferenceDuration.Observe(seconds)
}

// InferenceStarted marks a worker slot busy.
func (m *IngestMetrics) InferenceStarted() { m.ActiveInferences.Inc() }

// InferenceFinished frees a worker slot.
func (m *IngestMetrics) InferenceFinished() { m.ActiveInferences.Dec() }

// RecordRiskLevel counts a completed scan by level.
func (m *IngestMetrics) RecordRiskLevel(level string) {
	m.RiskLevels.WithLabelValues(level).Inc()
}

// RecordFailure counts a pipeline failure by category.
func (m *IngestMetrics) RecordFailure(category string) {
	m.Failures.WithLabelValues(category).Inc()
}
