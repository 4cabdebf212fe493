// Package metrics provides the Prometheus collectors for each subsystem.
package metrics

// Namespace prefixes every metric name.
const Namespace = "pneumai"

// Submission outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Histogram bucket layouts.
var (
	// 10ms to ~82s
	inferenceBuckets = []float64{0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64, 1.28, 2.56, 5.12, 10.24, 20.48, 40.96, 81.92}
	// 1ms to ~16s
	httpBuckets = []float64{0.001, 0.002, 0.004, 0.008, 0.016, 0.032, 0.064, 0.128, 0.256, 0.512, 1.024, 2.048, 4.096, 8.192, 16.384}
)
