package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	apiErrorsTotal         *prometheus.CounterVec
	gradingOutcomesTotal   *prometheus.CounterVec
	batchStatesTotal       *prometheus.CounterVec
	historySnapshotsTotal  *prometheus.CounterVec
	rateLimitDecisionTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grader_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		gradingOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_exercise_outcomes_total",
			Help: "Graded exercises partitioned by strategy and outcome.",
		}, []string{"strategy", "outcome"})

		batchStatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_batch_final_states_total",
			Help: "Batch submissions partitioned by the last state reached.",
		}, []string{"state"})

		historySnapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_history_snapshots_total",
			Help: "History freeze calls partitioned by whether a record was written.",
		}, []string{"result"})

		rateLimitDecisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_rate_limit_decisions_total",
			Help: "Rate limiter decisions partitioned by result and backing store.",
		}, []string{"result", "store"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			gradingOutcomesTotal,
			batchStatesTotal,
			historySnapshotsTotal,
			rateLimitDecisionTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradingOutcomes exposes the per-exercise outcome counter.
func GradingOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingOutcomesTotal
}

// BatchStates exposes the batch state counter.
func BatchStates() *prometheus.CounterVec {
	RegisterMetrics()
	return batchStatesTotal
}

// HistorySnapshots exposes the history freeze counter.
func HistorySnapshots() *prometheus.CounterVec {
	RegisterMetrics()
	return historySnapshotsTotal
}

// RateLimitDecisions exposes the limiter decision counter.
func RateLimitDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return rateLimitDecisionTotal
}
