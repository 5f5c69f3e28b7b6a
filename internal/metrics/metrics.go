package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptlift_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptlift_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PipelineStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptlift_pipeline_step_duration_seconds",
			Help:    "Duration of each prompt-upgrade pipeline step.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	PipelineStepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptlift_pipeline_step_failures_total",
			Help: "Total step-local failures absorbed by the pipeline.",
		},
		[]string{"step"},
	)

	PipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptlift_pipeline_requests_total",
			Help: "Total prompt-upgrade requests by outcome.",
		},
		[]string{"outcome"},
	)

	RetrievalDocuments = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptlift_retrieval_documents",
			Help:    "Documents per retrieval pass, before and after filtering.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 15},
		},
		[]string{"stage"},
	)

	RolloutDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptlift_rollout_decisions_total",
			Help: "Version-eligibility decisions by result.",
		},
		[]string{"result"},
	)

	RolloutTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptlift_rollout_transitions_total",
			Help: "Canary stage transitions by direction.",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PipelineStepDuration,
		PipelineStepFailures,
		PipelineRequestsTotal,
		RetrievalDocuments,
		RolloutDecisionsTotal,
		RolloutTransitionsTotal,
	)
}
