package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adselection_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// selection calls labelled by result: generated, empty, invalid_input, error
	SelectionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_selections_total",
			Help: "Total advertisement selection calls by result",
		},
		[]string{"result"},
	)

	SelectionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adselection_selection_duration_seconds",
			Help:    "Duration of advertisement selection calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// targeting group evaluations labelled by outcome (true/false)
	GroupEvaluationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_group_evaluations_total",
			Help: "Total targeting group evaluations by outcome",
		},
		[]string{"result"},
	)

	GroupEvaluationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adselection_group_evaluation_duration_seconds",
			Help:    "Duration of targeting group evaluations",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// predicate failures contained by the evaluator, by reason
	PredicateErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_predicate_errors_total",
			Help: "Total predicate evaluation failures treated as false",
		},
		[]string{"reason"},
	)

	// catalog lookup failures by source (content, targeting_group)
	LookupErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_lookup_errors_total",
			Help: "Total catalog lookup failures",
		},
		[]string{"source"},
	)

	// catalog reloads by outcome
	CatalogReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_catalog_reloads_total",
			Help: "Total catalog reload attempts",
		},
		[]string{"outcome"},
	)

	// number of analytics events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_events_total",
			Help: "Total events recorded",
		},
		[]string{"type"},
	)

	// CTR prediction requests labelled by outcome
	CTRPredictionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselection_ctr_prediction_total",
			Help: "Total CTR prediction requests",
		},
		[]string{"outcome"},
	)

	// Latency of CTR prediction service calls
	CTRPredictionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adselection_ctr_prediction_duration_seconds",
			Help:    "Duration of CTR prediction requests",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		SelectionCount,
		SelectionLatency,
		GroupEvaluationCount,
		GroupEvaluationLatency,
		PredicateErrors,
		LookupErrors,
		CatalogReloads,
		EventCount,
		CTRPredictionRequests,
		CTRPredictionLatency,
	)
}
