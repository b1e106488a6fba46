package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection instead of touching the Prometheus
// globals directly.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Selection metrics
	IncrementSelections(result string)
	RecordSelectionLatency(duration time.Duration)

	// Targeting evaluation metrics
	IncrementGroupEvaluations(result string)
	RecordGroupEvaluationLatency(duration time.Duration)
	IncrementPredicateErrors(reason string)

	// Catalog metrics
	IncrementLookupErrors(source string)
	IncrementCatalogReloads(outcome string)

	// Event tracking metrics
	IncrementEvent(eventType string)

	// CTR prediction metrics
	IncrementCTRPredictionRequests(outcome string)
	RecordCTRPredictionLatency(duration time.Duration)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementSelections(result string) {
	SelectionCount.WithLabelValues(result).Inc()
}

func (r *PrometheusRegistry) RecordSelectionLatency(duration time.Duration) {
	SelectionLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementGroupEvaluations(result string) {
	GroupEvaluationCount.WithLabelValues(result).Inc()
}

func (r *PrometheusRegistry) RecordGroupEvaluationLatency(duration time.Duration) {
	GroupEvaluationLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementPredicateErrors(reason string) {
	PredicateErrors.WithLabelValues(reason).Inc()
}

func (r *PrometheusRegistry) IncrementLookupErrors(source string) {
	LookupErrors.WithLabelValues(source).Inc()
}

func (r *PrometheusRegistry) IncrementCatalogReloads(outcome string) {
	CatalogReloads.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementCTRPredictionRequests(outcome string) {
	CTRPredictionRequests.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordCTRPredictionLatency(duration time.Duration) {
	CTRPredictionLatency.Observe(duration.Seconds())
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementSelections(result string)                                    {}
func (r *NoOpRegistry) RecordSelectionLatency(duration time.Duration)                        {}
func (r *NoOpRegistry) IncrementGroupEvaluations(result string)                              {}
func (r *NoOpRegistry) RecordGroupEvaluationLatency(duration time.Duration)                  {}
func (r *NoOpRegistry) IncrementPredicateErrors(reason string)                               {}
func (r *NoOpRegistry) IncrementLookupErrors(source string)                                  {}
func (r *NoOpRegistry) IncrementCatalogReloads(outcome string)                               {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}
func (r *NoOpRegistry) IncrementCTRPredictionRequests(outcome string)                        {}
func (r *NoOpRegistry) RecordCTRPredictionLatency(duration time.Duration)                    {}
