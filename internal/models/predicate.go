package models

import "context"

// PredicateResult is the tri-state outcome of a targeting predicate.
type PredicateResult int

const (
	// PredicateFalse means the rule is known not to hold.
	PredicateFalse PredicateResult = iota
	// PredicateTrue means the rule holds for the request.
	PredicateTrue
	// PredicateIndeterminate means the rule could not be decided, typically
	// because a request attribute it needs is unknown. It never makes a
	// targeting group eligible.
	PredicateIndeterminate
)

// IsTrue reports whether r is PredicateTrue.
func (r PredicateResult) IsTrue() bool {
	return r == PredicateTrue
}

func (r PredicateResult) String() string {
	switch r {
	case PredicateTrue:
		return "true"
	case PredicateFalse:
		return "false"
	case PredicateIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// TargetingPredicate is a single eligibility rule. Implementations must be
// free of side effects and safe to call from many goroutines at once.
// The context is cancelled when the result is no longer needed; long running
// predicates should watch it and return early.
type TargetingPredicate interface {
	Evaluate(ctx context.Context, rc *RequestContext) (PredicateResult, error)
}

// PredicateFunc adapts an ordinary function to TargetingPredicate.
type PredicateFunc func(ctx context.Context, rc *RequestContext) (PredicateResult, error)

// Evaluate calls f(ctx, rc).
func (f PredicateFunc) Evaluate(ctx context.Context, rc *RequestContext) (PredicateResult, error) {
	return f(ctx, rc)
}
