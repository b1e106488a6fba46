package logic

import "errors"

var (
	// ErrDataUnavailable is returned when a catalog lookup (content or
	// targeting groups) fails. It is never masked as an empty selection.
	ErrDataUnavailable = errors.New("advertisement data unavailable")

	// ErrPredicateEvaluation marks a predicate that failed or panicked. Such
	// failures are contained by the evaluator and count as false.
	ErrPredicateEvaluation = errors.New("predicate evaluation failed")
)
