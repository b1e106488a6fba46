package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/models"
)

var errNilPredicate = errors.New("nil predicate")

// PredicateError describes a predicate that returned an error, panicked or
// was missing. It matches logic.ErrPredicateEvaluation with errors.Is.
type PredicateError struct {
	GroupID string
	Index   int
	Panic   bool
	Err     error
}

func (e *PredicateError) Error() string {
	kind := "failed"
	if e.Panic {
		kind = "panicked"
	}
	return fmt.Sprintf("predicate %d of targeting group %s %s: %v", e.Index, e.GroupID, kind, e.Err)
}

func (e *PredicateError) Unwrap() []error {
	return []error{logic.ErrPredicateEvaluation, e.Err}
}

// reason labels the error for the predicate_errors metric.
func (e *PredicateError) reason() string {
	switch {
	case e.Panic:
		return "panic"
	case errors.Is(e.Err, errNilPredicate):
		return "nil_predicate"
	default:
		return "error"
	}
}

// taskResult is what a worker reports back to the evaluating call.
type taskResult struct {
	index  int
	result models.PredicateResult
	err    error
}

// task evaluates one predicate of a group on its own goroutine.
type task struct {
	groupID   string
	index     int
	predicate models.TargetingPredicate
	rc        *models.RequestContext
}

// run evaluates the predicate and sends exactly one result. The channel is
// buffered for every task of the call, so the send never blocks even after
// the call has stopped listening.
func (t task) run(ctx context.Context, out chan<- taskResult) {
	res := taskResult{index: t.index, result: models.PredicateFalse}
	defer func() {
		if r := recover(); r != nil {
			res.result = models.PredicateFalse
			res.err = &PredicateError{GroupID: t.groupID, Index: t.index, Panic: true, Err: fmt.Errorf("%v", r)}
		}
		out <- res
	}()

	if t.predicate == nil {
		res.err = &PredicateError{GroupID: t.groupID, Index: t.index, Err: errNilPredicate}
		return
	}
	result, err := t.predicate.Evaluate(ctx, t.rc)
	if err != nil {
		res.err = &PredicateError{GroupID: t.groupID, Index: t.index, Err: err}
		return
	}
	res.result = result
}
