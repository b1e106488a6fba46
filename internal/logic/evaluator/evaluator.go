// Package evaluator decides whether a targeting group is eligible for a
// request by evaluating its predicates concurrently.
package evaluator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// Reasons reported in GroupOutcome.Reason and as the group evaluation metric label.
const (
	ReasonNoPredicates  = "no_predicates"
	ReasonAllTrue       = "all_true"
	ReasonFalse         = "predicate_false"
	ReasonIndeterminate = "predicate_indeterminate"
	ReasonError         = "predicate_error"
	ReasonCancelled     = "cancelled"
	ReasonTimeout       = "timeout"
)

// GroupOutcome is the detailed result of evaluating one targeting group.
type GroupOutcome struct {
	// Result is always PredicateTrue or PredicateFalse.
	Result models.PredicateResult
	// Dispatched counts the predicate workers started.
	Dispatched int
	// Received counts results consumed before the outcome was decided.
	Received int
	// Errors holds the *PredicateError values that were observed.
	Errors []error
	// Reason says why the group resolved the way it did.
	Reason string
}

// Evaluator evaluates targeting groups against a single request. It keeps no
// per-call state, so one Evaluator may evaluate many groups at once.
type Evaluator struct {
	rc           *models.RequestContext
	logger       *zap.Logger
	metrics      observability.MetricsRegistry
	groupTimeout time.Duration
}

// New returns an Evaluator bound to rc. The request context is shared
// read-only with every predicate worker.
func New(rc *models.RequestContext) *Evaluator {
	return &Evaluator{
		rc:      rc,
		logger:  zap.NewNop(),
		metrics: observability.NewNoOpRegistry(),
	}
}

// SetLogger configures the logger used for predicate failure warnings.
func (e *Evaluator) SetLogger(logger *zap.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetMetrics configures the metrics registry.
func (e *Evaluator) SetMetrics(metrics observability.MetricsRegistry) {
	if metrics != nil {
		e.metrics = metrics
	}
}

// SetGroupTimeout bounds how long a single group may take. Zero disables
// the bound; an expired group resolves to false.
func (e *Evaluator) SetGroupTimeout(d time.Duration) {
	e.groupTimeout = d
}

// Evaluate reports PredicateTrue when every predicate of group is true and
// PredicateFalse otherwise.
func (e *Evaluator) Evaluate(ctx context.Context, group models.TargetingGroup) models.PredicateResult {
	return e.EvaluateGroup(ctx, group).Result
}

// EvaluateGroup evaluates group and returns the full outcome.
//
// Every predicate runs on its own goroutine. The first result that is not
// true decides the group and cancels the context handed to the remaining
// workers; their late results are discarded. A group without predicates is
// true and starts no goroutines.
func (e *Evaluator) EvaluateGroup(ctx context.Context, group models.TargetingGroup) GroupOutcome {
	start := time.Now()
	out := e.evaluate(ctx, group)
	e.metrics.RecordGroupEvaluationLatency(time.Since(start))
	e.metrics.IncrementGroupEvaluations(out.Reason)
	return out
}

func (e *Evaluator) evaluate(ctx context.Context, group models.TargetingGroup) GroupOutcome {
	n := len(group.Predicates)
	if n == 0 {
		return GroupOutcome{Result: models.PredicateTrue, Reason: ReasonNoPredicates}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if e.groupTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.groupTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	results := make(chan taskResult, n)
	for i, p := range group.Predicates {
		t := task{groupID: group.ID, index: i, predicate: p, rc: e.rc}
		go t.run(callCtx, results)
	}

	out := GroupOutcome{Result: models.PredicateFalse, Dispatched: n}
	for out.Received < n {
		select {
		case r := <-results:
			out.Received++
			if r.err != nil {
				if callCtx.Err() != nil {
					out.Reason = stopReason(ctx)
					e.reportStop(group, out.Reason)
					return out
				}
				e.reportError(group, r.err)
				out.Errors = append(out.Errors, r.err)
				out.Reason = ReasonError
				return out
			}
			switch r.result {
			case models.PredicateTrue:
			case models.PredicateIndeterminate:
				out.Reason = ReasonIndeterminate
				return out
			default:
				out.Reason = ReasonFalse
				return out
			}
		case <-callCtx.Done():
			out.Reason = stopReason(ctx)
			e.reportStop(group, out.Reason)
			return out
		}
	}

	out.Result = models.PredicateTrue
	out.Reason = ReasonAllTrue
	return out
}

// stopReason distinguishes a cancelled request from an expired group bound.
func stopReason(parent context.Context) string {
	if parent.Err() != nil {
		return ReasonCancelled
	}
	return ReasonTimeout
}

// reportStop reports expired group bounds. Cancelled requests are not
// predicate failures.
func (e *Evaluator) reportStop(group models.TargetingGroup, reason string) {
	if reason == ReasonTimeout {
		e.reportTimeout(group)
	}
}

func (e *Evaluator) reportTimeout(group models.TargetingGroup) {
	e.logger.Warn("targeting group evaluation timed out",
		zap.String("group_id", group.ID),
		zap.String("content_id", group.ContentID),
		zap.Duration("timeout", e.groupTimeout),
	)
	e.metrics.IncrementPredicateErrors("timeout")
}

func (e *Evaluator) reportError(group models.TargetingGroup, err error) {
	reason := "error"
	var pe *PredicateError
	if errors.As(err, &pe) {
		reason = pe.reason()
	}
	e.metrics.IncrementPredicateErrors(reason)
	e.logger.Warn("predicate evaluation failed, treating as false",
		zap.String("group_id", group.ID),
		zap.String("content_id", group.ContentID),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
