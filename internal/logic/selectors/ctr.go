package selectors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/evaluator"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// Selection outcomes used as the selections metric label.
const (
	OutcomeGenerated       = "generated"
	OutcomeInvalidInput    = "invalid_input"
	OutcomeNoContent       = "no_content"
	OutcomeNoEligible      = "no_eligible"
	OutcomeDataUnavailable = "data_unavailable"
	OutcomeCancelled       = "cancelled"
)

// candidate is the first eligible targeting group found for a content item.
type candidate struct {
	content models.AdvertisementContent
	group   models.TargetingGroup
}

// preferCandidate reports whether c should replace best. Ties go to the
// later candidate.
func preferCandidate(c candidate, best *candidate) bool {
	return best == nil || c.group.ClickThroughRate >= best.group.ClickThroughRate
}

// CTRSelector picks, among the content items of a marketplace that have an
// eligible targeting group, the one whose first eligible group has the
// highest predicted click-through rate.
type CTRSelector struct {
	contents     models.ContentLookup
	groups       models.TargetingGroupLookup
	logger       *zap.Logger
	metrics      observability.MetricsRegistry
	tracer       trace.Tracer
	groupTimeout time.Duration
}

// NewCTRSelector constructs a CTRSelector over the given lookups.
func NewCTRSelector(contents models.ContentLookup, groups models.TargetingGroupLookup) *CTRSelector {
	return &CTRSelector{
		contents: contents,
		groups:   groups,
		logger:   zap.NewNop(),
		metrics:  observability.NewNoOpRegistry(),
		tracer:   observability.Tracer("adselection/selectors"),
	}
}

// SetLogger configures the logger for this selector.
func (s *CTRSelector) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics configures the metrics registry for this selector.
func (s *CTRSelector) SetMetrics(metrics observability.MetricsRegistry) {
	if metrics != nil {
		s.metrics = metrics
	}
}

// SetGroupTimeout bounds the evaluation of each targeting group. Zero
// disables the bound.
func (s *CTRSelector) SetGroupTimeout(d time.Duration) {
	s.groupTimeout = d
}

// SelectAdvertisement selects content for a request carrying only customer
// and marketplace identity.
func (s *CTRSelector) SelectAdvertisement(ctx context.Context, customerID, marketplaceID string) (models.SelectionResult, error) {
	rc := models.NewRequestContext(customerID, marketplaceID, models.TargetingContext{})
	return s.SelectForRequest(ctx, rc, nil)
}

// SelectForRequest runs a selection for rc, recording steps into trace when
// it is non-nil. Lookup failures are returned wrapped in
// logic.ErrDataUnavailable; a missing marketplace id yields an empty result.
func (s *CTRSelector) SelectForRequest(ctx context.Context, rc *models.RequestContext, tr *logic.SelectionTrace) (models.SelectionResult, error) {
	start := time.Now()
	marketplaceID := ""
	if rc != nil {
		marketplaceID = rc.MarketplaceID
	}
	ctx, span := s.tracer.Start(ctx, "SelectAdvertisement",
		trace.WithAttributes(attribute.String("marketplace_id", marketplaceID)))
	defer span.End()

	result, outcome, err := s.performSelection(ctx, rc, tr)

	s.metrics.RecordSelectionLatency(time.Since(start))
	s.metrics.IncrementSelections(outcome)
	span.SetAttributes(attribute.String("selection.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.EmptySelection(), err
	}
	if !result.IsEmpty() {
		span.SetAttributes(attribute.String("content_id", result.Content.ContentID))
	}
	return result, nil
}

func (s *CTRSelector) performSelection(ctx context.Context, rc *models.RequestContext, tr *logic.SelectionTrace) (models.SelectionResult, string, error) {
	if rc == nil || rc.MarketplaceID == "" {
		return models.EmptySelection(), OutcomeInvalidInput, nil
	}

	contents, err := s.contents.GetContents(ctx, rc.MarketplaceID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.EmptySelection(), OutcomeCancelled, ctxErr
		}
		s.metrics.IncrementLookupErrors("contents")
		return models.EmptySelection(), OutcomeDataUnavailable, unavailable("contents for marketplace "+rc.MarketplaceID, err)
	}
	tr.AddStep("candidates", contents)
	if len(contents) == 0 {
		return models.EmptySelection(), OutcomeNoContent, nil
	}

	eval := evaluator.New(rc)
	eval.SetLogger(s.logger)
	eval.SetMetrics(s.metrics)
	eval.SetGroupTimeout(s.groupTimeout)

	var best *candidate
	for _, content := range contents {
		if err := ctx.Err(); err != nil {
			return models.EmptySelection(), OutcomeCancelled, err
		}

		groups, err := s.groups.GetTargetingGroups(ctx, content.ContentID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return models.EmptySelection(), OutcomeCancelled, ctxErr
			}
			s.metrics.IncrementLookupErrors("targeting_groups")
			return models.EmptySelection(), OutcomeDataUnavailable, unavailable("targeting groups for content "+content.ContentID, err)
		}
		if len(groups) == 0 {
			tr.AddGroupStep("skipped", content.ContentID, "", map[string]string{"reason": "no_targeting_groups"})
			continue
		}

		for _, group := range groups {
			out := eval.EvaluateGroup(ctx, group)
			if out.Reason == evaluator.ReasonCancelled {
				return models.EmptySelection(), OutcomeCancelled, ctx.Err()
			}
			tr.AddGroupStep("group_evaluated", content.ContentID, group.ID, map[string]string{
				"result": out.Result.String(),
				"reason": out.Reason,
				"ctr":    strconv.FormatFloat(group.ClickThroughRate, 'f', -1, 64),
			})
			if !out.Result.IsTrue() {
				continue
			}
			c := candidate{content: content, group: group}
			if preferCandidate(c, best) {
				best = &c
			}
			break
		}
	}

	if best == nil {
		return models.EmptySelection(), OutcomeNoEligible, nil
	}

	tr.AddGroupStep("winner", best.content.ContentID, best.group.ID, map[string]string{
		"ctr": strconv.FormatFloat(best.group.ClickThroughRate, 'f', -1, 64),
	})
	if observability.ShouldSample(observability.GetSamplingRate()) {
		s.logger.Info("advertisement selected",
			zap.String("marketplace_id", rc.MarketplaceID),
			zap.String("content_id", best.content.ContentID),
			zap.String("group_id", best.group.ID),
			zap.Float64("ctr", best.group.ClickThroughRate),
		)
	}
	return models.GeneratedSelection(best.content), OutcomeGenerated, nil
}

// unavailable wraps a lookup failure so callers can match
// logic.ErrDataUnavailable.
func unavailable(what string, err error) error {
	if errors.Is(err, logic.ErrDataUnavailable) {
		return fmt.Errorf("loading %s: %w", what, err)
	}
	return fmt.Errorf("%w: loading %s: %w", logic.ErrDataUnavailable, what, err)
}
