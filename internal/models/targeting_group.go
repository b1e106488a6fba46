package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidClickThroughRate is returned when a targeting group's CTR falls
// outside [0,1].
var ErrInvalidClickThroughRate = errors.New("click through rate must be within [0,1]")

// TargetingGroup bundles the predicates that decide whether a content item
// may be shown, together with the predicted click-through rate used to rank
// eligible content. A group is eligible when every predicate evaluates to
// true; a group without predicates is always eligible.
type TargetingGroup struct {
	ID               string
	ContentID        string
	ClickThroughRate float64
	Predicates       []TargetingPredicate
}

// Validate checks the group's CTR range.
func (g TargetingGroup) Validate() error {
	if math.IsNaN(g.ClickThroughRate) || g.ClickThroughRate < 0 || g.ClickThroughRate > 1 {
		return fmt.Errorf("targeting group %s: %w (got %v)", g.ID, ErrInvalidClickThroughRate, g.ClickThroughRate)
	}
	return nil
}

// PredicateSpec is the stored, declarative form of a targeting predicate.
// Specs are persisted as JSON and turned into TargetingPredicate values by
// the predicates package.
type PredicateSpec struct {
	// Type selects the rule: country, region, device_type, key_value,
	// customer_allowlist, marketplace, exclude_bots or always.
	Type string `json:"type"`
	// Values lists accepted values for list based rules. Matching is case
	// insensitive.
	Values []string `json:"values,omitempty"`
	// Key names the request key/value inspected by key_value rules.
	Key string `json:"key,omitempty"`
	// Negate inverts a decided result. Indeterminate results stay
	// indeterminate.
	Negate bool `json:"negate,omitempty"`
}

// TargetingGroupRecord is the storage representation of a TargetingGroup.
type TargetingGroupRecord struct {
	ID               string          `json:"id"`
	ContentID        string          `json:"content_id"`
	ClickThroughRate float64         `json:"click_through_rate"`
	Predicates       []PredicateSpec `json:"predicates,omitempty"`
	// Position orders groups belonging to the same content item.
	Position int `json:"position"`
}
