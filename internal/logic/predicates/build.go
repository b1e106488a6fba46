package predicates

import (
	"errors"
	"fmt"
	"strings"

	"github.com/patrickwarner/adselection/internal/models"
)

// Predicate types accepted in PredicateSpec.Type.
const (
	TypeCountry           = "country"
	TypeRegion            = "region"
	TypeDeviceType        = "device_type"
	TypeKeyValue          = "key_value"
	TypeCustomerAllowlist = "customer_allowlist"
	TypeMarketplace       = "marketplace"
	TypeExcludeBots       = "exclude_bots"
	TypeAlways            = "always"
)

var (
	// ErrUnknownPredicateType is returned for a spec whose type is not supported.
	ErrUnknownPredicateType = errors.New("unknown predicate type")
	// ErrInvalidSpec is returned for a spec missing required fields.
	ErrInvalidSpec = errors.New("invalid predicate spec")
)

// Build turns a stored spec into a predicate.
func Build(spec models.PredicateSpec) (models.TargetingPredicate, error) {
	var p models.TargetingPredicate
	switch strings.ToLower(spec.Type) {
	case TypeCountry:
		p = Country(spec.Values...)
	case TypeRegion:
		p = Region(spec.Values...)
	case TypeDeviceType:
		p = DeviceType(spec.Values...)
	case TypeCustomerAllowlist:
		p = CustomerAllowlist(spec.Values...)
	case TypeMarketplace:
		p = Marketplace(spec.Values...)
	case TypeKeyValue:
		if spec.Key == "" {
			return nil, fmt.Errorf("%w: key_value requires a key", ErrInvalidSpec)
		}
		p = KeyValue(spec.Key, spec.Values...)
	case TypeExcludeBots:
		p = ExcludeBots()
	case TypeAlways:
		p = Always()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPredicateType, spec.Type)
	}

	if needsValues(spec.Type) && len(spec.Values) == 0 {
		return nil, fmt.Errorf("%w: %s requires at least one value", ErrInvalidSpec, spec.Type)
	}
	if spec.Negate {
		p = Not(p)
	}
	return p, nil
}

func needsValues(t string) bool {
	switch strings.ToLower(t) {
	case TypeExcludeBots, TypeAlways:
		return false
	}
	return true
}

// BuildAll builds every spec, stopping at the first invalid one.
func BuildAll(specs []models.PredicateSpec) ([]models.TargetingPredicate, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]models.TargetingPredicate, 0, len(specs))
	for i, s := range specs {
		p, err := Build(s)
		if err != nil {
			return nil, fmt.Errorf("predicate %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// BuildGroup converts a stored record into a TargetingGroup.
func BuildGroup(rec models.TargetingGroupRecord) (models.TargetingGroup, error) {
	preds, err := BuildAll(rec.Predicates)
	if err != nil {
		return models.TargetingGroup{}, fmt.Errorf("targeting group %s: %w", rec.ID, err)
	}
	g := models.TargetingGroup{
		ID:               rec.ID,
		ContentID:        rec.ContentID,
		ClickThroughRate: rec.ClickThroughRate,
		Predicates:       preds,
	}
	if err := g.Validate(); err != nil {
		return models.TargetingGroup{}, err
	}
	return g, nil
}

// BuildGroups converts records, preserving their order.
func BuildGroups(recs []models.TargetingGroupRecord) ([]models.TargetingGroup, error) {
	out := make([]models.TargetingGroup, 0, len(recs))
	for _, r := range recs {
		g, err := BuildGroup(r)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}
