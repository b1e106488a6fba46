// Package predicates provides the concrete targeting rules understood by the
// catalog, and builds them from their stored PredicateSpec form.
package predicates

import (
	"context"
	"strings"

	"github.com/patrickwarner/adselection/internal/models"
)

// attributePredicate matches one request attribute against a set of accepted
// values. Values are compared case-insensitively.
type attributePredicate struct {
	name   string
	attr   func(rc *models.RequestContext) (value string, known bool)
	values map[string]struct{}
}

func newAttributePredicate(name string, attr func(*models.RequestContext) (string, bool), values []string) attributePredicate {
	return attributePredicate{name: name, attr: attr, values: valueSet(values)}
}

func valueSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

func (p attributePredicate) Evaluate(_ context.Context, rc *models.RequestContext) (models.PredicateResult, error) {
	if rc == nil {
		return models.PredicateIndeterminate, nil
	}
	v, known := p.attr(rc)
	if !known {
		return models.PredicateIndeterminate, nil
	}
	if _, ok := p.values[strings.ToLower(v)]; ok {
		return models.PredicateTrue, nil
	}
	return models.PredicateFalse, nil
}

func (p attributePredicate) String() string {
	return p.name
}

// knownString treats the empty string as an unresolved attribute.
func knownString(v string) (string, bool) {
	return v, v != ""
}

// Country matches the ISO country code resolved from the client address.
// Unknown geography is indeterminate.
func Country(codes ...string) models.TargetingPredicate {
	return newAttributePredicate(TypeCountry, func(rc *models.RequestContext) (string, bool) {
		return knownString(rc.Targeting.Country)
	}, codes)
}

// Region matches the subdivision code resolved from the client address.
func Region(codes ...string) models.TargetingPredicate {
	return newAttributePredicate(TypeRegion, func(rc *models.RequestContext) (string, bool) {
		return knownString(rc.Targeting.Region)
	}, codes)
}

// DeviceType matches the device class derived from the User-Agent.
func DeviceType(types ...string) models.TargetingPredicate {
	return newAttributePredicate(TypeDeviceType, func(rc *models.RequestContext) (string, bool) {
		return knownString(rc.Targeting.DeviceType)
	}, types)
}

// CustomerAllowlist holds for the listed customers only. Anonymous requests
// are indeterminate.
func CustomerAllowlist(customerIDs ...string) models.TargetingPredicate {
	return newAttributePredicate(TypeCustomerAllowlist, func(rc *models.RequestContext) (string, bool) {
		return knownString(rc.CustomerID)
	}, customerIDs)
}

// Marketplace holds when the request targets one of the listed marketplaces.
func Marketplace(ids ...string) models.TargetingPredicate {
	return newAttributePredicate(TypeMarketplace, func(rc *models.RequestContext) (string, bool) {
		return knownString(rc.MarketplaceID)
	}, ids)
}

type keyValue struct {
	key    string
	values map[string]struct{}
}

// KeyValue holds when the request carries key with one of the given values.
// A missing key is false: the caller did not send the signal.
func KeyValue(key string, values ...string) models.TargetingPredicate {
	return keyValue{key: key, values: valueSet(values)}
}

func (p keyValue) Evaluate(_ context.Context, rc *models.RequestContext) (models.PredicateResult, error) {
	v, ok := rc.KeyValue(p.key)
	if !ok {
		return models.PredicateFalse, nil
	}
	if _, hit := p.values[strings.ToLower(v)]; hit {
		return models.PredicateTrue, nil
	}
	return models.PredicateFalse, nil
}

func (p keyValue) String() string { return TypeKeyValue + ":" + p.key }

type excludeBots struct{}

// ExcludeBots is false for requests identified as crawlers.
func ExcludeBots() models.TargetingPredicate {
	return excludeBots{}
}

func (excludeBots) Evaluate(_ context.Context, rc *models.RequestContext) (models.PredicateResult, error) {
	if rc != nil && rc.Targeting.IsBot {
		return models.PredicateFalse, nil
	}
	return models.PredicateTrue, nil
}

func (excludeBots) String() string { return TypeExcludeBots }

type always struct{}

// Always is a predicate that is always true.
func Always() models.TargetingPredicate {
	return always{}
}

func (always) Evaluate(context.Context, *models.RequestContext) (models.PredicateResult, error) {
	return models.PredicateTrue, nil
}

func (always) String() string { return TypeAlways }

type negated struct {
	inner models.TargetingPredicate
}

// Not inverts decided results of p. Indeterminate results and errors pass
// through unchanged.
func Not(p models.TargetingPredicate) models.TargetingPredicate {
	return negated{inner: p}
}

func (n negated) Evaluate(ctx context.Context, rc *models.RequestContext) (models.PredicateResult, error) {
	res, err := n.inner.Evaluate(ctx, rc)
	if err != nil {
		return res, err
	}
	switch res {
	case models.PredicateTrue:
		return models.PredicateFalse, nil
	case models.PredicateFalse:
		return models.PredicateTrue, nil
	default:
		return res, nil
	}
}
