package models

// RequestContext carries the identifiers a selection call is evaluated
// against. It is built once per call and shared read-only by every predicate
// worker, so it must never be mutated after construction.
type RequestContext struct {
	CustomerID    string // Optional; used for per-customer predicates only.
	MarketplaceID string // Required; empty ids never reach predicate evaluation.
	// Targeting holds attributes derived from the incoming request (device,
	// geography, caller key/values). Zero values mean "unknown".
	Targeting TargetingContext
}

// NewRequestContext returns a RequestContext for the given identifiers and
// request attributes. The key/value map is copied so callers cannot mutate
// the context after the fact.
func NewRequestContext(customerID, marketplaceID string, targeting TargetingContext) *RequestContext {
	if len(targeting.KeyValues) > 0 {
		kv := make(map[string]string, len(targeting.KeyValues))
		for k, v := range targeting.KeyValues {
			kv[k] = v
		}
		targeting.KeyValues = kv
	}
	return &RequestContext{
		CustomerID:    customerID,
		MarketplaceID: marketplaceID,
		Targeting:     targeting,
	}
}

// KeyValue returns the request key/value for key and whether it was present.
func (rc *RequestContext) KeyValue(key string) (string, bool) {
	if rc == nil || rc.Targeting.KeyValues == nil {
		return "", false
	}
	v, ok := rc.Targeting.KeyValues[key]
	return v, ok
}
