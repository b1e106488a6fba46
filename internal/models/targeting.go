package models

// TargetingContext holds request attributes that targeting predicates may
// inspect. It is populated by the service layer from the User-Agent string,
// the client IP address (geo-location) and any key/values passed on the ad
// request. Empty fields mean the attribute could not be resolved; predicates
// that depend on an unresolved attribute report an indeterminate result
// rather than guessing.
type TargetingContext struct {
	DeviceType string // "mobile", "desktop", "tablet" or "other". Derived from User-Agent.
	OS         string // Operating system name and version, e.g. "iOS 15.1".
	Browser    string // Browser name and version, e.g. "Chrome 98.0".
	IsBot      bool   // True if the User-Agent is a known bot or crawler.
	Country    string // ISO 3166-1 alpha-2 country code derived from the IP address.
	Region     string // Subdivision code derived from the IP address (e.g. "CA", "ON").
	// KeyValues contains caller supplied signals such as content category or
	// subscription tier. Predicates of type key_value match against them.
	KeyValues map[string]string
}
