package models

// NewTestAdDataStore creates an in-memory data store preloaded with the given
// catalog. It panics on invalid input since it is meant for tests only.
func NewTestAdDataStore(contents []AdvertisementContent, groups []TargetingGroup) AdDataStore {
	store := NewInMemoryAdDataStore()
	if err := store.ReloadAll(contents, groups); err != nil {
		panic(err)
	}
	return store
}
