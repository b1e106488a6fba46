package models

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNotFound is returned when an entity is not found in the data store
var ErrNotFound = errors.New("entity not found")

// ContentLookup retrieves the candidate advertisement content for a
// marketplace in a stable order. An unknown marketplace yields an empty slice.
type ContentLookup interface {
	GetContents(ctx context.Context, marketplaceID string) ([]AdvertisementContent, error)
}

// TargetingGroupLookup retrieves the targeting groups attached to a content
// item in declaration order. An unknown content id yields an empty slice.
type TargetingGroupLookup interface {
	GetTargetingGroups(ctx context.Context, contentID string) ([]TargetingGroup, error)
}

// AdDataStore provides thread-safe access to the advertisement catalog
// without global variables. Reads never block writers: every write swaps in
// a new immutable snapshot.
type AdDataStore interface {
	ContentLookup
	TargetingGroupLookup

	// Iteration methods
	GetAllContents() []AdvertisementContent
	Stats() CatalogStats

	// Atomic bulk operations
	ReloadAll(contents []AdvertisementContent, groups []TargetingGroup) error

	// UpdateClickThroughRates replaces the CTR of the given groups (keyed by
	// group id) in a single snapshot swap.
	UpdateClickThroughRates(updates map[string]float64) error
}

// CatalogStats summarises the loaded catalog.
type CatalogStats struct {
	Marketplaces    int `json:"marketplaces"`
	Contents        int `json:"contents"`
	TargetingGroups int `json:"targeting_groups"`
}

// dataSnapshot represents an immutable snapshot of the catalog
type dataSnapshot struct {
	contents      []AdvertisementContent
	byMarketplace map[string][]AdvertisementContent // Marketplace ID -> contents, load order
	groups        map[string][]TargetingGroup       // Content ID -> groups, declaration order
	groupCount    int
}

// InMemoryAdDataStore implements AdDataStore with atomic snapshot updates
type InMemoryAdDataStore struct {
	// Atomic pointer to current data snapshot
	data atomic.Pointer[dataSnapshot]
}

var _ AdDataStore = (*InMemoryAdDataStore)(nil)

// NewInMemoryAdDataStore creates a new AdDataStore instance
func NewInMemoryAdDataStore() *InMemoryAdDataStore {
	store := &InMemoryAdDataStore{}
	store.data.Store(&dataSnapshot{
		contents:      make([]AdvertisementContent, 0),
		byMarketplace: make(map[string][]AdvertisementContent),
		groups:        make(map[string][]TargetingGroup),
	})
	return store
}

// GetContents returns the contents registered for a marketplace.
func (s *InMemoryAdDataStore) GetContents(ctx context.Context, marketplaceID string) ([]AdvertisementContent, error) {
	data := s.data.Load()
	items := data.byMarketplace[marketplaceID]
	// Return a copy to prevent external modification
	result := make([]AdvertisementContent, len(items))
	copy(result, items)
	return result, nil
}

// GetTargetingGroups returns the groups attached to a content item.
func (s *InMemoryAdDataStore) GetTargetingGroups(ctx context.Context, contentID string) ([]TargetingGroup, error) {
	data := s.data.Load()
	items := data.groups[contentID]
	result := make([]TargetingGroup, len(items))
	copy(result, items)
	return result, nil
}

// GetAllContents returns every content item across marketplaces.
func (s *InMemoryAdDataStore) GetAllContents() []AdvertisementContent {
	data := s.data.Load()
	result := make([]AdvertisementContent, len(data.contents))
	copy(result, data.contents)
	return result
}

// Stats returns counts for the current snapshot.
func (s *InMemoryAdDataStore) Stats() CatalogStats {
	data := s.data.Load()
	return CatalogStats{
		Marketplaces:    len(data.byMarketplace),
		Contents:        len(data.contents),
		TargetingGroups: data.groupCount,
	}
}

// ReloadAll replaces the whole catalog. Groups must reference a loaded
// content item and carry a CTR within [0,1]; on any violation the current
// snapshot is kept.
func (s *InMemoryAdDataStore) ReloadAll(contents []AdvertisementContent, groups []TargetingGroup) error {
	byMarketplace := make(map[string][]AdvertisementContent)
	known := make(map[string]struct{}, len(contents))
	for _, c := range contents {
		if _, dup := known[c.ContentID]; dup {
			return fmt.Errorf("duplicate content id %s", c.ContentID)
		}
		known[c.ContentID] = struct{}{}
		byMarketplace[c.MarketplaceID] = append(byMarketplace[c.MarketplaceID], c)
	}

	byContent := make(map[string][]TargetingGroup)
	for _, g := range groups {
		if _, ok := known[g.ContentID]; !ok {
			return fmt.Errorf("targeting group %s references undefined content %s", g.ID, g.ContentID)
		}
		if err := g.Validate(); err != nil {
			return err
		}
		byContent[g.ContentID] = append(byContent[g.ContentID], g)
	}

	all := make([]AdvertisementContent, len(contents))
	copy(all, contents)

	s.data.Store(&dataSnapshot{
		contents:      all,
		byMarketplace: byMarketplace,
		groups:        byContent,
		groupCount:    len(groups),
	})
	return nil
}

// UpdateClickThroughRates swaps in a snapshot with refreshed CTR values.
// Unknown group ids are ignored; out of range values are rejected.
func (s *InMemoryAdDataStore) UpdateClickThroughRates(updates map[string]float64) error {
	if len(updates) == 0 {
		return nil
	}
	currentData := s.data.Load()

	newGroups := make(map[string][]TargetingGroup, len(currentData.groups))
	for contentID, groups := range currentData.groups {
		copied := make([]TargetingGroup, len(groups))
		copy(copied, groups)
		for i := range copied {
			ctr, ok := updates[copied[i].ID]
			if !ok {
				continue
			}
			copied[i].ClickThroughRate = ctr
			if err := copied[i].Validate(); err != nil {
				return err
			}
		}
		newGroups[contentID] = copied
	}

	s.data.Store(&dataSnapshot{
		contents:      currentData.contents,
		byMarketplace: currentData.byMarketplace,
		groups:        newGroups,
		groupCount:    currentData.groupCount,
	})
	return nil
}
