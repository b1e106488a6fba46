package models

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() ([]AdvertisementContent, []TargetingGroup) {
	contents := []AdvertisementContent{
		{ContentID: "c1", MarketplaceID: "US", RenderableContent: "<div>one</div>"},
		{ContentID: "c2", MarketplaceID: "US", RenderableContent: "<div>two</div>"},
		{ContentID: "c3", MarketplaceID: "DE", RenderableContent: "<div>drei</div>"},
	}
	groups := []TargetingGroup{
		{ID: "g1", ContentID: "c1", ClickThroughRate: 0.2},
		{ID: "g2", ContentID: "c1", ClickThroughRate: 0.4},
		{ID: "g3", ContentID: "c2", ClickThroughRate: 0.1},
	}
	return contents, groups
}

func TestInMemoryAdDataStore_Lookups(t *testing.T) {
	contents, groups := testCatalog()
	store := NewInMemoryAdDataStore()
	require.NoError(t, store.ReloadAll(contents, groups))

	ctx := context.Background()
	us, err := store.GetContents(ctx, "US")
	require.NoError(t, err)
	require.Len(t, us, 2)
	assert.Equal(t, "c1", us[0].ContentID, "load order is preserved")
	assert.Equal(t, "c2", us[1].ContentID)

	missing, err := store.GetContents(ctx, "JP")
	require.NoError(t, err)
	assert.Empty(t, missing)

	g, err := store.GetTargetingGroups(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, g, 2)
	assert.Equal(t, "g1", g[0].ID)
	assert.Equal(t, "g2", g[1].ID)

	assert.Equal(t, CatalogStats{Marketplaces: 2, Contents: 3, TargetingGroups: 3}, store.Stats())
}

func TestInMemoryAdDataStore_ReturnsCopies(t *testing.T) {
	contents, groups := testCatalog()
	store := NewInMemoryAdDataStore()
	require.NoError(t, store.ReloadAll(contents, groups))

	ctx := context.Background()
	us, _ := store.GetContents(ctx, "US")
	us[0].RenderableContent = "mutated"

	again, _ := store.GetContents(ctx, "US")
	assert.Equal(t, "<div>one</div>", again[0].RenderableContent)
}

func TestInMemoryAdDataStore_ReloadRejectsInvalidData(t *testing.T) {
	contents, groups := testCatalog()
	store := NewInMemoryAdDataStore()
	require.NoError(t, store.ReloadAll(contents, groups))

	orphan := append(groups, TargetingGroup{ID: "g9", ContentID: "nope", ClickThroughRate: 0.5})
	assert.Error(t, store.ReloadAll(contents, orphan))

	badCTR := append(groups, TargetingGroup{ID: "g9", ContentID: "c3", ClickThroughRate: 1.5})
	err := store.ReloadAll(contents, badCTR)
	assert.ErrorIs(t, err, ErrInvalidClickThroughRate)

	dup := append(contents, AdvertisementContent{ContentID: "c1", MarketplaceID: "FR"})
	assert.Error(t, store.ReloadAll(dup, groups))

	// The previous snapshot stays in place.
	assert.Equal(t, 3, store.Stats().Contents)
}

func TestInMemoryAdDataStore_UpdateClickThroughRates(t *testing.T) {
	contents, groups := testCatalog()
	store := NewInMemoryAdDataStore()
	require.NoError(t, store.ReloadAll(contents, groups))

	require.NoError(t, store.UpdateClickThroughRates(map[string]float64{"g2": 0.9, "unknown": 0.3}))
	g, _ := store.GetTargetingGroups(context.Background(), "c1")
	assert.Equal(t, 0.2, g[0].ClickThroughRate)
	assert.Equal(t, 0.9, g[1].ClickThroughRate)

	assert.ErrorIs(t, store.UpdateClickThroughRates(map[string]float64{"g1": -0.1}), ErrInvalidClickThroughRate)
}

func TestInMemoryAdDataStore_ConcurrentReadsDuringReload(t *testing.T) {
	contents, groups := testCatalog()
	store := NewInMemoryAdDataStore()
	require.NoError(t, store.ReloadAll(contents, groups))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cs, err := store.GetContents(context.Background(), "US")
				assert.NoError(t, err)
				assert.Len(t, cs, 2)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, store.ReloadAll(contents, groups))
	}
	wg.Wait()
}

func TestPredicateResult(t *testing.T) {
	assert.True(t, PredicateTrue.IsTrue())
	assert.False(t, PredicateFalse.IsTrue())
	assert.False(t, PredicateIndeterminate.IsTrue())
	assert.Equal(t, "indeterminate", PredicateIndeterminate.String())
}

func TestNewRequestContext_CopiesKeyValues(t *testing.T) {
	kv := map[string]string{"section": "sports"}
	rc := NewRequestContext("cust", "US", TargetingContext{KeyValues: kv})
	kv["section"] = "news"

	v, ok := rc.KeyValue("section")
	assert.True(t, ok)
	assert.Equal(t, "sports", v)

	var nilRC *RequestContext
	_, ok = nilRC.KeyValue("section")
	assert.False(t, ok)
}
