package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adselection/internal/logic/predicates"
	"github.com/patrickwarner/adselection/internal/models"
)

func loadable(t *testing.T, contents []models.AdvertisementContent, recs []models.TargetingGroupRecord) models.AdDataStore {
	t.Helper()
	groups, err := predicates.BuildGroups(recs)
	require.NoError(t, err)
	store := models.NewInMemoryAdDataStore()
	require.NoError(t, store.ReloadAll(contents, groups))
	return store
}

func TestDemoCatalogLoads(t *testing.T) {
	contents, groups := demoCatalog()
	store := loadable(t, contents, groups)
	assert.Equal(t, models.CatalogStats{Marketplaces: 1, Contents: 4, TargetingGroups: 5}, store.Stats())
}

func TestRandomCatalog(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	contents, groups := randomCatalog(r, 2, 3, 2)
	require.Len(t, contents, 6)
	require.Len(t, groups, 12)

	for _, g := range groups {
		assert.GreaterOrEqual(t, g.ClickThroughRate, 0.0)
		assert.Less(t, g.ClickThroughRate, 0.1)
		assert.NotEmpty(t, g.Predicates)
	}
	store := loadable(t, contents, groups)
	assert.Equal(t, 2, store.Stats().Marketplaces)
}

func TestRandomCatalogDeterministic(t *testing.T) {
	c1, g1 := randomCatalog(rand.New(rand.NewSource(7)), 1, 2, 2)
	c2, g2 := randomCatalog(rand.New(rand.NewSource(7)), 1, 2, 2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, g1, g2)
}
