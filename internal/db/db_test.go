package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adselection/internal/models"
)

type fakeSource struct {
	contents    []models.AdvertisementContent
	groups      []models.TargetingGroupRecord
	contentsErr error
	groupsErr   error
}

func (f *fakeSource) LoadContents(context.Context, ...string) ([]models.AdvertisementContent, error) {
	return f.contents, f.contentsErr
}

func (f *fakeSource) LoadTargetingGroups(context.Context) ([]models.TargetingGroupRecord, error) {
	return f.groups, f.groupsErr
}

func sampleSource() *fakeSource {
	return &fakeSource{
		contents: []models.AdvertisementContent{
			{ContentID: "c1", MarketplaceID: "m1", RenderableContent: "one"},
			{ContentID: "c2", MarketplaceID: "m1", RenderableContent: "two"},
		},
		groups: []models.TargetingGroupRecord{
			{ID: "g1", ContentID: "c1", ClickThroughRate: 0.2, Predicates: []models.PredicateSpec{{Type: "country", Values: []string{"US"}}}},
			{ID: "g2", ContentID: "c1", ClickThroughRate: 0.4, Position: 1},
			{ID: "g3", ContentID: "c2", ClickThroughRate: 0.6, Predicates: []models.PredicateSpec{{Type: "exclude_bots"}}},
			{ID: "orphan", ContentID: "inactive", ClickThroughRate: 0.9},
		},
	}
}

func TestLoadCatalog(t *testing.T) {
	store := models.NewInMemoryAdDataStore()
	cat, err := LoadCatalog(context.Background(), sampleSource(), store)
	require.NoError(t, err)

	assert.Len(t, cat.Contents, 2)
	assert.Len(t, cat.Groups, 3, "groups of unloaded content are dropped")
	assert.Equal(t, models.CatalogStats{Marketplaces: 1, Contents: 2, TargetingGroups: 3}, store.Stats())

	groups, err := store.GetTargetingGroups(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "g1", groups[0].ID)
	assert.Len(t, groups[0].Predicates, 1)
	assert.Empty(t, groups[1].Predicates)
}

func TestLoadCatalog_SourceErrors(t *testing.T) {
	boom := errors.New("connection reset")

	src := sampleSource()
	src.contentsErr = boom
	_, err := LoadCatalog(context.Background(), src, models.NewInMemoryAdDataStore())
	assert.ErrorIs(t, err, boom)

	src = sampleSource()
	src.groupsErr = boom
	_, err = LoadCatalog(context.Background(), src, models.NewInMemoryAdDataStore())
	assert.ErrorIs(t, err, boom)
}

func TestLoadCatalog_InvalidSpecKeepsPreviousSnapshot(t *testing.T) {
	store := models.NewInMemoryAdDataStore()
	_, err := LoadCatalog(context.Background(), sampleSource(), store)
	require.NoError(t, err)

	bad := sampleSource()
	bad.groups[0].Predicates = []models.PredicateSpec{{Type: "moon_phase"}}
	_, err = LoadCatalog(context.Background(), bad, store)
	require.Error(t, err)

	assert.Equal(t, 3, store.Stats().TargetingGroups)
}

func TestDecodePredicates(t *testing.T) {
	specs, err := decodePredicates([]byte(`[{"type":"key_value","key":"section","values":["news"],"negate":true}]`))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, models.PredicateSpec{Type: "key_value", Key: "section", Values: []string{"news"}, Negate: true}, specs[0])

	specs, err = decodePredicates([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, specs)

	_, err = decodePredicates([]byte("{"))
	assert.Error(t, err)
}
