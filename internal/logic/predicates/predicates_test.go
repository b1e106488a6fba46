package predicates

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adselection/internal/models"
)

func eval(t *testing.T, p models.TargetingPredicate, rc *models.RequestContext) models.PredicateResult {
	t.Helper()
	res, err := p.Evaluate(context.Background(), rc)
	require.NoError(t, err)
	return res
}

func TestAttributePredicates(t *testing.T) {
	rc := models.NewRequestContext("cust-1", "US", models.TargetingContext{
		DeviceType: "mobile",
		Country:    "US",
		Region:     "CA",
		KeyValues:  map[string]string{"section": "Sports"},
	})
	unknown := models.NewRequestContext("", "US", models.TargetingContext{})

	tests := []struct {
		name     string
		pred     models.TargetingPredicate
		rc       *models.RequestContext
		expected models.PredicateResult
	}{
		{"country match is case insensitive", Country("us", "ca"), rc, models.PredicateTrue},
		{"country miss", Country("DE"), rc, models.PredicateFalse},
		{"country unknown", Country("US"), unknown, models.PredicateIndeterminate},
		{"region match", Region("CA"), rc, models.PredicateTrue},
		{"region unknown", Region("CA"), unknown, models.PredicateIndeterminate},
		{"device match", DeviceType("mobile", "tablet"), rc, models.PredicateTrue},
		{"device miss", DeviceType("desktop"), rc, models.PredicateFalse},
		{"device unknown", DeviceType("desktop"), unknown, models.PredicateIndeterminate},
		{"customer allowed", CustomerAllowlist("cust-1"), rc, models.PredicateTrue},
		{"customer not allowed", CustomerAllowlist("cust-2"), rc, models.PredicateFalse},
		{"anonymous customer", CustomerAllowlist("cust-1"), unknown, models.PredicateIndeterminate},
		{"marketplace match", Marketplace("US"), rc, models.PredicateTrue},
		{"marketplace miss", Marketplace("DE"), rc, models.PredicateFalse},
		{"key value match", KeyValue("section", "sports"), rc, models.PredicateTrue},
		{"key value wrong value", KeyValue("section", "news"), rc, models.PredicateFalse},
		{"key value missing key", KeyValue("tier", "premium"), rc, models.PredicateFalse},
		{"always", Always(), unknown, models.PredicateTrue},
		{"nil context is indeterminate", Country("US"), nil, models.PredicateIndeterminate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, eval(t, tc.pred, tc.rc))
		})
	}
}

func TestExcludeBots(t *testing.T) {
	bot := models.NewRequestContext("", "US", models.TargetingContext{IsBot: true})
	human := models.NewRequestContext("", "US", models.TargetingContext{})

	assert.Equal(t, models.PredicateFalse, eval(t, ExcludeBots(), bot))
	assert.Equal(t, models.PredicateTrue, eval(t, ExcludeBots(), human))
}

func TestNot(t *testing.T) {
	rc := models.NewRequestContext("", "US", models.TargetingContext{Country: "US"})
	unknown := models.NewRequestContext("", "US", models.TargetingContext{})

	assert.Equal(t, models.PredicateFalse, eval(t, Not(Country("US")), rc))
	assert.Equal(t, models.PredicateTrue, eval(t, Not(Country("DE")), rc))
	assert.Equal(t, models.PredicateIndeterminate, eval(t, Not(Country("DE")), unknown))

	boom := errors.New("boom")
	failing := models.PredicateFunc(func(context.Context, *models.RequestContext) (models.PredicateResult, error) {
		return models.PredicateFalse, boom
	})
	_, err := Not(failing).Evaluate(context.Background(), rc)
	assert.ErrorIs(t, err, boom)
}

func TestBuild(t *testing.T) {
	rc := models.NewRequestContext("", "US", models.TargetingContext{Country: "US", DeviceType: "mobile"})

	p, err := Build(models.PredicateSpec{Type: "country", Values: []string{"US"}})
	require.NoError(t, err)
	assert.Equal(t, models.PredicateTrue, eval(t, p, rc))

	p, err = Build(models.PredicateSpec{Type: "DEVICE_TYPE", Values: []string{"mobile"}, Negate: true})
	require.NoError(t, err)
	assert.Equal(t, models.PredicateFalse, eval(t, p, rc))

	p, err = Build(models.PredicateSpec{Type: "exclude_bots"})
	require.NoError(t, err)
	assert.Equal(t, models.PredicateTrue, eval(t, p, rc))

	_, err = Build(models.PredicateSpec{Type: "age"})
	assert.ErrorIs(t, err, ErrUnknownPredicateType)

	_, err = Build(models.PredicateSpec{Type: "country"})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = Build(models.PredicateSpec{Type: "key_value", Values: []string{"x"}})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestBuildGroup(t *testing.T) {
	g, err := BuildGroup(models.TargetingGroupRecord{
		ID:               "g1",
		ContentID:        "c1",
		ClickThroughRate: 0.25,
		Predicates: []models.PredicateSpec{
			{Type: "country", Values: []string{"US"}},
			{Type: "key_value", Key: "section", Values: []string{"sports"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, 0.25, g.ClickThroughRate)
	assert.Len(t, g.Predicates, 2)

	empty, err := BuildGroup(models.TargetingGroupRecord{ID: "g2", ContentID: "c1", ClickThroughRate: 0.1})
	require.NoError(t, err)
	assert.Empty(t, empty.Predicates)

	_, err = BuildGroup(models.TargetingGroupRecord{ID: "g3", ContentID: "c1", ClickThroughRate: 2})
	assert.ErrorIs(t, err, models.ErrInvalidClickThroughRate)

	_, err = BuildGroups([]models.TargetingGroupRecord{
		{ID: "ok", ContentID: "c1", ClickThroughRate: 0.1},
		{ID: "bad", ContentID: "c1", ClickThroughRate: 0.1, Predicates: []models.PredicateSpec{{Type: "nope"}}},
	})
	assert.ErrorIs(t, err, ErrUnknownPredicateType)
}
