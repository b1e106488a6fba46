package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/db"
	"github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/predicates"
	"github.com/patrickwarner/adselection/internal/logic/selectors"
	"github.com/patrickwarner/adselection/internal/middleware"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/optimization"
)

type fakeSource struct {
	contents []models.AdvertisementContent
	groups   []models.TargetingGroupRecord
	err      error
}

func (f *fakeSource) LoadContents(context.Context, ...string) ([]models.AdvertisementContent, error) {
	return f.contents, f.err
}

func (f *fakeSource) LoadTargetingGroups(context.Context) ([]models.TargetingGroupRecord, error) {
	return f.groups, f.err
}

type failingSelector struct{ err error }

func (f failingSelector) SelectAdvertisement(context.Context, string, string) (models.SelectionResult, error) {
	return models.EmptySelection(), f.err
}

func (f failingSelector) SelectForRequest(context.Context, *models.RequestContext, *logic.SelectionTrace) (models.SelectionResult, error) {
	return models.EmptySelection(), f.err
}

func testCatalog() models.AdDataStore {
	return models.NewTestAdDataStore(
		[]models.AdvertisementContent{
			{ContentID: "c1", MarketplaceID: "m1", RenderableContent: "<b>one</b>"},
			{ContentID: "c2", MarketplaceID: "m1", RenderableContent: "<b>two</b>"},
		},
		[]models.TargetingGroup{
			{ID: "g1", ContentID: "c1", ClickThroughRate: 0.3},
			{ID: "g2", ContentID: "c2", ClickThroughRate: 0.7, Predicates: []models.TargetingPredicate{predicates.KeyValue("section", "sports")}},
		},
	)
}

func newTestServer(store models.AdDataStore) (*Server, *analytics.MockAnalytics) {
	srv := NewServer(zap.NewNop(), nil, store, nil, nil)
	mock := analytics.NewMockAnalytics()
	srv.Analytics = mock
	return srv, mock
}

func getAd(t *testing.T, srv *Server, target string) (*httptest.ResponseRecorder, models.AdResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.GetAdHandler(rec, req)

	var resp models.AdResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestGetAdHandler_SelectsHighestEligibleCTR(t *testing.T) {
	srv, mock := newTestServer(testCatalog())

	rec, resp := getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m1&kv.section=sports")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "c2", resp.Content.ContentID)
	assert.Equal(t, "<b>two</b>", resp.Content.RenderableContent)
	assert.NotEmpty(t, resp.ID)

	rec, resp = getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "c1", resp.Content.ContentID)

	events := mock.Events()
	require.Len(t, events, 2)
	assert.Equal(t, analytics.EventAdSelected, events[0].EventType())
	assert.Equal(t, "c2", events[0].ContentID)
	assert.Equal(t, "sports", events[0].Targeting.KeyValues["section"])
}

func TestGetAdHandler_NoAdvertisement(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"missing marketplace", "/ad?customer_id=u1"},
		{"unknown marketplace", "/ad?customer_id=u1&marketplace_id=nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, mock := newTestServer(testCatalog())
			rec, resp := getAd(t, srv, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Nil(t, resp.Content)
			assert.Contains(t, rec.Body.String(), `"content":null`)

			events := mock.Events()
			require.Len(t, events, 1)
			assert.Equal(t, analytics.EventNoAd, events[0].EventType())
		})
	}
}

func TestGetAdHandler_DataUnavailable(t *testing.T) {
	srv, mock := newTestServer(testCatalog())
	srv.Selector = failingSelector{err: fmt.Errorf("contents: %w", logic.ErrDataUnavailable)}

	rec, _ := getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, mock.Events())
}

func TestGetAdHandler_SelectionError(t *testing.T) {
	srv, _ := newTestServer(testCatalog())
	srv.Selector = failingSelector{err: errors.New("boom")}

	rec, _ := getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetAdHandler_AnalyticsFailureStillServes(t *testing.T) {
	srv, mock := newTestServer(testCatalog())
	mock.Err = errors.New("clickhouse down")

	rec, resp := getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "c1", resp.Content.ContentID)
}

func TestGetAdHandler_DebugTrace(t *testing.T) {
	srv, _ := newTestServer(testCatalog())

	rec, resp := getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Debug)

	rec, _ = getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m1&debug=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Debug struct {
			Trace logic.SelectionTrace `json:"trace"`
		} `json:"debug"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Debug.Trace.Steps)
	last := body.Debug.Trace.Steps[len(body.Debug.Trace.Steps)-1]
	assert.Equal(t, "winner", last.Stage)
	assert.Equal(t, []string{"c1"}, last.ContentIDs)
}

func TestGetAdHandler_RequestID(t *testing.T) {
	srv, mock := newTestServer(testCatalog())
	h := middleware.WithRequestLogger(zap.NewNop())(http.HandlerFunc(srv.GetAdHandler))

	req := httptest.NewRequest(http.MethodGet, "/ad?customer_id=u1&marketplace_id=m1", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(middleware.RequestIDHeader))
	var resp models.AdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-42", resp.ID)
	require.Len(t, mock.Events(), 1)
	assert.Equal(t, "req-42", mock.Events()[0].RequestID)
}

func reloadSource() *fakeSource {
	return &fakeSource{
		contents: []models.AdvertisementContent{
			{ContentID: "c9", MarketplaceID: "m2", RenderableContent: "nine"},
		},
		groups: []models.TargetingGroupRecord{
			{ID: "g9", ContentID: "c9", ClickThroughRate: 0.5, Predicates: []models.PredicateSpec{{Type: "always"}}},
		},
	}
}

func TestReloadHandler(t *testing.T) {
	store := models.NewInMemoryAdDataStore()
	srv := NewServer(zap.NewNop(), nil, store, reloadSource(), nil)

	rec := httptest.NewRecorder()
	srv.ReloadHandler(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.CatalogStats{Marketplaces: 1, Contents: 1, TargetingGroups: 1}, store.Stats())
	assert.False(t, srv.LastReload().IsZero())

	_, resp := getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m2")
	require.NotNil(t, resp.Content)
	assert.Equal(t, "c9", resp.Content.ContentID)
}

func TestReloadHandler_Failure(t *testing.T) {
	store := testCatalog()
	srv := NewServer(zap.NewNop(), nil, store, &fakeSource{err: errors.New("postgres down")}, nil)

	rec := httptest.NewRecorder()
	srv.ReloadHandler(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 2, store.Stats().Contents, "previous catalog is kept")
	assert.True(t, srv.LastReload().IsZero())

	srv.Source = nil
	assert.ErrorIs(t, srv.Reload(context.Background()), ErrNoCatalogSource)
}

func setupRedis(t *testing.T) *db.RedisStore {
	t.Helper()
	ms := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: ms.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return db.NewRedisStore(client, time.Minute)
}

func TestReload_MirrorsCatalogToRedis(t *testing.T) {
	rs := setupRedis(t)
	store := models.NewInMemoryAdDataStore()
	srv := NewServer(zap.NewNop(), nil, store, reloadSource(), nil)
	srv.Redis = rs

	require.NoError(t, srv.Reload(context.Background()))

	contents, err := rs.GetContents(context.Background(), "m2")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "c9", contents[0].ContentID)

	groups, err := rs.GetTargetingGroups(context.Background(), "c9")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.InDelta(t, 0.5, groups[0].ClickThroughRate, 1e-9)
}

// predictor scores only the groups it knows; everything else fails.
func predictor(t *testing.T, scores map[string]float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req optimization.PredictionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		score, ok := scores[req.GroupID]
		if !ok {
			http.Error(w, "unknown group", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(optimization.PredictionResponse{GroupID: req.GroupID, CTRScore: score, Confidence: 1})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReload_AppliesPredictedCTR(t *testing.T) {
	src := &fakeSource{
		contents: []models.AdvertisementContent{
			{ContentID: "low", MarketplaceID: "m3"},
			{ContentID: "high", MarketplaceID: "m3"},
		},
		groups: []models.TargetingGroupRecord{
			{ID: "g-low", ContentID: "low", ClickThroughRate: 0.2},
			{ID: "g-high", ContentID: "high", ClickThroughRate: 0.5},
		},
	}
	rs := setupRedis(t)
	store := models.NewInMemoryAdDataStore()
	srv := NewServer(zap.NewNop(), nil, store, src, nil)
	srv.Redis = rs
	srv.CTRClient = optimization.NewCTRPredictionClient(predictor(t, map[string]float64{"g-low": 0.9}).URL, time.Second, time.Minute, nil, nil)

	require.NoError(t, srv.Reload(context.Background()))

	_, resp := getAd(t, srv, "/ad?marketplace_id=m3")
	require.NotNil(t, resp.Content)
	assert.Equal(t, "low", resp.Content.ContentID)

	groups, err := rs.GetTargetingGroups(context.Background(), "low")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.InDelta(t, 0.9, groups[0].ClickThroughRate, 1e-9)

	groups, err = rs.GetTargetingGroups(context.Background(), "high")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.InDelta(t, 0.5, groups[0].ClickThroughRate, 1e-9, "failed predictions keep the stored rate")
}

func TestGetAdHandler_RedisCatalogMissing(t *testing.T) {
	rs := setupRedis(t)
	srv := NewServer(zap.NewNop(), selectors.NewCTRSelector(rs, rs), models.NewInMemoryAdDataStore(), reloadSource(), nil)

	rec, _ := getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m2")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv.Redis = rs
	require.NoError(t, srv.Reload(context.Background()))
	rec, resp := getAd(t, srv, "/ad?customer_id=u1&marketplace_id=m2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "c9", resp.Content.ContentID)
}

func TestHandleCatalogUpdate(t *testing.T) {
	store := models.NewInMemoryAdDataStore()
	srv := NewServer(zap.NewNop(), nil, store, reloadSource(), nil)

	srv.HandleCatalogUpdate(context.Background(), srv.InstanceID)
	assert.Equal(t, 0, store.Stats().Contents, "own notifications are ignored")

	srv.HandleCatalogUpdate(context.Background(), "other-instance")
	assert.Equal(t, 1, store.Stats().Contents)
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(testCatalog())

	rec := httptest.NewRecorder()
	srv.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string              `json:"status"`
		Catalog models.CatalogStats `json:"catalog"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, models.CatalogStats{Marketplaces: 1, Contents: 2, TargetingGroups: 2}, body.Catalog)
}

func TestHealthHandler_RedisDown(t *testing.T) {
	srv, _ := newTestServer(testCatalog())
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	srv.Redis = db.NewRedisStore(client, time.Minute)

	rec := httptest.NewRecorder()
	srv.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
