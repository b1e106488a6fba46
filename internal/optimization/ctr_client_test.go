package optimization

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// predictionServer answers /predict from a fixed table of group scores.
// Unknown groups get a 500.
func predictionServer(t *testing.T, scores map[string]PredictionResponse, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/predict" {
			t.Errorf("Expected path /predict, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if calls != nil {
			calls.Add(1)
		}

		var req PredictionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		resp, ok := scores[req.GroupID]
		if !ok {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("Failed to encode response: %v", err)
		}
	}))
}

func TestCTRPredictionClient_GetPredictionCaches(t *testing.T) {
	var calls atomic.Int32
	server := predictionServer(t, map[string]PredictionResponse{
		"g1": {GroupID: "g1", CTRScore: 0.025, Confidence: 0.8},
	}, &calls)
	defer server.Close()

	client := NewCTRPredictionClient(server.URL, 200*time.Millisecond, 5*time.Minute, zap.NewNop(), observability.NewNoOpRegistry())
	req := &PredictionRequest{GroupID: "g1", ContentID: "c1", MarketplaceID: "m1"}

	for i := 0; i < 3; i++ {
		resp, err := client.GetPrediction(context.Background(), req)
		if err != nil {
			t.Fatalf("GetPrediction failed: %v", err)
		}
		if resp.CTRScore != 0.025 {
			t.Errorf("Expected CTRScore 0.025, got %f", resp.CTRScore)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call to the prediction service, got %d", calls.Load())
	}

	client.ClearCache()
	if _, err := client.GetPrediction(context.Background(), req); err != nil {
		t.Fatalf("GetPrediction failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected cache miss after ClearCache, got %d calls", calls.Load())
	}
}

func TestCTRPredictionClient_ServiceUnavailable(t *testing.T) {
	client := NewCTRPredictionClient("http://localhost:1", 50*time.Millisecond, time.Minute, zap.NewNop(), nil)

	_, err := client.GetPrediction(context.Background(), &PredictionRequest{GroupID: "g1"})
	if err == nil {
		t.Fatal("Expected error when prediction service is unreachable")
	}
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("Expected health check to fail")
	}
}

func TestCTRPredictionClient_RejectsOutOfRangeScore(t *testing.T) {
	server := predictionServer(t, map[string]PredictionResponse{
		"g1": {GroupID: "g1", CTRScore: 1.5, Confidence: 1},
	}, nil)
	defer server.Close()

	client := NewCTRPredictionClient(server.URL, 200*time.Millisecond, time.Minute, nil, nil)
	if _, err := client.GetPrediction(context.Background(), &PredictionRequest{GroupID: "g1"}); err == nil {
		t.Error("Expected out of range CTR to be rejected")
	}
}

func TestCTRPredictionClient_RefreshClickThroughRates(t *testing.T) {
	server := predictionServer(t, map[string]PredictionResponse{
		"g1": {GroupID: "g1", CTRScore: 0.42, Confidence: 0.9},
		"g2": {GroupID: "g2", CTRScore: 0.99, Confidence: 0.1},
		// g3 is unknown to the model and fails.
	}, nil)
	defer server.Close()

	store := models.NewTestAdDataStore(
		[]models.AdvertisementContent{
			{ContentID: "c1", MarketplaceID: "m1"},
			{ContentID: "c2", MarketplaceID: "m1"},
		},
		[]models.TargetingGroup{
			{ID: "g1", ContentID: "c1", ClickThroughRate: 0.1},
			{ID: "g2", ContentID: "c1", ClickThroughRate: 0.2},
			{ID: "g3", ContentID: "c2", ClickThroughRate: 0.3},
		},
	)

	client := NewCTRPredictionClient(server.URL, 200*time.Millisecond, time.Minute, zap.NewNop(), observability.NewNoOpRegistry())
	client.SetMinConfidence(0.5)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	updated, err := client.RefreshClickThroughRates(context.Background(), store)
	if err != nil {
		t.Fatalf("RefreshClickThroughRates failed: %v", err)
	}
	if len(updated) != 1 || updated["g1"] != 0.42 {
		t.Errorf("Expected only g1 to be updated, got %v", updated)
	}

	expected := map[string]float64{"g1": 0.42, "g2": 0.2, "g3": 0.3}
	for _, contentID := range []string{"c1", "c2"} {
		groups, err := store.GetTargetingGroups(context.Background(), contentID)
		if err != nil {
			t.Fatalf("GetTargetingGroups failed: %v", err)
		}
		for _, g := range groups {
			if g.ClickThroughRate != expected[g.ID] {
				t.Errorf("group %s: expected CTR %v, got %v", g.ID, expected[g.ID], g.ClickThroughRate)
			}
		}
	}
}
