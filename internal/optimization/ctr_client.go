// Package optimization refreshes the predicted click-through rates stored on
// targeting groups from an external CTR prediction service.
package optimization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// CTRPredictionClient provides access to the CTR prediction service.
type CTRPredictionClient struct {
	baseURL       string
	httpClient    *http.Client
	cache         map[string]*CachedPrediction
	cacheMu       sync.RWMutex
	cacheTTL      time.Duration
	minConfidence float64
	logger        *zap.Logger
	metrics       observability.MetricsRegistry
}

// PredictionRequest identifies the targeting group to score.
type PredictionRequest struct {
	GroupID       string `json:"group_id"`
	ContentID     string `json:"content_id"`
	MarketplaceID string `json:"marketplace_id"`
}

// PredictionResponse carries the predicted click-through rate of a group.
type PredictionResponse struct {
	GroupID    string  `json:"group_id"`
	CTRScore   float64 `json:"ctr_score"`
	Confidence float64 `json:"confidence"`
}

// CachedPrediction wraps a prediction response with caching metadata.
type CachedPrediction struct {
	Response  *PredictionResponse
	Timestamp time.Time
	TTL       time.Duration
}

// IsExpired checks if the cached prediction has expired.
func (c *CachedPrediction) IsExpired() bool {
	return time.Since(c.Timestamp) > c.TTL
}

// NewCTRPredictionClient creates a new CTR prediction client.
func NewCTRPredictionClient(baseURL string, timeout, cacheTTL time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *CTRPredictionClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &CTRPredictionClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:    make(map[string]*CachedPrediction),
		cacheTTL: cacheTTL,
		logger:   logger,
		metrics:  metrics,
	}
}

// SetMinConfidence makes RefreshClickThroughRates ignore predictions whose
// confidence is below min.
func (c *CTRPredictionClient) SetMinConfidence(min float64) {
	c.minConfidence = min
}

// GetPrediction retrieves a CTR prediction for one targeting group.
func (c *CTRPredictionClient) GetPrediction(ctx context.Context, req *PredictionRequest) (*PredictionResponse, error) {
	c.cacheMu.RLock()
	cached, exists := c.cache[req.GroupID]
	c.cacheMu.RUnlock()

	if exists && !cached.IsExpired() {
		return cached.Response, nil
	}

	prediction, err := c.callPredictionService(ctx, req)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cache[req.GroupID] = &CachedPrediction{
		Response:  prediction,
		Timestamp: time.Now(),
		TTL:       c.cacheTTL,
	}
	c.cacheMu.Unlock()

	return prediction, nil
}

// callPredictionService makes the actual HTTP call to the prediction service.
func (c *CTRPredictionClient) callPredictionService(ctx context.Context, req *PredictionRequest) (*PredictionResponse, error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		c.metrics.RecordCTRPredictionLatency(time.Since(start))
		c.metrics.IncrementCTRPredictionRequests(outcome)
	}()

	reqBody, err := json.Marshal(req)
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(reqBody))
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		outcome = "failure"
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var prediction PredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if prediction.CTRScore < 0 || prediction.CTRScore > 1 {
		outcome = "out_of_range"
		return nil, fmt.Errorf("group %s: %w (got %v)", req.GroupID, models.ErrInvalidClickThroughRate, prediction.CTRScore)
	}

	return &prediction, nil
}

// RefreshClickThroughRates scores every targeting group in store and writes
// the predictions back in one snapshot swap. Groups whose prediction fails or
// is not confident enough keep their stored rate. It returns the rates that
// were applied, keyed by group id.
func (c *CTRPredictionClient) RefreshClickThroughRates(ctx context.Context, store models.AdDataStore) (map[string]float64, error) {
	updates := make(map[string]float64)
	failures := 0
	for _, content := range store.GetAllContents() {
		groups, err := store.GetTargetingGroups(ctx, content.ContentID)
		if err != nil {
			return nil, fmt.Errorf("listing groups for content %s: %w", content.ContentID, err)
		}
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pred, err := c.GetPrediction(ctx, &PredictionRequest{
				GroupID:       g.ID,
				ContentID:     content.ContentID,
				MarketplaceID: content.MarketplaceID,
			})
			if err != nil {
				failures++
				c.logger.Debug("CTR prediction unavailable, keeping stored rate",
					zap.String("group_id", g.ID), zap.Error(err))
				continue
			}
			if pred.Confidence < c.minConfidence {
				continue
			}
			updates[g.ID] = pred.CTRScore
		}
	}

	if failures > 0 {
		c.logger.Warn("CTR predictions failed for some targeting groups",
			zap.Int("failed", failures), zap.Int("updated", len(updates)))
	}
	if err := store.UpdateClickThroughRates(updates); err != nil {
		return nil, fmt.Errorf("applying predicted click through rates: %w", err)
	}
	return updates, nil
}

// HealthCheck checks if the CTR prediction service is available.
func (c *CTRPredictionClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// ClearCache clears the prediction cache.
func (c *CTRPredictionClient) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]*CachedPrediction)
}
