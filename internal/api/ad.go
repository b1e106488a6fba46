package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/middleware"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

var tracer = observability.Tracer("adselection/api")

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// GetAdHandler handles GET /ad?customer_id=&marketplace_id=&kv.<key>=<value>.
// Both a selected advertisement and an empty selection answer 200; catalog
// failures answer 503.
func (s *Server) GetAdHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GetAdHandler",
		trace.WithAttributes(
			attribute.String("http.method", http.MethodGet),
			attribute.String("http.route", "/ad"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "ad"
	const method = "GET"
	finish := func(status int) {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}

	q := r.URL.Query()
	customerID := q.Get("customer_id")
	marketplaceID := q.Get("marketplace_id")
	if marketplaceID == "" {
		logger.Warn("ad request without marketplace id", zap.String("customer_id", customerID))
	}

	targeting := logic.ResolveTargetingFromRequest(r, s.GeoIP)
	rc := models.NewRequestContext(customerID, marketplaceID, targeting)
	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.String("marketplace_id", marketplaceID),
		attribute.String("device_type", targeting.DeviceType),
		attribute.String("country", targeting.Country),
	)

	debugEnabled := s.DebugTrace || q.Get("debug") == "1"
	var tr *logic.SelectionTrace
	if debugEnabled {
		tr = &logic.SelectionTrace{}
	}

	requestID := middleware.RequestIDFromContext(ctx)
	result, err := s.Selector.SelectForRequest(ctx, rc, tr)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, logic.ErrDataUnavailable) {
			logger.Error("advertisement data unavailable", zap.Error(err), zap.String("marketplace_id", marketplaceID))
			finish(http.StatusServiceUnavailable)
			http.Error(w, "advertisement data unavailable", http.StatusServiceUnavailable)
			return
		}
		if ctx.Err() != nil {
			// client went away
			logger.Debug("ad request cancelled", zap.Error(err))
			finish(499)
			return
		}
		logger.Error("selection failed", zap.Error(err))
		finish(http.StatusInternalServerError)
		http.Error(w, "selection failed", http.StatusInternalServerError)
		return
	}

	ev := analytics.SelectionEvent{
		RequestID:     requestID,
		CustomerID:    customerID,
		MarketplaceID: marketplaceID,
		Targeting:     targeting,
	}
	if !result.IsEmpty() {
		ev.ContentID = result.Content.ContentID
	}
	span.SetAttributes(attribute.String("ad.result", ev.EventType()))
	if s.Analytics != nil {
		if err := s.Analytics.RecordSelection(ctx, ev); err != nil {
			// serving does not depend on analytics
			logger.Warn("analytics record", zap.Error(err))
		}
	}
	if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("ad request",
			zap.String("customer_id", customerID),
			zap.String("marketplace_id", marketplaceID),
			zap.String("content_id", ev.ContentID),
			zap.String("event_type", ev.EventType()))
	}

	resp := models.AdResponse{ID: requestID, Content: result.Content}
	if debugEnabled {
		resp.Debug = map[string]interface{}{"trace": tr}
	}
	finish(http.StatusOK)
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}
