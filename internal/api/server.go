package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/db"
	"github.com/patrickwarner/adselection/internal/geoip"
	"github.com/patrickwarner/adselection/internal/logic/selectors"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
	"github.com/patrickwarner/adselection/internal/optimization"
)

// ErrNoCatalogSource is returned by Reload when no persistent catalog is
// configured.
var ErrNoCatalogSource = errors.New("catalog source unavailable")

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Selector    selectors.Selector
	AdDataStore models.AdDataStore
	// Source is the persistent catalog, normally Postgres.
	Source db.CatalogSource
	// Redis, when set, receives every loaded catalog and carries reload
	// notifications between instances.
	Redis      *db.RedisStore
	CTRClient  *optimization.CTRPredictionClient
	Analytics  analytics.AnalyticsService
	GeoIP      *geoip.GeoIP
	Metrics    observability.MetricsRegistry
	DebugTrace bool
	// InstanceID identifies this process in reload notifications.
	InstanceID string

	reloadMu   sync.Mutex
	lastReload time.Time
}

// NewServer constructs a Server. A nil metrics registry or logger is
// replaced by a no-op implementation.
func NewServer(logger *zap.Logger, selector selectors.Selector, store models.AdDataStore, source db.CatalogSource, metrics observability.MetricsRegistry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if selector == nil {
		cs := selectors.NewCTRSelector(store, store)
		cs.SetLogger(logger)
		cs.SetMetrics(metrics)
		selector = cs
	}
	return &Server{
		Logger:      logger,
		Selector:    selector,
		AdDataStore: store,
		Source:      source,
		Metrics:     metrics,
		InstanceID:  uuid.NewString(),
	}
}

// Reload refreshes the catalog from the persistent source, applies CTR
// predictions when configured and mirrors the result into Redis. The in
// memory store keeps its previous snapshot when loading fails.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.Source == nil {
		s.Metrics.IncrementCatalogReloads("failure")
		return ErrNoCatalogSource
	}

	cat, err := db.LoadCatalog(ctx, s.Source, s.AdDataStore)
	if err != nil {
		s.Metrics.IncrementCatalogReloads("failure")
		return fmt.Errorf("load catalog: %w", err)
	}

	if s.CTRClient != nil {
		updates, err := s.CTRClient.RefreshClickThroughRates(ctx, s.AdDataStore)
		if err != nil {
			// stored rates stay in effect
			s.Logger.Warn("CTR refresh failed", zap.Error(err))
		}
		for i := range cat.Groups {
			if ctr, ok := updates[cat.Groups[i].ID]; ok {
				cat.Groups[i].ClickThroughRate = ctr
			}
		}
	}

	if s.Redis != nil {
		if err := s.Redis.SyncCatalog(ctx, cat); err != nil {
			s.Metrics.IncrementCatalogReloads("failure")
			return fmt.Errorf("sync catalog to redis: %w", err)
		}
	}

	s.lastReload = time.Now()
	s.Metrics.IncrementCatalogReloads("success")
	stats := s.AdDataStore.Stats()
	s.Logger.Info("catalog reloaded",
		zap.Int("marketplaces", stats.Marketplaces),
		zap.Int("contents", stats.Contents),
		zap.Int("targeting_groups", stats.TargetingGroups))
	return nil
}

// notifyReload tells other instances to reload. Failures only cost peers
// their early refresh, so they are logged and dropped.
func (s *Server) notifyReload(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.PublishCatalogUpdate(ctx, s.InstanceID); err != nil {
		s.Logger.Warn("failed to publish catalog update", zap.Error(err))
	}
}

// HandleCatalogUpdate reloads in response to a notification from another
// instance.
func (s *Server) HandleCatalogUpdate(ctx context.Context, origin string) {
	if origin == s.InstanceID {
		return
	}
	if err := s.Reload(ctx); err != nil {
		s.Logger.Error("reload after catalog update", zap.Error(err), zap.String("origin", origin))
	}
}

// LastReload returns when the catalog was last loaded successfully.
func (s *Server) LastReload() time.Time {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	return s.lastReload
}
