package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/api"
	"github.com/patrickwarner/adselection/internal/config"
	"github.com/patrickwarner/adselection/internal/db"
	"github.com/patrickwarner/adselection/internal/geoip"
	"github.com/patrickwarner/adselection/internal/logic/selectors"
	"github.com/patrickwarner/adselection/internal/middleware"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
	"github.com/patrickwarner/adselection/internal/optimization"
)

func main() {
	cfg := config.Load()

	level := observability.LevelFor(os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))
	logger, err := observability.InitLoggerWithLevel(level, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	metricsRegistry := observability.NewPrometheusRegistry()
	adDataStore := models.NewInMemoryAdDataStore()

	// Redis is mandatory for the redis lookup backend and optional otherwise.
	redisStore, err := db.InitRedis(cfg.RedisAddr, cfg.RedisLookupTTL)
	if err != nil {
		if cfg.LookupBackend == config.LookupBackendRedis {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		logger.Warn("redis unavailable, running without catalog mirror", zap.Error(err))
		redisStore = nil
	} else {
		defer redisStore.Close()
	}

	var contents models.ContentLookup = adDataStore
	var groups models.TargetingGroupLookup = adDataStore
	if cfg.LookupBackend == config.LookupBackendRedis {
		contents, groups = redisStore, redisStore
	}
	selector := selectors.NewCTRSelector(contents, groups)
	selector.SetLogger(logger)
	selector.SetMetrics(metricsRegistry)
	selector.SetGroupTimeout(cfg.PredicateGroupTimeout)

	srvDeps := api.NewServer(logger, selector, adDataStore, pg, metricsRegistry)
	srvDeps.Redis = redisStore
	srvDeps.DebugTrace = cfg.DebugTrace

	if cfg.AnalyticsEnabled {
		analyticsSvc, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime, metricsRegistry)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer analyticsSvc.Close()
		srvDeps.Analytics = analyticsSvc
	}

	if cfg.GeoIPDB != "" {
		geoSvc, err := geoip.Init(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
		srvDeps.GeoIP = geoSvc
	}

	if cfg.CTRRefreshEnabled {
		ctrClient := optimization.NewCTRPredictionClient(
			cfg.CTRPredictorURL,
			cfg.CTRPredictorTimeout,
			cfg.CTRPredictorCacheTTL,
			logger,
			metricsRegistry,
		)
		ctrClient.SetMinConfidence(cfg.CTRPredictorConfidence)
		if err := ctrClient.HealthCheck(ctx); err != nil {
			logger.Warn("CTR predictor not healthy at startup", zap.Error(err))
		}
		srvDeps.CTRClient = ctrClient
		logger.Info("CTR refresh enabled",
			zap.String("predictor_url", cfg.CTRPredictorURL),
			zap.Duration("timeout", cfg.CTRPredictorTimeout),
			zap.Duration("cache_ttl", cfg.CTRPredictorCacheTTL))
	}

	if err := srvDeps.Reload(ctx); err != nil {
		return fmt.Errorf("initial catalog load: %w", err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/ad", srvDeps.GetAdHandler).Methods("GET")
	r.HandleFunc("/health", srvDeps.HealthHandler).Methods("GET")
	r.HandleFunc("/reload", srvDeps.ReloadHandler).Methods("POST")
	r.Handle("/metrics", promhttp.Handler())

	handler := middleware.WithRequestLogger(logger)(r)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler, "adselection"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Ad selection server running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	if cfg.ReloadInterval > 0 {
		g.Go(func() error {
			reloadLoop(gctx, logger, srvDeps, cfg.ReloadInterval, cfg.ReloadMaxBackoff)
			return nil
		})
	}
	if redisStore != nil {
		g.Go(func() error {
			err := redisStore.SubscribeCatalogUpdates(gctx, func(origin string) {
				srvDeps.HandleCatalogUpdate(gctx, origin)
			})
			if err != nil && gctx.Err() == nil {
				// reloads still happen on the interval
				logger.Error("catalog update subscription ended", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				observability.LogSamplingStats(logger)
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// reloadLoop reloads the catalog every interval. Failures back off
// exponentially up to maxBackoff; the served catalog stays as it was.
func reloadLoop(ctx context.Context, logger *zap.Logger, srv *api.Server, interval, maxBackoff time.Duration) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = maxBackoff

	wait := interval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := srv.Reload(ctx); err != nil {
			wait = b.NextBackOff()
			logger.Error("auto reload", zap.Error(err), zap.Duration("retry_in", wait))
			continue
		}
		b.Reset()
		wait = interval
	}
}
