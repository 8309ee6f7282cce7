package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/matchrank/internal/api"
	"github.com/onnwee/matchrank/internal/config"
	"github.com/onnwee/matchrank/internal/db"
	"github.com/onnwee/matchrank/internal/health"
	"github.com/onnwee/matchrank/internal/jobs"
	"github.com/onnwee/matchrank/internal/middleware"
	"github.com/onnwee/matchrank/internal/ranking"
	"github.com/onnwee/matchrank/internal/tenant"
	"github.com/onnwee/matchrank/internal/tiers"
)

const serviceName = "matchrank-api"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// DefaultTenant is served from memory when no database is configured.
const DefaultTenant = "default"

// app holds the wired server and the resources it must release.
type app struct {
	handler http.Handler
	tierJob *tiers.RecomputeJob
	db      *sql.DB
	redis   *redis.Client
	logger  *slog.Logger
}

// newApp wires storage, the ranking engine, the tier job and the HTTP routes.
// Postgres and Redis are used only when their URLs are configured.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rankingMetrics := ranking.NewMetrics()
	tenantMetrics := tenant.NewMetrics()
	tierMetrics := tiers.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	for _, m := range []interface {
		Register(prometheus.Registerer) error
	}{rankingMetrics, tenantMetrics, tierMetrics, jobMetrics, httpMetrics} {
		if err := m.Register(registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	checks := health.NewRegistry()

	var source tenant.Source
	if cfg.DatabaseURL != "" {
		a.db, err = db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		source = tenant.NewPostgresSource(a.db)
		checks.Register("database", health.NewDBChecker(a.db))
	} else {
		logger.Warn("DATABASE_URL not set, serving tenant configs from memory",
			"tenant", DefaultTenant)
		source = tenant.NewStaticSource(map[string][]byte{DefaultTenant: []byte(`{}`)})
	}

	var (
		cache     tenant.Cache
		tierStore tiers.Store
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache = tenant.NewRedisCache(a.redis, cfg.TenantCacheTTL())
		tierStore = tiers.NewRedisStore(a.redis, cfg.TierSnapshotTTL())
		checks.Register("redis", health.NewRedisChecker(a.redis))
	} else {
		logger.Warn("REDIS_URL not set, tenant configs are not cached and tier snapshots live in memory")
		tierStore = tiers.NewInMemoryStore()
	}

	calibration, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		logger.Warn("using built-in ranking defaults", "error", err)
	}

	loader := tenant.NewLoader(tenant.LoaderConfig{
		Source:      source,
		Cache:       cache,
		Calibration: calibration,
		Logger:      logger,
		Metrics:     tenantMetrics,
	})

	engine := ranking.NewEngine(ranking.EngineConfig{
		Workers: cfg.RankingWorkers,
		Metrics: rankingMetrics,
		Logger:  logger,
	})

	members := tiers.NewInMemoryMemberSource()
	dirty := tiers.NewDirtyTracker()
	a.tierJob = tiers.NewRecomputeJob(tiers.RecomputeJobConfig{
		Interval:   cfg.TierRecomputeInterval(),
		Timeout:    cfg.TierRecomputeTimeout(),
		Logger:     logger,
		Metrics:    tierMetrics,
		JobMetrics: jobMetrics,
	}, dirty, members, loader, tierStore)

	rankingHandlers := api.NewRankingHandlers(api.RankingHandlersConfig{
		Engine:        engine,
		Configs:       loader,
		Tiers:         tierStore,
		Members:       members,
		Dirty:         dirty,
		Timeout:       cfg.RankingTimeout(),
		DefaultLimit:  cfg.RankingDefaultLimit,
		MaxCandidates: cfg.RankingMaxCandidates,
		Logger:        logger,
	})
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{Checks: checks})

	mux := http.NewServeMux()
	rankingHandlers.Register(mux)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, `{"service":%q,"version":%q}`, serviceName, version); err != nil {
			slog.ErrorContext(r.Context(), "failed to write response", "error", err)
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
	})

	// RequestID -> Logging -> HTTP metrics -> tracing -> routes
	a.handler = middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.Tracing(serviceName)(mux),
			),
		),
	)
	return a, nil
}

// start launches background work.
func (a *app) start(ctx context.Context) error {
	return a.tierJob.Start(ctx)
}

// close stops background work and releases connections.
func (a *app) close() {
	if a.tierJob != nil {
		a.tierJob.Stop()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("failed to release connections", "error", err)
	}
}
