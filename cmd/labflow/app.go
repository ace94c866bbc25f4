package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/labflow/config"
	"github.com/vnmchuo/labflow/internal/orchestrator"
	"github.com/vnmchuo/labflow/internal/pipeline"
	"github.com/vnmchuo/labflow/internal/telemetry"
	"github.com/vnmchuo/labflow/internal/usage"
)

// app holds the long-lived objects shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	store   usage.Store
	rdb     *redis.Client
	manager *orchestrator.Manager

	closers []func()
}

func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	// 1. Load config
	if cfgFile != "" {
		os.Setenv("LABFLOW_CONFIG", cfgFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Init logging
	logger := telemetry.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics(prometheus.NewRegistry()),
	}

	// 3. Usage ledger: PostgreSQL when configured
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		store := usage.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		logger.Info("PostgreSQL connected")
	} else {
		a.store = usage.NewMemoryStore()
	}

	// 4. Response cache: Redis when configured
	var cache orchestrator.Cache = orchestrator.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		a.rdb = rdb
		cache = orchestrator.NewRedisCache(rdb)
		logger.Info("Redis connected")
	}

	// 5. Orchestrator
	a.manager = orchestrator.New(cfg.Service,
		orchestrator.WithLogger(logger),
		orchestrator.WithCache(cache),
		orchestrator.WithTracer(otel.Tracer(telemetry.TracerName)),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithRecorder(a.store),
	)
	return a, nil
}

func (a *app) pipelineOptions() []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithTracer(otel.Tracer(telemetry.TracerName)),
		pipeline.WithMetrics(a.metrics),
	}
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
