package main

import (
	"context"
	"fmt"
	"time"

	"openflow/internal/config"
	"openflow/internal/db"
	"openflow/internal/dispatch"
	"openflow/internal/pubsub"
	"openflow/internal/schema"
	"openflow/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the infrastructure shared by serve and worker.
type app struct {
	cfg          *config.Config
	log          *zap.Logger
	pool         *db.Pool
	rdb          *redis.Client
	bus          *pubsub.Bus
	authoring    *schema.Authoring
	integrations *service.IntegrationService
	dispatcher   *dispatch.Dispatcher
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}

	authoring, err := schema.NewAuthoring(schema.NewCompilerWithCache(64))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	rdb := connectRedis(ctx, cfg.RedisAddr, log)

	integrations := service.NewIntegrationService(pool.Queries, pool.Queries, authoring, log)
	dispatcher := dispatch.New(integrations, dispatch.Config{
		Concurrency:       cfg.DispatchConcurrency,
		WebhookTimeout:    cfg.WebhookTimeout(),
		AppsScriptTimeout: cfg.AppsScriptTimeout(),
		SMTPTimeout:       cfg.SMTPTimeout(),
		SheetsTimeout:     cfg.SheetsTimeout(),
	}, log)
	integrations.SetRunner(dispatcher)

	return &app{
		cfg:          cfg,
		log:          log,
		pool:         pool,
		rdb:          rdb,
		bus:          pubsub.New(rdb, log),
		authoring:    authoring,
		integrations: integrations,
		dispatcher:   dispatcher,
	}, nil
}

// connectRedis returns nil when Redis is not configured or not reachable.
func connectRedis(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	if addr == "" {
		log.Info("Redis not configured")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis unavailable, continuing without it", zap.String("addr", addr), zap.Error(err))
		rdb.Close()
		return nil
	}
	log.Info("Connected to Redis", zap.String("addr", addr))
	return rdb
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.pool.Close()
}
