// Package app constructs and wires the application's components.
package app

import (
	"context"
	"fmt"
	"strconv"

	"agent-platform/internal/agents"
	"agent-platform/internal/audit"
	"agent-platform/internal/authz"
	"agent-platform/internal/bus"
	"agent-platform/internal/common/logging"
	"agent-platform/internal/config"
	"agent-platform/internal/dedup"
	"agent-platform/internal/pipeline"
	"agent-platform/internal/service"
	"agent-platform/internal/storage"
	"agent-platform/internal/storage/postgres"
	"agent-platform/internal/storage/sqlite"
	"agent-platform/internal/transport"
	"agent-platform/internal/transport/memory"
	"agent-platform/internal/transport/rabbitmq"
)

// App holds the wired application components.
type App struct {
	Config     *config.Config
	Storage    storage.Storage
	Cache      dedup.Cache
	Transport  transport.Transport
	Bus        *bus.EventBus
	Reconciler *bus.Reconciler
	Registry   *agents.Registry
	Engine     *pipeline.Engine
	Service    *service.Service

	logger logging.Logger
}

// New constructs the application bottom-up: storage, dedup cache, transport,
// bus, registry, engine, then the service facade.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.GetGlobalLogger()

	store, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	cache, err := dedup.NewRedisCache(&dedup.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
		TTL:      cfg.DedupTTL,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("dedup cache: %w", err)
	}

	tr, err := newTransport(cfg, logger)
	if err != nil {
		cache.Close()
		store.Close()
		return nil, fmt.Errorf("transport: %w", err)
	}

	eventBus := bus.NewEventBus(store, cache, tr, logger)
	reconciler := bus.NewReconciler(eventBus, bus.ReconcilerConfig{
		Schedule: cfg.ReconcileSchedule,
		MinAge:   cfg.ReconcileMinAge,
	}, logger)

	registry := agents.NewRegistry(logger)
	engine := pipeline.NewEngine(store, registry, pipeline.Config{
		StepTimeout: cfg.StepTimeout,
	}, logger)

	checker := authz.NewRoleChecker()
	auditLog := audit.NewLogger(store, cfg.AuditEnabled, logger)

	return &App{
		Config:     cfg,
		Storage:    store,
		Cache:      cache,
		Transport:  tr,
		Bus:        eventBus,
		Reconciler: reconciler,
		Registry:   registry,
		Engine:     engine,
		Service:    service.New(store, registry, engine, eventBus, checker, auditLog, logger),
		logger:     logger,
	}, nil
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		port, err := strconv.Atoi(cfg.PostgresPort)
		if err != nil {
			return nil, fmt.Errorf("invalid POSTGRES_PORT %q", cfg.PostgresPort)
		}
		return postgres.NewAdapter(ctx, &postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     port,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	default:
		return sqlite.NewAdapter(&sqlite.Config{Path: cfg.DatabasePath})
	}
}

func newTransport(cfg *config.Config, logger logging.Logger) (transport.Transport, error) {
	switch cfg.TransportType {
	case "rabbitmq":
		return rabbitmq.New(&rabbitmq.Config{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.EventExchange,
			Prefetch: cfg.EventPrefetch,
		}, logger)
	default:
		return memory.New(logger), nil
	}
}

// Cleanup releases all resources in reverse construction order.
func (a *App) Cleanup() {
	if a.Reconciler != nil {
		a.Reconciler.Stop()
	}
	if a.Transport != nil {
		if err := a.Transport.Close(); err != nil {
			a.logger.Error("failed to close transport", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Error("failed to close dedup cache", err)
		}
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.logger.Error("failed to close storage", err)
		}
	}
}
