package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"excisepos/backend/internal/billing"
	"excisepos/backend/internal/cache"
	"excisepos/backend/internal/cart"
	"excisepos/backend/internal/catalog"
	"excisepos/backend/internal/config"
	"excisepos/backend/internal/migrations"
	"excisepos/backend/internal/service"
	"excisepos/backend/internal/store"
	"excisepos/backend/internal/store/memory"
	pgstore "excisepos/backend/internal/store/postgres"
)

// App is the wired service with everything it owns.
type App struct {
	Config  config.Config
	Repo    store.Repository
	Service *service.Service
	Logger  *zap.Logger

	closers []func() error
}

// Build connects the stores named by cfg. With a database URL set it refuses
// to fall back to memory; a missing redis only degrades caching.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.DatabaseURL, log); err != nil {
				return nil, err
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.Options{
			MaxOpenConns: cfg.DatabaseMaxOpenConns,
			MaxIdleConns: cfg.DatabaseMaxIdleConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and database.url is set: %w", err)
		}
		a.Repo = pg
		a.closers = append(a.closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		a.Repo = memory.NewSeeded(cfg.CompanyID)
		log.Info("repository: in-memory")
	}

	itemCache := cache.CatalogCache(cache.NoopCatalogCache{})
	guard := cache.SubmissionGuard(cache.NewMemorySubmissionGuard())
	carts := cart.Store(cart.NewMemoryStore(cfg.CartTTL))
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisCatalogCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process caches", zap.Error(err))
			_ = client.Close()
		} else {
			itemCache = redisCache
			guard = cache.NewRedisSubmissionGuard(client)
			carts = cart.NewRedisStore(client, cfg.CartTTL)
			a.closers = append(a.closers, client.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: in-process")
	}

	allocator := billing.NewAllocator(
		billing.NumberFormat{Prefix: cfg.BillPrefix, Width: cfg.BillNumberWidth},
		cfg.BillMaxAttempts,
		log.Named("billing"),
	)
	a.Service = service.New(a.Repo, cfg.ExciseCaps, allocator, cfg.CompanyID,
		service.WithLogger(log),
		service.WithLocation(cfg.Location),
		service.WithCatalog(catalog.New(a.Repo, itemCache, cfg.CatalogCacheTTL, log.Named("catalog"))),
		service.WithCartStore(carts),
		service.WithSubmissionGuard(guard, cfg.DuplicateWindow),
	)
	return a, nil
}

func migrateUp(databaseURL string, log *zap.Logger) error {
	m, err := migrations.Open(databaseURL, log)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
