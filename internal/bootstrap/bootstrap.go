// Package bootstrap opens the process-wide dependencies shared by the HTTP
// server and the materialize command.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stockledger/backend/internal/cache"
	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/config"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/snapshot"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/store/memory"
	pgstore "stockledger/backend/internal/store/postgres"
)

type Runtime struct {
	Repo          store.Repository
	Calendar      *calendar.Calendar
	Service       *service.Service
	Materializer  *snapshot.Materializer
	Reconstructor *snapshot.Reconstructor

	closers []func() error
	logger  logrus.FieldLogger
}

// Open wires the store, cache and snapshot components from cfg. A set
// DATABASE_URL that cannot be reached is fatal; an unreachable Redis
// degrades to the in-process guard and no cache.
func Open(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*Runtime, error) {
	cal, err := calendar.New(cfg.OperatingTimezone, time.Now)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Calendar: cal, logger: logger}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		rt.closers = append(rt.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		rt.Repo = pg
		logger.WithField("repository", "postgres").Info("repository ready")
	} else {
		if cfg.SeedDemoData {
			rt.Repo = memory.NewSeeded(cal.Today(), time.Now().UTC())
		} else {
			rt.Repo = memory.New()
		}
		logger.WithFields(logrus.Fields{"repository": "memory", "seeded": cfg.SeedDemoData}).Info("repository ready")
	}

	var (
		movementCache cache.MovementCache = cache.NoopMovementCache{}
		guard         cache.RunGuard      = cache.NewLocalRunGuard()
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisMovementCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and local run guard")
			_ = redisCache.Close()
		} else {
			movementCache = redisCache
			guard = cache.NewRedisRunGuard(client)
			rt.closers = append(rt.closers, redisCache.Close)
			logger.WithField("cache", "redis").Info("cache ready")
		}
	}

	rt.Service = service.New(rt.Repo, cal, service.Options{
		CreditPolicy:   cfg.CreditPolicy,
		CreditTermDays: cfg.CreditTermDays,
		MaxAmount:      cfg.MaxAmount,
	}, logger)
	rt.Materializer = snapshot.NewMaterializer(rt.Repo, cal, guard, movementCache, logger)
	rt.Reconstructor = snapshot.NewReconstructor(rt.Repo, movementCache, cfg.SnapshotCacheTTL(), logger)
	return rt, nil
}

// Close releases everything Open acquired, newest first.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.WithError(err).Warn("close error")
		}
	}
	rt.closers = nil
}
