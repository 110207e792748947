package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prudhvinik1/offlinesync/internal/config"
	"github.com/prudhvinik1/offlinesync/internal/database"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
)

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.PersistentStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory store, queued operations are lost on exit")
		return repositories.NewMemoryStore(), func() {}, nil

	case config.BackendBadger:
		db, err := database.NewBadgerDB(database.BadgerConfig{
			Path:   cfg.BadgerPath,
			Logger: logger.With("component", "badger"),
		})
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewBadgerStore(db), func() { db.Close() }, nil

	case config.BackendSQLite:
		db, err := database.NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := repositories.NewSQLiteStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil

	case config.BackendRedis:
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewRedisStore(client), func() { client.Close() }, nil

	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := repositories.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
