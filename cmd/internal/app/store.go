package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"unisession/cmd/internal/kv"
)

const readinessProbeKey = "health/probe"

// storage owns the key-value backend and whatever connection sits under it.
type storage struct {
	kv     kv.Store
	driver string
	pool   *pgxpool.Pool
}

// openStorage connects the backend selected by cfg.StorageDriver.
func openStorage(ctx context.Context, cfg Config, log Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case DriverMemory:
		log.Warn("storage.memory", "note", "sessions and accounts are lost on restart")
		return &storage{kv: kv.NewMemoryStore(), driver: DriverMemory}, nil

	case DriverSQLite:
		st, err := kv.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("storage.sqlite", "path", cfg.SQLitePath)
		return &storage{kv: st, driver: DriverSQLite}, nil

	case DriverPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		st, err := kv.NewPostgresStore(pool, kv.WithSchema(cfg.PostgresSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("storage.postgres", "schema", cfg.PostgresSchema)
		return &storage{kv: st, driver: DriverPostgres, pool: pool}, nil

	case DriverRedis:
		st, err := kv.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		log.Info("storage.redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return &storage{kv: st, driver: DriverRedis}, nil

	default:
		return nil, fmt.Errorf("app: unknown storage driver %q", cfg.StorageDriver)
	}
}

// Ping reports whether the backend answers within timeout.
func (s *storage) Ping(parent context.Context, timeout time.Duration) error {
	if s.pool != nil {
		return PingDB(parent, s.pool, timeout)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if _, err := s.kv.Get(ctx, readinessProbeKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	return nil
}

// Close releases the store, then the pool it was built on.
func (s *storage) Close() error {
	err := s.kv.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
