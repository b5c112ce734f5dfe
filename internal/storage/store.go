package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pumpguard/internal/config"
)

const (
	applicationName   = "pumpguard"
	healthCheckPeriod = 30 * time.Second
)

// NewPool opens and pings the pgx pool backing Store.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: database.dsn is empty", ErrNotConfigured)
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	// 连接名便于在 pg_stat_activity 中区分采集进程
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	pc.HealthCheckPeriod = healthCheckPeriod

	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 && int32(cfg.MaxIdleConns) <= pc.MaxConns {
		pc.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, wrap("open pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, wrap("ping", err)
	}
	return pool, nil
}
