package app

import (
	"context"
	"database/sql"

	"presence-service/internal/config"
	"presence-service/internal/identity"
	"presence-service/internal/logger"
	"presence-service/internal/redis"

	_ "github.com/lib/pq"
)

type Infra struct {
	DB    *sql.DB
	Redis *redis.Client
}

// setupInfra connects the optional backing services. Redis powers the
// durable connection registry and CMS session lookup; Postgres powers the
// profile resolver. Either may be absent in small deployments, and the
// service degrades as documented instead of refusing to start.
func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	infra := &Infra{}

	if cfg.DatabaseDSN != "" {
		sqlDB, err := sql.Open("postgres", cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, err
		}
		if err := identity.RunMigration(ctx, sqlDB); err != nil {
			return nil, err
		}
		infra.DB = sqlDB
		logger.Info("database ready", nil)
	} else {
		logger.Info("no DATABASE_DSN; profile fallback disabled", nil)
	}

	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		infra.Redis = redisClient
		logger.Info("redis ready", nil)
	} else {
		logger.Info("no REDIS_ADDR; using in-memory registry, token auth only", nil)
	}

	return infra, nil
}
