package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/wallet-ledger/internal/config"
	"github.com/ruralpay/wallet-ledger/internal/logger"
)

// InitRedis returns a connected client, or nil when Redis is disabled or
// unreachable. Callers treat nil as "run without Redis".
func InitRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		logger.Info("Redis disabled, continuing without Redis")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warnf("Redis connection failed, continuing without Redis: %v", err)
		rdb.Close()
		return nil
	}

	logger.Info("Redis connection established")
	return rdb
}
