package cache

import (
	"context"

	"qcat-backtest/internal/config"
	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/logger"
)

const keyPrefix = "qbt:"

// NewCache 根据配置创建缓存，Redis 不可用时退回内存缓存
func NewCache(ctx context.Context, cfg config.CacheConfig, log logger.Logger) (Cache, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(cfg.MaxItems, cfg.TTL), nil
	case "none":
		return NopCache{}, nil
	case "redis":
		rc, err := NewRedisCache(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   keyPrefix,
		})
		if err != nil {
			log.Warn("Redis unavailable, falling back to memory cache", "addr", cfg.Redis.Addr, "error", err.Error())
			return NewMemoryCache(cfg.MaxItems, cfg.TTL), nil
		}
		log.Info("Redis cache connected", "addr", cfg.Redis.Addr)
		return rc, nil
	default:
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"unknown cache backend", cfg.Backend, nil)
	}
}
