package cache

import (
	"context"
	"time"

	apperrors "qcat-backtest/internal/errors"
)

// Cache defines the interface for report cache operations.
// Values are stored as JSON and decoded into dest on Get.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// HealthChecker 可探活的缓存后端
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Healthy 后端支持探活时执行检查，否则视为可用
func Healthy(ctx context.Context, c Cache) error {
	if hc, ok := c.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// IsMiss 判断是否为缓存未命中
func IsMiss(err error) bool {
	return apperrors.Is(err, apperrors.ErrCodeCacheMiss)
}

func missError(key string) error {
	return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeCacheMiss, "cache miss", key, nil)
}

// NopCache 不缓存任何内容
type NopCache struct{}

// Get 总是未命中
func (NopCache) Get(ctx context.Context, key string, dest interface{}) error { return missError(key) }

// Set 忽略写入
func (NopCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

// Delete 无操作
func (NopCache) Delete(ctx context.Context, key string) error { return nil }

// Exists 总是返回 false
func (NopCache) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

// Close 无操作
func (NopCache) Close() error { return nil }
