package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "qcat-backtest/internal/errors"
)

// RedisCache represents Redis cache implementation
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisOptions represents Redis connection settings
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string // 键前缀
}

// NewRedisCache creates a new Redis cache instance and pings the server
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeCacheConnection,
			"failed to connect to Redis", opts.Addr, err)
	}

	return &RedisCache{client: client, prefix: opts.Prefix}, nil
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

// Get retrieves a JSON value from cache
func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return missError(key)
	}
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "redis get failed", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "failed to decode cached value", err)
	}
	return nil
}

// Set stores a JSON value with expiration
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "failed to encode value", err)
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "redis set failed", err)
	}
	return nil
}

// Delete deletes a key from cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Exists checks if a key exists
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.client.Exists(ctx, r.key(key)).Result()
	return result > 0, err
}

// HealthCheck performs a health check on Redis
func (r *RedisCache) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
