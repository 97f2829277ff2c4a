package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "qcat-backtest/internal/errors"
)

// MemoryCache implements an in-memory cache with TTL and an LRU size bound
type MemoryCache struct {
	items      map[string]*memoryItem
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	stats      MemoryCacheStats
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// memoryItem represents an item in memory cache
type memoryItem struct {
	value      []byte
	expiration time.Time
	accessed   time.Time
}

// MemoryCacheStats represents memory cache statistics
type MemoryCacheStats struct {
	ItemCount     int       `json:"item_count"`
	MaxSize       int       `json:"max_size"`
	HitCount      int64     `json:"hit_count"`
	MissCount     int64     `json:"miss_count"`
	EvictionCount int64     `json:"eviction_count"`
	LastCleanup   time.Time `json:"last_cleanup"`
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(maxSize int, defaultTTL time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}

	mc := &MemoryCache{
		items:      make(map[string]*memoryItem),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		stopChan:   make(chan struct{}),
	}

	// 启动过期清理
	go mc.cleanupLoop()

	return mc
}

// Get retrieves a value from memory cache
func (mc *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, exists := mc.items[key]
	if exists && time.Now().After(item.expiration) {
		delete(mc.items, key)
		exists = false
	}
	if !exists {
		mc.stats.MissCount++
		mc.mu.Unlock()
		return missError(key)
	}
	item.accessed = time.Now()
	mc.stats.HitCount++
	data := item.value
	mc.mu.Unlock()

	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "failed to decode cached value", err)
	}
	return nil
}

// Set stores a value in memory cache
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "failed to encode value", err)
	}
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.items[key]; !exists && len(mc.items) >= mc.maxSize {
		mc.evictLRU()
	}

	now := time.Now()
	mc.items[key] = &memoryItem{
		value:      data,
		expiration: now.Add(ttl),
		accessed:   now,
	}
	return nil
}

// Delete removes a value from memory cache
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.items, key)
	return nil
}

// Exists checks if a live key exists in memory cache
func (mc *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, exists := mc.items[key]
	if !exists || time.Now().After(item.expiration) {
		return false, nil
	}
	return true, nil
}

// Stats returns memory cache statistics
func (mc *MemoryCache) Stats() MemoryCacheStats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	stats := mc.stats
	stats.ItemCount = len(mc.items)
	stats.MaxSize = mc.maxSize
	return stats
}

// Close stops the cleanup goroutine
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
	return nil
}

// evictLRU removes the least recently used item; caller holds the lock
func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, item := range mc.items {
		if oldestKey == "" || item.accessed.Before(oldest) {
			oldestKey = key
			oldest = item.accessed
		}
	}
	if oldestKey != "" {
		delete(mc.items, oldestKey)
		mc.stats.EvictionCount++
	}
}

// cleanupLoop periodically removes expired items
func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stopChan:
			return
		}
	}
}

func (mc *MemoryCache) cleanup() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	for key, item := range mc.items {
		if now.After(item.expiration) {
			delete(mc.items, key)
		}
	}
	mc.stats.LastCleanup = now
}
