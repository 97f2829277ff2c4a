package stability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcat-backtest/internal/logger"
)

func TestShutdownOrder(t *testing.T) {
	m := NewShutdownManager(time.Second, 100*time.Millisecond, logger.NewNopLogger())

	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	m.Register("cache", 10, record("cache"), 0)
	m.Register("scheduler", 30, record("scheduler"), 0)
	m.Register("metrics", 20, record("metrics"), 0)
	m.Register("cache_stats", 10, record("cache_stats"), 0)

	result := m.Shutdown(context.Background())
	require.True(t, result.Success)
	assert.Equal(t, []string{"scheduler", "metrics", "cache", "cache_stats"}, order)

	// 第二次调用不再执行
	again := m.Shutdown(context.Background())
	assert.Same(t, result, again)
	assert.Len(t, order, 4)
}

func TestShutdownFailuresAndTimeouts(t *testing.T) {
	m := NewShutdownManager(50*time.Millisecond, 20*time.Millisecond, logger.NewNopLogger())

	m.Register("broken", 3, func(context.Context) error { return errors.New("boom") }, 0)
	m.Register("slow", 2, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	}, 0)
	m.Register("late", 1, func(context.Context) error { return nil }, 0)

	result := m.Shutdown(context.Background())
	assert.False(t, result.Success)
	require.Len(t, result.Components, 3)
	assert.Equal(t, ShutdownStatusFailed, result.Components[0].Status)
	assert.Equal(t, ShutdownStatusFailed, result.Components[1].Status)
	assert.Equal(t, ShutdownStatusSkipped, result.Components[2].Status)
	assert.Len(t, result.Errors, 3)
}
