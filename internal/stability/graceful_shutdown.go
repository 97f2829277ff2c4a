package stability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"qcat-backtest/internal/logger"
)

// ShutdownStatus 组件关闭状态
type ShutdownStatus string

const (
	ShutdownStatusPending   ShutdownStatus = "pending"
	ShutdownStatusCompleted ShutdownStatus = "completed"
	ShutdownStatusFailed    ShutdownStatus = "failed"
	ShutdownStatusSkipped   ShutdownStatus = "skipped"
)

// ShutdownComponent 需要优雅关闭的组件
type ShutdownComponent struct {
	Name         string
	Priority     int // 数值越大越先关闭
	ShutdownFunc func(ctx context.Context) error
	Timeout      time.Duration
	Status       ShutdownStatus
	Error        string
}

// ShutdownResult 关闭结果
type ShutdownResult struct {
	Success    bool
	Duration   time.Duration
	Components []ShutdownComponent
	Errors     []string
}

// ShutdownManager 按优先级依次关闭已注册组件
type ShutdownManager struct {
	timeout          time.Duration
	componentTimeout time.Duration
	components       []*ShutdownComponent
	logger           logger.Logger

	once   sync.Once
	result *ShutdownResult
	mu     sync.Mutex
}

// NewShutdownManager 创建关闭管理器；timeout 为整体时限
func NewShutdownManager(timeout, componentTimeout time.Duration, log logger.Logger) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if componentTimeout <= 0 {
		componentTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &ShutdownManager{
		timeout:          timeout,
		componentTimeout: componentTimeout,
		logger:           log,
	}
}

// Register 注册组件；timeout 为0时使用默认组件时限
func (m *ShutdownManager) Register(name string, priority int, fn func(ctx context.Context) error, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timeout <= 0 {
		timeout = m.componentTimeout
	}
	m.components = append(m.components, &ShutdownComponent{
		Name:         name,
		Priority:     priority,
		ShutdownFunc: fn,
		Timeout:      timeout,
		Status:       ShutdownStatusPending,
	})
	m.logger.Debug("Registered shutdown component", "component", name, "priority", priority)
}

// Shutdown 执行关闭流程，重复调用返回第一次的结果
func (m *ShutdownManager) Shutdown(ctx context.Context) *ShutdownResult {
	m.once.Do(func() {
		m.result = m.execute(ctx)
	})
	return m.result
}

func (m *ShutdownManager) execute(ctx context.Context) *ShutdownResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	ordered := make([]*ShutdownComponent, len(m.components))
	copy(ordered, m.components)
	m.mu.Unlock()

	// 同优先级保持注册顺序
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	result := &ShutdownResult{Success: true}
	for _, c := range ordered {
		if ctx.Err() != nil {
			c.Status = ShutdownStatusSkipped
			c.Error = "shutdown deadline exceeded"
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", c.Name, c.Error))
			result.Components = append(result.Components, *c)
			continue
		}

		compCtx, compCancel := context.WithTimeout(ctx, c.Timeout)
		err := c.ShutdownFunc(compCtx)
		compCancel()

		if err != nil {
			c.Status = ShutdownStatusFailed
			c.Error = err.Error()
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.Name, err))
			m.logger.Warn("Component shutdown failed", "component", c.Name, "error", err.Error())
		} else {
			c.Status = ShutdownStatusCompleted
			m.logger.Debug("Component shut down", "component", c.Name)
		}
		result.Components = append(result.Components, *c)
	}

	result.Duration = time.Since(start)
	m.logger.Info("Graceful shutdown completed", "duration", result.Duration.String(), "success", result.Success)
	return result
}
