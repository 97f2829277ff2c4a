package stability

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/time/rate"

	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/monitor"
)

// MemoryConfig 内存监控配置
type MemoryConfig struct {
	Interval       time.Duration // 采样间隔
	ThresholdBytes uint64        // 告警阈值，0 表示不告警
	AlertEvery     time.Duration // 告警日志最小间隔
}

// DefaultMemoryConfig 默认配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Interval:   250 * time.Millisecond,
		AlertEvery: 30 * time.Second,
	}
}

// MemoryAlert 内存告警，仅供参考，不会中断计算
type MemoryAlert struct {
	ResidentBytes  uint64    `json:"resident_bytes"`
	ThresholdBytes uint64    `json:"threshold_bytes"`
	Timestamp      time.Time `json:"timestamp"`
}

// MemoryStats 监控期间的统计
type MemoryStats struct {
	PeakBytes uint64 `json:"peak_bytes"` // 本次监控期间采样到的最大值
	Samples   int    `json:"samples"`
	Alerts    int    `json:"alerts"`

	// ProcessMaxRSS 进程生命周期内的最大常驻内存，仅供参考
	ProcessMaxRSS uint64 `json:"process_max_rss"`
}

// MemoryMonitor 周期性采样进程常驻内存
type MemoryMonitor struct {
	config  MemoryConfig
	logger  logger.Logger
	metrics *monitor.Metrics
	limiter *rate.Limiter
	onAlert func(MemoryAlert)
	read    func() uint64

	mu      sync.Mutex
	stats   MemoryStats
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMemoryMonitor 创建内存监控器
func NewMemoryMonitor(config MemoryConfig, log logger.Logger, metrics *monitor.Metrics) *MemoryMonitor {
	def := DefaultMemoryConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.AlertEvery <= 0 {
		config.AlertEvery = def.AlertEvery
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &MemoryMonitor{
		config:  config,
		logger:  log,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Every(config.AlertEvery), 1),
		read:    residentBytes,
	}
}

// OnAlert 设置告警回调
func (m *MemoryMonitor) OnAlert(fn func(MemoryAlert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = fn
}

// Start 启动后台采样，重复调用无效
func (m *MemoryMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stats = MemoryStats{}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	m.Sample()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Stop 停止采样并返回统计
func (m *MemoryMonitor) Stop() MemoryStats {
	m.mu.Lock()
	if !m.running {
		stats := m.stats
		m.mu.Unlock()
		return stats
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
	m.Sample()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.ProcessMaxRSS = maxRSS()
	return m.stats
}

// Stats 返回当前统计
func (m *MemoryMonitor) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Sample 采样一次并返回常驻内存
func (m *MemoryMonitor) Sample() uint64 {
	rss := m.read()
	m.metrics.SetResidentMemory(rss)

	m.mu.Lock()
	m.stats.Samples++
	if rss > m.stats.PeakBytes {
		m.stats.PeakBytes = rss
	}
	over := m.config.ThresholdBytes > 0 && rss > m.config.ThresholdBytes
	if over {
		m.stats.Alerts++
	}
	onAlert := m.onAlert
	m.mu.Unlock()

	if over {
		alert := MemoryAlert{ResidentBytes: rss, ThresholdBytes: m.config.ThresholdBytes, Timestamp: time.Now()}
		m.metrics.IncMemoryAlerts()
		if m.limiter.Allow() {
			m.logger.Warn("Resident memory above threshold",
				"resident_mb", rss>>20, "threshold_mb", m.config.ThresholdBytes>>20)
		}
		if onAlert != nil {
			onAlert(alert)
		}
	}
	return rss
}

// residentBytes 读取 /proc/self/stat，不可用时退回 Go 运行时统计
func residentBytes() uint64 {
	if p, err := procfs.Self(); err == nil {
		if stat, err := p.Stat(); err == nil && stat.ResidentMemory() > 0 {
			return uint64(stat.ResidentMemory())
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}
