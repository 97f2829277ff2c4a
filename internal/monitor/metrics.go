package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 组合状态标签
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusAbandoned = "abandoned"
)

// Metrics 回测与优化指标收集器
// 每个实例使用独立的注册表，可以重复创建而不会冲突
type Metrics struct {
	registry *prometheus.Registry

	// 回测指标
	combinations     *prometheus.CounterVec
	backtestDuration *prometheus.HistogramVec

	// 优化指标
	optimizationDuration *prometheus.HistogramVec
	throughput           *prometheus.GaugeVec
	walkForwardWindows   *prometheus.CounterVec

	// 资源指标
	residentMemory prometheus.Gauge
	memoryAlerts   prometheus.Counter
}

// NewMetrics 创建指标收集器
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		combinations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qbt_combinations_total",
			Help: "Total number of evaluated parameter combinations",
		}, []string{"strategy", "status"}),

		backtestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qbt_backtest_duration_seconds",
			Help:    "Duration of a single backtest run",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"strategy"}),

		optimizationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qbt_optimization_duration_seconds",
			Help:    "Wall-clock duration of an optimization",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"strategy"}),

		throughput: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qbt_optimization_throughput",
			Help: "Combinations evaluated per second in the last optimization",
		}, []string{"strategy"}),

		walkForwardWindows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qbt_walkforward_windows_total",
			Help: "Total number of walk-forward windows processed",
		}, []string{"strategy", "status"}),

		residentMemory: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qbt_resident_memory_bytes",
			Help: "Last sampled resident memory",
		}),

		memoryAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "qbt_memory_alerts_total",
			Help: "Total number of advisory memory alerts",
		}),
	}
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCombination 记录一个参数组合的结果
func (m *Metrics) RecordCombination(strategy, status string) {
	if m == nil {
		return
	}
	m.combinations.WithLabelValues(strategy, status).Inc()
}

// ObserveBacktest 记录单次回测耗时
func (m *Metrics) ObserveBacktest(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.backtestDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveOptimization 记录优化耗时与吞吐量
func (m *Metrics) ObserveOptimization(strategy string, d time.Duration, throughput float64) {
	if m == nil {
		return
	}
	m.optimizationDuration.WithLabelValues(strategy).Observe(d.Seconds())
	m.throughput.WithLabelValues(strategy).Set(throughput)
}

// RecordWindow 记录一个滚动窗口
func (m *Metrics) RecordWindow(strategy, status string) {
	if m == nil {
		return
	}
	m.walkForwardWindows.WithLabelValues(strategy, status).Inc()
}

// SetResidentMemory 更新内存采样值
func (m *Metrics) SetResidentMemory(bytes uint64) {
	if m == nil {
		return
	}
	m.residentMemory.Set(float64(bytes))
}

// IncMemoryAlerts 内存告警计数
func (m *Metrics) IncMemoryAlerts() {
	if m == nil {
		return
	}
	m.memoryAlerts.Inc()
}
