package optimizer

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/indicator"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/market/kline"
	"qcat-backtest/internal/monitor"
	"qcat-backtest/internal/stability"
	"qcat-backtest/internal/strategy"
	"qcat-backtest/internal/strategy/backtest"
)

// Config represents optimizer configuration
type Config struct {
	ScoreMetric          backtest.ScoreMetric
	MaxCombinations      int           // 0 表示不限制
	MaxWorkers           int           // 0 表示CPU核数
	Seed                 int64         // 采样种子
	CombinationTimeout   time.Duration // 单个组合超时
	Timeout              time.Duration // 整体超时
	MemoryThresholdBytes uint64
	MemorySampleInterval time.Duration
	KeepDetails          bool // 保留净值曲线与交易明细
}

// DefaultConfig returns the optimizer defaults
func DefaultConfig() Config {
	return Config{
		ScoreMetric:          backtest.MetricSharpe,
		MaxCombinations:      10000,
		MaxWorkers:           runtime.NumCPU(),
		Seed:                 42,
		MemorySampleInterval: 250 * time.Millisecond,
	}
}

// Optimizer runs a parameter grid through independent backtests on a fixed
// worker pool
type Optimizer struct {
	config  Config
	engine  *backtest.Engine
	logger  logger.Logger
	metrics *monitor.Metrics
}

// NewOptimizer creates a new optimizer. The engine score metric is replaced
// by config.ScoreMetric when set.
func NewOptimizer(opts backtest.Options, config Config, log logger.Logger, metrics *monitor.Metrics) (*Optimizer, error) {
	metric, err := backtest.ParseScoreMetric(string(config.ScoreMetric))
	if err != nil {
		return nil, err
	}
	if config.ScoreMetric != "" {
		opts.ScoreMetric = metric
	}
	config.ScoreMetric = opts.ScoreMetric
	if config.ScoreMetric == "" {
		config.ScoreMetric = backtest.MetricSharpe
	}
	if config.MaxCombinations < 0 {
		return nil, apperrors.InvalidInput("max combinations must not be negative")
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	engine, err := backtest.NewEngine(opts, log)
	if err != nil {
		return nil, err
	}
	return &Optimizer{config: config, engine: engine, logger: log, metrics: metrics}, nil
}

// Config returns the optimizer configuration
func (o *Optimizer) Config() Config {
	return o.config
}

// Engine returns the backtest engine used for every combination
func (o *Optimizer) Engine() *backtest.Engine {
	return o.engine
}

// Optimize evaluates every combination of spec (capped at MaxCombinations)
// and returns the ranked report. Input errors are returned before any work
// starts. On overall timeout or cancellation the completed results are still
// returned in a truncated report together with the error.
func (o *Optimizer) Optimize(ctx context.Context, series *kline.Series, kind strategy.Kind, spec RangeSpec) (*Report, error) {
	if err := series.Validate(2); err != nil {
		return nil, err
	}
	if err := spec.Validate(kind); err != nil {
		return nil, err
	}
	grid, err := Expand(spec, o.config.MaxCombinations, o.config.Seed)
	if err != nil {
		return nil, err
	}

	n := grid.Len()
	workers := o.config.MaxWorkers
	if workers > n {
		workers = n
	}
	batch := (n + workers - 1) / workers

	report := &Report{
		ID:                uuid.NewString(),
		Strategy:          string(kind),
		Symbol:            series.Symbol,
		ScoreMetric:       o.config.ScoreMetric,
		TotalCombinations: grid.Total(),
		Sampled:           grid.Sampled(),
		Workers:           workers,
		BatchSize:         batch,
		StartedAt:         time.Now(),
	}
	log := o.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"report_id": report.ID,
		"strategy":  kind,
		"symbol":    series.Symbol,
	})
	log.Info("Optimization started",
		"combinations", n, "total", grid.Total(), "workers", workers, "batch_size", batch)

	runCtx := ctx
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	mem := stability.NewMemoryMonitor(stability.MemoryConfig{
		Interval:       o.config.MemorySampleInterval,
		ThresholdBytes: o.config.MemoryThresholdBytes,
	}, log, o.metrics)
	mem.Start(runCtx)

	// 每个组合一个槽位，只写一次
	arena := make([]*backtest.Result, n)
	g, gctx := errgroup.WithContext(runCtx)
	for w := 0; w < workers; w++ {
		lo, hi := w*batch, (w+1)*batch
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			memo := indicator.NewMemo(series)
			for k := lo; k < hi; k++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				arena[k] = o.evaluate(gctx, series, memo, kind, grid.At(k))
			}
			return nil
		})
	}
	waitErr := g.Wait()
	memStats := mem.Stop()

	report.Results = make([]Entry, 0, n)
	for k, res := range arena {
		if res == nil {
			report.Abandoned++
			o.metrics.RecordCombination(string(kind), monitor.StatusAbandoned)
			continue
		}
		if res.Failed {
			report.Failed++
		}
		report.Results = append(report.Results, Entry{Combination: grid.Index(k), Result: res})
	}
	rank(report.Results)

	report.Evaluated = len(report.Results)
	report.WallClock = time.Since(report.StartedAt)
	if secs := report.WallClock.Seconds(); secs > 0 {
		report.Throughput = float64(report.Evaluated) / secs
	}
	report.PeakMemoryBytes = memStats.PeakBytes
	report.MemoryAlerts = memStats.Alerts
	o.metrics.ObserveOptimization(string(kind), report.WallClock, report.Throughput)

	logger.NewPerformanceLogger(log).LogPerformance("optimize", report.WallClock, map[string]interface{}{
		"evaluated":  report.Evaluated,
		"failed":     report.Failed,
		"abandoned":  report.Abandoned,
		"throughput": report.Throughput,
		"peak_mb":    report.PeakMemoryBytes >> 20,
		"maxrss_mb":  memStats.ProcessMaxRSS >> 20,
	})

	if report.Abandoned == 0 {
		return report, nil
	}
	switch {
	case ctx.Err() != nil:
		report.Truncated = true
		log.Warn("Optimization cancelled", "evaluated", report.Evaluated, "abandoned", report.Abandoned)
		return report, apperrors.NewAppError(apperrors.ErrCodeCancelled, "optimization cancelled", ctx.Err())
	default:
		report.Truncated = true
		log.Warn("Optimization timed out", "timeout", o.config.Timeout, "evaluated", report.Evaluated)
		return report, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeOptimizationTimeout,
			"optimization timed out", fmt.Sprintf("%d of %d combinations evaluated", report.Evaluated, n), waitErr)
	}
}

// evaluate runs one combination. It returns nil when the run was abandoned
// because the whole optimization stopped; every other outcome is a result.
func (o *Optimizer) evaluate(ctx context.Context, series *kline.Series, memo *indicator.Memo, kind strategy.Kind, params map[string]float64) (res *backtest.Result) {
	cctx := ctx
	if o.config.CombinationTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, o.config.CombinationTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res = o.failure(series, kind, params, apperrors.NewAppError(apperrors.ErrCodeCombinationFailed,
				fmt.Sprintf("panic: %v", r), nil))
		}
	}()

	result, err := o.engine.RunMemo(cctx, series, memo, kind, params)
	return o.settle(ctx, cctx, series, kind, params, result, err)
}

// settle turns a finished run into the stored result. A run that overshot
// its combination deadline after the engine's last cancellation check is
// still a timeout.
func (o *Optimizer) settle(ctx, cctx context.Context, series *kline.Series, kind strategy.Kind, params map[string]float64, result *backtest.Result, err error) *backtest.Result {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if ctx.Err() == nil && stderrors.Is(cctx.Err(), context.DeadlineExceeded) {
		return o.failure(series, kind, params, apperrors.NewAppError(apperrors.ErrCodeWorkerTimeout,
			fmt.Sprintf("combination exceeded %s", o.config.CombinationTimeout), cctx.Err()))
	}
	if err != nil {
		return o.failure(series, kind, params, err)
	}

	if math.IsNaN(result.Score) || math.IsInf(result.Score, 0) {
		return o.failure(series, kind, params, apperrors.NewAppError(apperrors.ErrCodeNumeric,
			fmt.Sprintf("non-finite %s score", o.config.ScoreMetric), nil))
	}

	if !o.config.KeepDetails {
		result.Strip()
	}
	o.metrics.ObserveBacktest(string(kind), result.Duration)
	o.metrics.RecordCombination(string(kind), monitor.StatusOK)
	o.logger.Trace("Combination evaluated", "strategy", kind, "params", params, "score", result.Score)
	return result
}

func (o *Optimizer) failure(series *kline.Series, kind strategy.Kind, params map[string]float64, err error) *backtest.Result {
	status := monitor.StatusFailed
	if apperrors.Is(err, apperrors.ErrCodeWorkerTimeout) {
		status = monitor.StatusTimeout
	}
	o.metrics.RecordCombination(string(kind), status)
	o.logger.Debug("Combination failed", "strategy", kind, "params", params, "error", err.Error())

	return &backtest.Result{
		RunID:       uuid.NewString(),
		Strategy:    string(kind),
		Symbols:     []string{series.Symbol},
		Params:      params,
		ScoreMetric: o.config.ScoreMetric,
		Score:       math.Inf(-1),
		Failed:      true,
		Error:       err.Error(),
	}
}
