package optimizer

import (
	"qcat-backtest/internal/config"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/monitor"
	"qcat-backtest/internal/strategy/backtest"
)

// Factory builds optimizer components from application configuration
type Factory struct {
	cfg     *config.Config
	logger  logger.Logger
	metrics *monitor.Metrics
}

// NewFactory creates a new optimizer factory
func NewFactory(cfg *config.Config, log logger.Logger, metrics *monitor.Metrics) *Factory {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Factory{cfg: cfg, logger: log, metrics: metrics}
}

// EngineOptions converts the engine section
func (f *Factory) EngineOptions() backtest.Options {
	e := f.cfg.Engine
	opts := backtest.DefaultOptions()
	opts.InitialCapital = e.InitialCapital
	opts.HoldingPeriod = e.HoldingPeriod
	opts.AllowShort = e.AllowShort
	opts.RiskFreeRate = e.RiskFreeRate
	opts.BarsPerYear = e.BarsPerYear
	opts.ScoreMetric = backtest.ScoreMetric(f.cfg.Optimizer.ScoreMetric)
	opts.Costs = backtest.CostModel{
		FixedFee:        e.TransactionCost.FixedFee,
		CommissionPct:   e.TransactionCost.CommissionPct,
		SlippagePct:     e.TransactionCost.SlippagePct,
		MarketImpactPct: e.TransactionCost.MarketImpactPct,
	}
	return opts
}

// OptimizerConfig converts the optimizer section
func (f *Factory) OptimizerConfig() Config {
	o := f.cfg.Optimizer
	cfg := DefaultConfig()
	cfg.ScoreMetric = backtest.ScoreMetric(o.ScoreMetric)
	cfg.MaxCombinations = o.MaxCombinations
	if o.MaxWorkers > 0 {
		cfg.MaxWorkers = o.MaxWorkers
	}
	cfg.Seed = o.Seed
	cfg.CombinationTimeout = o.CombinationTimeout
	cfg.Timeout = o.Timeout
	if o.MemoryThresholdMB > 0 {
		cfg.MemoryThresholdBytes = uint64(o.MemoryThresholdMB) << 20
	}
	if o.MemorySampleInterval > 0 {
		cfg.MemorySampleInterval = o.MemorySampleInterval
	}
	return cfg
}

// WalkForwardConfig converts the walk_forward section
func (f *Factory) WalkForwardConfig() WalkForwardConfig {
	w := f.cfg.WalkForward
	return WalkForwardConfig{
		TrainingLen: w.TrainingLen,
		TestingLen:  w.TestingLen,
		Step:        w.Step,
		Anchored:    w.Anchored,
	}
}

// Ranges returns the configured candidate lists of a strategy, nil if none
func (f *Factory) Ranges(strategyID string) RangeSpec {
	r, ok := f.cfg.Optimizer.Ranges[strategyID]
	if !ok {
		return nil
	}
	return RangeSpec(r)
}

// CreateEngine creates a backtest engine
func (f *Factory) CreateEngine() (*backtest.Engine, error) {
	return backtest.NewEngine(f.EngineOptions(), f.logger)
}

// CreateOptimizer creates an optimizer
func (f *Factory) CreateOptimizer() (*Optimizer, error) {
	return NewOptimizer(f.EngineOptions(), f.OptimizerConfig(), f.logger, f.metrics)
}

// CreateOverfitDetector creates a new overfit detector instance
func (f *Factory) CreateOverfitDetector() *OverfitDetector {
	return NewOverfitDetector(DefaultOverfitConfig())
}

// CreateWalkForward creates a walk-forward harness with its own optimizer
func (f *Factory) CreateWalkForward() (*WalkForward, error) {
	opt, err := f.CreateOptimizer()
	if err != nil {
		return nil, err
	}
	return NewWalkForward(f.WalkForwardConfig(), opt, f.CreateOverfitDetector(), f.logger, f.metrics)
}
