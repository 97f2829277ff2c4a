package optimizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcat-backtest/internal/config"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/strategy/backtest"
)

func TestFactoryFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.HoldingPeriod = 14
	cfg.Engine.TransactionCost.CommissionPct = 0.1
	cfg.Optimizer.ScoreMetric = "calmar"
	cfg.Optimizer.MaxWorkers = 2
	cfg.Optimizer.MemoryThresholdMB = 512
	cfg.Optimizer.Timeout = time.Minute
	cfg.Optimizer.Ranges = map[string]map[string][]float64{"ma_cross": {"fast": {5, 10}}}
	cfg.WalkForward = config.WalkForwardConfig{TrainingLen: 120, TestingLen: 30, Step: 30}

	f := NewFactory(cfg, logger.NewNopLogger(), nil)

	opts := f.EngineOptions()
	assert.Equal(t, 14, opts.HoldingPeriod)
	assert.Equal(t, 0.1, opts.Costs.CommissionPct)
	assert.Equal(t, backtest.MetricCalmar, opts.ScoreMetric)

	oc := f.OptimizerConfig()
	assert.Equal(t, 2, oc.MaxWorkers)
	assert.Equal(t, uint64(512)<<20, oc.MemoryThresholdBytes)
	assert.Equal(t, time.Minute, oc.Timeout)

	assert.Equal(t, RangeSpec{"fast": {5, 10}}, f.Ranges("ma_cross"))
	assert.Nil(t, f.Ranges("rsi_threshold"))

	opt, err := f.CreateOptimizer()
	require.NoError(t, err)
	assert.Equal(t, backtest.MetricCalmar, opt.Config().ScoreMetric)
	assert.Equal(t, backtest.MetricCalmar, opt.Engine().Options().ScoreMetric)

	wf, err := f.CreateWalkForward()
	require.NoError(t, err)
	assert.Equal(t, 120, wf.config.TrainingLen)
}
