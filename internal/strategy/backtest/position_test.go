package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcat-backtest/internal/strategy"
)

var t0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func bar(i int) time.Time {
	return t0.Add(time.Duration(i) * 24 * time.Hour)
}

func TestCostModel(t *testing.T) {
	c := CostModel{FixedFee: 1, CommissionPct: 0.1}
	assert.InDelta(t, 2.0, c.Cost(100, 10, 0), 1e-9)
	assert.Equal(t, 0.0, c.Cost(0, 10, 0))

	impact := CostModel{MarketImpactPct: 0.5}
	// 成交量占比 10%
	assert.InDelta(t, 0.5, impact.Cost(100, 10, 100), 1e-9)
	// 未知成交量按全额计算
	assert.InDelta(t, 5.0, impact.Cost(100, 10, 0), 1e-9)

	assert.NoError(t, c.Validate())
	assert.Error(t, CostModel{SlippagePct: -0.1}.Validate())
	assert.Error(t, CostModel{FixedFee: math.NaN()}.Validate())
}

func TestHoldingPeriodExit(t *testing.T) {
	pm := NewPositionManager("TEST", 1000, 3, CostModel{})

	assert.Nil(t, pm.Advance(0, strategy.SignalEnterLong, 100, bar(0), 0))
	assert.Equal(t, strategy.StateLong, pm.State())
	assert.InDelta(t, 10.0, pm.Position().Quantity, 1e-9)

	assert.Nil(t, pm.Advance(1, strategy.SignalHold, 101, bar(1), 0))
	assert.Nil(t, pm.Advance(2, strategy.SignalEnterShort, 102, bar(2), 0))

	trade := pm.Advance(3, strategy.SignalHold, 110, bar(3), 0)
	require.NotNil(t, trade)
	assert.Equal(t, 0, trade.EntryBar)
	assert.Equal(t, 3, trade.ExitBar)
	assert.Equal(t, 3, trade.HoldingBars)
	assert.Equal(t, ExitHoldingPeriod, trade.ExitReason)
	assert.InDelta(t, 100.0, trade.GrossPnL, 1e-9)
	assert.InDelta(t, 0.1, trade.Return, 1e-9)
	assert.InDelta(t, 1100.0, pm.Cash(), 1e-9)
	assert.Equal(t, strategy.StateFlat, pm.State())
}

func TestCloseHasPriorityOverOpen(t *testing.T) {
	pm := NewPositionManager("TEST", 1000, 1, CostModel{})
	pm.Advance(0, strategy.SignalEnterLong, 100, bar(0), 0)

	// 同一根K线平仓后不再开仓
	trade := pm.Advance(1, strategy.SignalEnterLong, 100, bar(1), 0)
	require.NotNil(t, trade)
	assert.Nil(t, pm.Position())

	pm.Advance(2, strategy.SignalEnterLong, 100, bar(2), 0)
	assert.Equal(t, 2, pm.Position().EntryBar)
}

func TestSignalExitWithoutHoldingPeriod(t *testing.T) {
	pm := NewPositionManager("TEST", 1000, 0, CostModel{})
	pm.Advance(0, strategy.SignalEnterLong, 100, bar(0), 0)
	for i := 1; i < 50; i++ {
		assert.Nil(t, pm.Advance(i, strategy.SignalHold, 100, bar(i), 0))
	}
	trade := pm.Advance(50, strategy.SignalExit, 95, bar(50), 0)
	require.NotNil(t, trade)
	assert.Equal(t, ExitSignal, trade.ExitReason)
	assert.Equal(t, 50, trade.HoldingBars)
	assert.InDelta(t, -50.0, trade.NetPnL, 1e-9)
}

func TestShortPosition(t *testing.T) {
	pm := NewPositionManager("TEST", 1000, 0, CostModel{})
	pm.Advance(0, strategy.SignalEnterShort, 100, bar(0), 0)
	assert.Equal(t, strategy.StateShort, pm.State())
	assert.InDelta(t, 2000.0, pm.Cash(), 1e-9)
	assert.InDelta(t, 1100.0, pm.Equity(90), 1e-9)
	assert.InDelta(t, 100.0, pm.UnrealizedPnL(90), 1e-9)

	trade := pm.ForceClose(5, 90, bar(5), 0)
	require.NotNil(t, trade)
	assert.Equal(t, ExitEndOfData, trade.ExitReason)
	assert.InDelta(t, 100.0, trade.GrossPnL, 1e-9)
	assert.InDelta(t, 1100.0, pm.Cash(), 1e-9)
	assert.Nil(t, pm.ForceClose(6, 90, bar(6), 0))
}

func TestCostsReduceNetPnL(t *testing.T) {
	costs := CostModel{FixedFee: 1, CommissionPct: 0.1, SlippagePct: 0.05}
	pm := NewPositionManager("TEST", 1000, 0, costs)
	pm.Advance(0, strategy.SignalEnterLong, 100, bar(0), 0)
	assert.GreaterOrEqual(t, pm.Cash(), 0.0)

	trade := pm.Advance(1, strategy.SignalExit, 100, bar(1), 0)
	require.NotNil(t, trade)
	assert.Equal(t, 0.0, trade.GrossPnL)
	assert.Greater(t, trade.Costs, 2.0)
	assert.InDelta(t, -trade.Costs, trade.NetPnL, 1e-9)
	assert.InDelta(t, 1000+trade.NetPnL, pm.Cash(), 1e-6)

	snap := pm.Snapshot(100)
	assert.Equal(t, 1, snap.TradeCount)
	assert.InDelta(t, trade.NetPnL, snap.RealizedPnL, 1e-9)
	assert.Less(t, snap.Return, 0.0)
}

func TestEvaluateMetrics(t *testing.T) {
	equity := []float64{100, 120, 90, 110}
	m := Evaluate(equity, nil, EvalOptions{BarsPerYear: 252})
	assert.InDelta(t, 0.1, m.TotalReturn, 1e-9)
	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-9)
	assert.Greater(t, m.AnnualizedVolatility, 0.0)
	assert.Equal(t, 0, m.TradeCount)

	flat := Evaluate([]float64{100, 100, 100, 100}, nil, EvalOptions{BarsPerYear: 252})
	assert.Equal(t, 0.0, flat.Sharpe)
	assert.Equal(t, 0.0, flat.Sortino)
	assert.Equal(t, 0.0, flat.Calmar)
	assert.Equal(t, 0.0, flat.MaxDrawdown)

	rising := Evaluate([]float64{100, 101, 103, 104, 106}, nil, EvalOptions{BarsPerYear: 252})
	assert.Greater(t, rising.Sharpe, 0.0)
	// 无负收益时下行偏差为零
	assert.Equal(t, 0.0, rising.Sortino)
}

func TestTradeStats(t *testing.T) {
	trades := []Trade{
		{NetPnL: 30, Return: 0.03, HoldingBars: 4},
		{NetPnL: -10, Return: -0.01, HoldingBars: 2},
	}
	m := Evaluate([]float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109}, trades, EvalOptions{})
	assert.Equal(t, 2, m.TradeCount)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 3.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 0.01, m.AvgTradeReturn, 1e-9)
	assert.InDelta(t, 3.0, m.AvgHoldingBars, 1e-9)
	assert.InDelta(t, 0.6, m.Exposure, 1e-9)
}

func TestScoreMetricParsing(t *testing.T) {
	m, err := ParseScoreMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricSharpe, m)

	m, err = ParseScoreMetric(" Sortino ")
	require.NoError(t, err)
	assert.Equal(t, MetricSortino, m)

	_, err = ParseScoreMetric("alpha")
	assert.Error(t, err)

	metrics := Metrics{Sharpe: 1, Sortino: 2, Calmar: 3, TotalReturn: 4}
	assert.Equal(t, 3.0, metrics.Score(MetricCalmar))
	assert.Equal(t, 4.0, metrics.Score(MetricTotalReturn))
}
