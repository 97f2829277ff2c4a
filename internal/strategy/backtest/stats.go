package backtest

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat"
)

// EvalOptions configures metric annualization
type EvalOptions struct {
	RiskFreeRate float64 // annual
	BarsPerYear  float64
}

// Metrics is the performance bundle of one run
type Metrics struct {
	TotalReturn          float64 `json:"total_return"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	Sharpe               float64 `json:"sharpe"`
	Sortino              float64 `json:"sortino"`
	Calmar               float64 `json:"calmar"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	WinRate              float64 `json:"win_rate"`
	TradeCount           int     `json:"trade_count"`
	ProfitFactor         float64 `json:"profit_factor"`
	AvgTradeReturn       float64 `json:"avg_trade_return"`
	AvgHoldingBars       float64 `json:"avg_holding_bars"`
	Exposure             float64 `json:"exposure"`
}

// Score returns the value of the selected metric
func (m Metrics) Score(metric ScoreMetric) float64 {
	switch metric {
	case MetricSortino:
		return m.Sortino
	case MetricCalmar:
		return m.Calmar
	case MetricTotalReturn:
		return m.TotalReturn
	default:
		return m.Sharpe
	}
}

// MarshalJSON encodes non-finite values as null
func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"total_return":          finitePtr(m.TotalReturn),
		"annualized_return":     finitePtr(m.AnnualizedReturn),
		"annualized_volatility": finitePtr(m.AnnualizedVolatility),
		"sharpe":                finitePtr(m.Sharpe),
		"sortino":               finitePtr(m.Sortino),
		"calmar":                finitePtr(m.Calmar),
		"max_drawdown":          finitePtr(m.MaxDrawdown),
		"win_rate":              finitePtr(m.WinRate),
		"trade_count":           m.TradeCount,
		"profit_factor":         finitePtr(m.ProfitFactor),
		"avg_trade_return":      finitePtr(m.AvgTradeReturn),
		"avg_holding_bars":      finitePtr(m.AvgHoldingBars),
		"exposure":              finitePtr(m.Exposure),
	})
}

// Returns converts an equity curve into per-bar simple returns
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		out[i-1] = equity[i]/equity[i-1] - 1
	}
	return out
}

// Evaluate computes the metric bundle for an equity curve and its trades.
// Every ratio with a zero denominator is reported as 0.
func Evaluate(equity []float64, trades []Trade, opts EvalOptions) Metrics {
	bpy := opts.BarsPerYear
	if bpy <= 0 {
		bpy = 252
	}

	m := Metrics{
		TotalReturn: calculateTotalReturn(equity),
		MaxDrawdown: calculateMaxDrawdown(equity),
		TradeCount:  len(trades),
	}

	returns := Returns(equity)
	if n := len(returns); n > 0 {
		growth := 1 + m.TotalReturn
		if growth > 0 {
			m.AnnualizedReturn = math.Pow(growth, bpy/float64(n)) - 1
		} else {
			m.AnnualizedReturn = -1
		}
	}

	rf := opts.RiskFreeRate / bpy
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rf
	}
	annualizer := math.Sqrt(bpy)

	if len(returns) >= 2 {
		m.AnnualizedVolatility = stat.StdDev(returns, nil) * annualizer

		mean, std := stat.MeanStdDev(excess, nil)
		if std > 0 {
			m.Sharpe = mean / std * annualizer
		}
		if dd := downsideDeviation(excess); dd > 0 {
			m.Sortino = mean / dd * annualizer
		}
	}

	if m.MaxDrawdown > 0 {
		m.Calmar = m.AnnualizedReturn / m.MaxDrawdown
	}

	calculateTradeStats(&m, trades, len(equity))
	return m
}

func calculateTotalReturn(equity []float64) float64 {
	if len(equity) < 2 || equity[0] <= 0 {
		return 0
	}
	return equity[len(equity)-1]/equity[0] - 1
}

// calculateMaxDrawdown returns the largest peak-to-trough decline as a fraction
func calculateMaxDrawdown(equity []float64) float64 {
	maxDrawdown := 0.0
	peak := math.Inf(-1)
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - e) / peak; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// downsideDeviation is the root mean square of negative excess returns
// over all periods
func downsideDeviation(excess []float64) float64 {
	if len(excess) == 0 {
		return 0
	}
	var sum float64
	for _, r := range excess {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(excess)))
}

func calculateTradeStats(m *Metrics, trades []Trade, bars int) {
	if len(trades) == 0 {
		return
	}

	var wins int
	var grossProfit, grossLoss, sumReturn, sumHolding float64
	for _, t := range trades {
		if t.NetPnL > 0 {
			wins++
			grossProfit += t.NetPnL
		} else {
			grossLoss -= t.NetPnL
		}
		sumReturn += t.Return
		sumHolding += float64(t.HoldingBars)
	}

	n := float64(len(trades))
	m.WinRate = float64(wins) / n
	m.AvgTradeReturn = sumReturn / n
	m.AvgHoldingBars = sumHolding / n
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	if bars > 0 {
		m.Exposure = math.Min(sumHolding/float64(bars), 1)
	}
}
