package backtest

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	apperrors "qcat-backtest/internal/errors"
)

// Portfolio holds one independent sleeve per asset. Each sleeve is funded
// with capital × weight and runs its own PositionManager.
type Portfolio struct {
	capital float64
	symbols []string
	weights []float64
	sleeves []*PositionManager
}

// NewPortfolio splits capital across symbols. Nil weights mean equal weights;
// weights are normalized to sum to one.
func NewPortfolio(symbols []string, weights []float64, capital float64, holding int, costs CostModel) (*Portfolio, error) {
	if len(symbols) == 0 {
		return nil, apperrors.InvalidInput("portfolio needs at least one asset")
	}
	if capital <= 0 {
		return nil, apperrors.InvalidInput("initial capital must be positive")
	}

	w := make([]float64, len(symbols))
	if len(weights) == 0 {
		for i := range w {
			w[i] = 1
		}
	} else {
		if len(weights) != len(symbols) {
			return nil, apperrors.InvalidInput("got %d weights for %d assets", len(weights), len(symbols))
		}
		for i, v := range weights {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return nil, apperrors.InvalidInput("weight of %s must be a non-negative number", symbols[i])
			}
		}
		copy(w, weights)
	}
	total := floats.Sum(w)
	if total <= 0 {
		return nil, apperrors.InvalidInput("portfolio weights sum to zero")
	}
	floats.Scale(1/total, w)

	p := &Portfolio{capital: capital, symbols: symbols, weights: w}
	for i, s := range symbols {
		p.sleeves = append(p.sleeves, NewPositionManager(s, capital*w[i], holding, costs))
	}
	return p, nil
}

// Len returns the number of assets
func (p *Portfolio) Len() int {
	return len(p.sleeves)
}

// Sleeve returns the position manager of asset i
func (p *Portfolio) Sleeve(i int) *PositionManager {
	return p.sleeves[i]
}

// Weights returns the normalized weights
func (p *Portfolio) Weights() []float64 {
	return append([]float64(nil), p.weights...)
}

// Equity sums sleeve equity marked at prices (one per asset)
func (p *Portfolio) Equity(prices []float64) float64 {
	var total float64
	for i, s := range p.sleeves {
		total += s.Equity(prices[i])
	}
	return total
}

// AggregateReturn is the weight-sum of each sleeve's return
func (p *Portfolio) AggregateReturn(prices []float64) float64 {
	var r float64
	for i, s := range p.sleeves {
		r += p.weights[i] * s.Snapshot(prices[i]).Return
	}
	return r
}

// Snapshots reports every sleeve at prices
func (p *Portfolio) Snapshots(prices []float64) []AssetSnapshot {
	out := make([]AssetSnapshot, len(p.sleeves))
	for i, s := range p.sleeves {
		out[i] = s.Snapshot(prices[i])
		out[i].Weight = p.weights[i]
	}
	return out
}

// Trades returns every closed trade across sleeves
func (p *Portfolio) Trades() []Trade {
	var out []Trade
	for _, s := range p.sleeves {
		out = append(out, s.Trades()...)
	}
	return out
}

// Correlation returns the pairwise Pearson correlation of aligned return
// series. Pairs with a constant series report 0.
func Correlation(returns [][]float64) [][]float64 {
	n := len(returns)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := 0.0
			if len(returns[i]) == len(returns[j]) && len(returns[i]) >= 2 {
				c = stat.Correlation(returns[i], returns[j], nil)
			}
			if math.IsNaN(c) || math.IsInf(c, 0) {
				c = 0
			}
			out[i][j], out[j][i] = c, c
		}
	}
	return out
}
