package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	apperrors "qcat-backtest/internal/errors"
)

var hundred = decimal.NewFromInt(100)

// CostModel charges a transaction cost on every entry and exit.
// Percentages are in percent units: 0.1 means 0.1%.
type CostModel struct {
	FixedFee        float64 `json:"fixed_fee" yaml:"fixed_fee"`
	CommissionPct   float64 `json:"commission_pct" yaml:"commission_pct"`
	SlippagePct     float64 `json:"slippage_pct" yaml:"slippage_pct"`
	MarketImpactPct float64 `json:"market_impact_pct" yaml:"market_impact_pct"`
}

// Validate rejects negative or non-finite components
func (c CostModel) Validate() error {
	for name, v := range map[string]float64{
		"fixed_fee":         c.FixedFee,
		"commission_pct":    c.CommissionPct,
		"slippage_pct":      c.SlippagePct,
		"market_impact_pct": c.MarketImpactPct,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return apperrors.InvalidInput("transaction cost %s must be a non-negative number, got %g", name, v)
		}
	}
	return nil
}

// Cost returns the charge for filling quantity at price. Market impact scales
// with the share of the bar's volume taken; unknown volume counts as full
// participation. The result is never negative.
func (c CostModel) Cost(price, quantity, barVolume float64) float64 {
	if price <= 0 || quantity <= 0 {
		return 0
	}

	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity))
	total := nonNegative(c.FixedFee)
	total = total.Add(notional.Mul(nonNegative(c.CommissionPct)).Div(hundred))
	total = total.Add(notional.Mul(nonNegative(c.SlippagePct)).Div(hundred))

	participation := decimal.NewFromInt(1)
	if barVolume > 0 && quantity < barVolume {
		participation = decimal.NewFromFloat(quantity).Div(decimal.NewFromFloat(barVolume))
	}
	total = total.Add(notional.Mul(nonNegative(c.MarketImpactPct)).Div(hundred).Mul(participation))

	f, _ := total.Float64()
	return math.Max(f, 0)
}

// rate is the proportional cost per unit notional at full participation
func (c CostModel) rate() float64 {
	return (math.Max(c.CommissionPct, 0) + math.Max(c.SlippagePct, 0) + math.Max(c.MarketImpactPct, 0)) / 100
}

func nonNegative(v float64) decimal.Decimal {
	if math.IsNaN(v) || v <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}
