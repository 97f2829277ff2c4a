package indicator

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	apperrors "qcat-backtest/internal/errors"
)

// RSI is Wilder's relative strength index.
func RSI(closes []float64, p int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if p <= 0 || n <= p {
		return out
	}

	gains := nanSlice(n)
	losses := nanSlice(n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		gains[i] = math.Max(d, 0)
		losses[i] = math.Max(-d, 0)
	}
	avgGain := RMA(gains, p)
	avgLoss := RMA(losses, p)

	for i := p; i < n; i++ {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case l == 0 && g == 0:
			out[i] = 50
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	n := len(closes)
	line = make([]float64, n)
	floats.SubTo(line, EMA(closes, fast), EMA(closes, slow))
	sig = EMA(line, signal)
	hist = make([]float64, n)
	floats.SubTo(hist, line, sig)
	return line, sig, hist
}

// Bollinger returns bands at k population standard deviations around the SMA.
func Bollinger(closes []float64, p int, k float64) (upper, middle, lower []float64) {
	n := len(closes)
	middle, std := MeanStd(closes, p)
	upper = make([]float64, n)
	lower = make([]float64, n)
	floats.AddScaledTo(upper, middle, k, std)
	floats.AddScaledTo(lower, middle, -k, std)
	return upper, middle, lower
}

// Stochastic returns %K (optionally SMA-smoothed) and %D = SMA(%K, dp).
// A zero high-low range yields the neutral value 50.
func Stochastic(high, low, closes []float64, kp, smoothing, dp int) (k, d []float64) {
	n := len(closes)
	hh := RollingMax(high, kp)
	ll := RollingMin(low, kp)

	raw := nanSlice(n)
	for i := kp - 1; i < n; i++ {
		rng := hh[i] - ll[i]
		if rng == 0 {
			raw[i] = 50
			continue
		}
		raw[i] = 100 * (closes[i] - ll[i]) / rng
	}

	k = raw
	if smoothing > 1 {
		k = SMA(raw, smoothing)
	}
	d = SMA(k, dp)
	return k, d
}

// CCI is the commodity channel index over the typical price. A window
// whose mean deviation is zero yields no value.
func CCI(high, low, closes []float64, p int, constant float64) ([]float64, error) {
	if p < 2 || constant == 0 {
		return nil, apperrors.ErrDivisionByZero
	}

	n := len(closes)
	out := nanSlice(n)
	tp := typicalPrice(high, low, closes)
	ma := SMA(tp, p)
	dev := make([]float64, p)

	for i := p - 1; i < n; i++ {
		window := tp[i-p+1 : i+1]
		for j, v := range window {
			dev[j] = math.Abs(v - ma[i])
		}
		md := stat.Mean(dev, nil)
		if md == 0 {
			continue
		}
		out[i] = (tp[i] - ma[i]) / (constant * md)
	}
	return out, nil
}
