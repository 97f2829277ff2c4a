package indicator

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// TrueRange returns the true range; bar 0 uses high-low.
func TrueRange(high, low, closes []float64) []float64 {
	n := len(closes)
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		hl := high[i] - low[i]
		if i == 0 {
			tr[i] = hl
			continue
		}
		tr[i] = math.Max(hl, math.Max(math.Abs(high[i]-closes[i-1]), math.Abs(low[i]-closes[i-1])))
	}
	return tr
}

// ATR is the Wilder-smoothed average true range.
func ATR(high, low, closes []float64, p int) []float64 {
	return RMA(TrueRange(high, low, closes), p)
}

// ADX returns the average directional index and the +DI/-DI lines.
func ADX(high, low, closes []float64, p int) (adx, plusDI, minusDI []float64) {
	n := len(closes)
	tr := TrueRange(high, low, closes)
	plusDM := nanSlice(n)
	minusDM := nanSlice(n)
	if n > 0 {
		tr[0] = math.NaN()
	}
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		plusDM[i], minusDM[i] = 0, 0
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	smTR := RMA(tr, p)
	smPlus := RMA(plusDM, p)
	smMinus := RMA(minusDM, p)

	plusDI = nanSlice(n)
	minusDI = nanSlice(n)
	dx := nanSlice(n)
	for i := 0; i < n; i++ {
		if math.IsNaN(smTR[i]) {
			continue
		}
		if smTR[i] == 0 {
			plusDI[i], minusDI[i], dx[i] = 0, 0, 0
			continue
		}
		plusDI[i] = 100 * smPlus[i] / smTR[i]
		minusDI[i] = 100 * smMinus[i] / smTR[i]
		sum := plusDI[i] + minusDI[i]
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / sum
	}
	adx = RMA(dx, p)
	return adx, plusDI, minusDI
}

// Supertrend returns the trailing stop line and the trend direction (+1/-1).
func Supertrend(high, low, closes []float64, p int, mult float64) (line, dir []float64) {
	n := len(closes)
	line = nanSlice(n)
	dir = nanSlice(n)
	atr := ATR(high, low, closes, p)
	start := firstValid(atr)
	if start >= n {
		return line, dir
	}

	var upper, lower float64
	for i := start; i < n; i++ {
		hl2 := (high[i] + low[i]) / 2
		basicUpper := hl2 + mult*atr[i]
		basicLower := hl2 - mult*atr[i]

		if i == start {
			upper, lower = basicUpper, basicLower
			dir[i] = 1
			line[i] = lower
			continue
		}

		prevUpper, prevLower := upper, lower
		if basicUpper < prevUpper || closes[i-1] > prevUpper {
			upper = basicUpper
		}
		if basicLower > prevLower || closes[i-1] < prevLower {
			lower = basicLower
		}

		switch {
		case closes[i] > prevUpper:
			dir[i] = 1
		case closes[i] < prevLower:
			dir[i] = -1
		default:
			dir[i] = dir[i-1]
		}
		if dir[i] > 0 {
			line[i] = lower
		} else {
			line[i] = upper
		}
	}
	return line, dir
}

// ParabolicSAR is Wilder's stop-and-reverse with acceleration step and cap.
func ParabolicSAR(high, low, closes []float64, step, maxStep float64) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < 2 {
		return out
	}

	up := closes[1] >= closes[0]
	af := step
	var sar, ep float64
	if up {
		sar, ep = low[0], high[1]
	} else {
		sar, ep = high[0], low[1]
	}
	out[1] = sar

	for i := 2; i < n; i++ {
		sar += af * (ep - sar)
		if up {
			sar = math.Min(sar, math.Min(low[i-1], low[i-2]))
			if low[i] < sar {
				up, sar, ep, af = false, ep, low[i], step
			} else if high[i] > ep {
				ep = high[i]
				af = math.Min(af+step, maxStep)
			}
		} else {
			sar = math.Max(sar, math.Max(high[i-1], high[i-2]))
			if high[i] > sar {
				up, sar, ep, af = true, ep, high[i], step
			} else if low[i] < ep {
				ep = low[i]
				af = math.Min(af+step, maxStep)
			}
		}
		out[i] = sar
	}
	return out
}

// IchimokuLines holds the cloud components
type IchimokuLines struct {
	Tenkan []float64
	Kijun  []float64
	SpanA  []float64
	SpanB  []float64
}

// Ichimoku computes conversion/base lines and the leading spans projected
// forward by displacement bars.
func Ichimoku(high, low []float64, tenkan, kijun, senkouB, displacement int) IchimokuLines {
	n := len(high)
	t := midpoint(high, low, tenkan)
	k := midpoint(high, low, kijun)

	spanA := make([]float64, n)
	floats.AddTo(spanA, t, k)
	floats.Scale(0.5, spanA)

	return IchimokuLines{
		Tenkan: t,
		Kijun:  k,
		SpanA:  shift(spanA, displacement),
		SpanB:  shift(midpoint(high, low, senkouB), displacement),
	}
}
