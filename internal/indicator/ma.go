package indicator

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// nanSlice returns n NaN values
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// firstValid returns the index of the first non-NaN value, len(x) if none.
// Derived series only carry NaN as a warm-up prefix.
func firstValid(x []float64) int {
	for i, v := range x {
		if !math.IsNaN(v) {
			return i
		}
	}
	return len(x)
}

// SMA is the simple moving average over p points, computed from cumulative sums.
func SMA(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	off := firstValid(x)
	if p <= 0 || len(x)-off < p {
		return out
	}

	valid := x[off:]
	cs := floats.CumSum(make([]float64, len(valid)), valid)
	fp := float64(p)
	out[off+p-1] = cs[p-1] / fp
	for i := p; i < len(valid); i++ {
		out[off+i] = (cs[i] - cs[i-p]) / fp
	}
	return out
}

// EMA uses smoothing 2/(p+1), seeded with the SMA of the first p values.
func EMA(x []float64, p int) []float64 {
	return smooth(x, p, 2/float64(p+1))
}

// RMA is Wilder's moving average (smoothing 1/p), seeded with an SMA.
func RMA(x []float64, p int) []float64 {
	return smooth(x, p, 1/float64(p))
}

func smooth(x []float64, p int, alpha float64) []float64 {
	out := nanSlice(len(x))
	off := firstValid(x)
	if p <= 0 || len(x)-off < p {
		return out
	}

	seed := floats.Sum(x[off:off+p]) / float64(p)
	out[off+p-1] = seed
	for i := off + p; i < len(x); i++ {
		out[i] = alpha*x[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MeanStd returns the rolling mean and population standard deviation.
func MeanStd(x []float64, p int) (mean, std []float64) {
	n := len(x)
	mean = nanSlice(n)
	std = nanSlice(n)
	off := firstValid(x)
	if p <= 0 || n-off < p {
		return mean, std
	}

	var sum, sum2 float64
	fp := float64(p)
	for i := off; i < n; i++ {
		sum += x[i]
		sum2 += x[i] * x[i]
		if i-off >= p {
			sum -= x[i-p]
			sum2 -= x[i-p] * x[i-p]
		}
		if i-off < p-1 {
			continue
		}
		m := sum / fp
		v := sum2/fp - m*m
		if v < 0 {
			v = 0
		}
		mean[i] = m
		std[i] = math.Sqrt(v)
	}
	return mean, std
}

// RollingMax returns the maximum over the trailing p points.
func RollingMax(x []float64, p int) []float64 {
	return rollingExtreme(x, p, func(a, b float64) bool { return a >= b })
}

// RollingMin returns the minimum over the trailing p points.
func RollingMin(x []float64, p int) []float64 {
	return rollingExtreme(x, p, func(a, b float64) bool { return a <= b })
}

// rollingExtreme keeps a monotonic deque of indices
func rollingExtreme(x []float64, p int, dominates func(a, b float64) bool) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	deque := make([]int, 0, p)
	for i, v := range x {
		for len(deque) > 0 && dominates(v, x[deque[len(deque)-1]]) {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, i)
		if deque[0] <= i-p {
			deque = deque[1:]
		}
		if i >= p-1 {
			out[i] = x[deque[0]]
		}
	}
	return out
}

// midpoint returns (max+min)/2 over the trailing p bars of high/low
func midpoint(high, low []float64, p int) []float64 {
	hh := RollingMax(high, p)
	ll := RollingMin(low, p)
	out := make([]float64, len(high))
	floats.AddTo(out, hh, ll)
	floats.Scale(0.5, out)
	return out
}

func typicalPrice(high, low, closes []float64) []float64 {
	out := make([]float64, len(closes))
	floats.AddTo(out, high, low)
	floats.Add(out, closes)
	floats.Scale(1.0/3, out)
	return out
}

// shift moves values forward by k bars, filling the head with NaN
func shift(x []float64, k int) []float64 {
	out := nanSlice(len(x))
	if k < len(x) {
		copy(out[k:], x[:len(x)-k])
	}
	return out
}
