package kline

import (
	"fmt"
	"hash/fnv"
	"math"

	apperrors "qcat-backtest/internal/errors"
)

// Series is an immutable, time-ordered run of bars for one symbol
type Series struct {
	Symbol   string   `json:"symbol"`
	Interval Interval `json:"interval,omitempty"`
	Klines   []Kline  `json:"klines"`
}

// NewSeries creates a series over the given bars
func NewSeries(symbol string, interval Interval, klines []Kline) *Series {
	return &Series{Symbol: symbol, Interval: interval, Klines: klines}
}

// Len returns the number of bars
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Klines)
}

// Validate checks ordering and OHLC consistency of every bar
func (s *Series) Validate(minBars int) error {
	if s == nil || len(s.Klines) == 0 {
		return apperrors.InvalidInput("price series is empty")
	}
	if len(s.Klines) < minBars {
		return apperrors.InvalidInput("price series %s has %d bars, at least %d required", s.Symbol, len(s.Klines), minBars)
	}

	for i, k := range s.Klines {
		for _, v := range []float64{k.Open, k.High, k.Low, k.Close, k.Volume} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return apperrors.InvalidInput("bar %d of %s has a non-finite or negative value", i, s.Symbol)
			}
		}
		if k.High < math.Max(k.Open, k.Close) {
			return apperrors.InvalidInput("bar %d of %s: high %.8g below max(open, close)", i, s.Symbol, k.High)
		}
		if k.Low > math.Min(k.Open, k.Close) {
			return apperrors.InvalidInput("bar %d of %s: low %.8g above min(open, close)", i, s.Symbol, k.Low)
		}
		if i > 0 && !k.OpenTime.After(s.Klines[i-1].OpenTime) {
			return apperrors.InvalidInput("bar %d of %s: timestamps must be strictly increasing", i, s.Symbol)
		}
	}
	return nil
}

// Slice returns the bars in [start, end) sharing the underlying storage
func (s *Series) Slice(start, end int) *Series {
	if start < 0 {
		start = 0
	}
	if end > len(s.Klines) {
		end = len(s.Klines)
	}
	if start > end {
		start = end
	}
	return &Series{Symbol: s.Symbol, Interval: s.Interval, Klines: s.Klines[start:end:end]}
}

func (s *Series) column(pick func(Kline) float64) []float64 {
	out := make([]float64, len(s.Klines))
	for i, k := range s.Klines {
		out[i] = pick(k)
	}
	return out
}

// Opens returns the open prices
func (s *Series) Opens() []float64 { return s.column(func(k Kline) float64 { return k.Open }) }

// Highs returns the high prices
func (s *Series) Highs() []float64 { return s.column(func(k Kline) float64 { return k.High }) }

// Lows returns the low prices
func (s *Series) Lows() []float64 { return s.column(func(k Kline) float64 { return k.Low }) }

// Closes returns the close prices
func (s *Series) Closes() []float64 { return s.column(func(k Kline) float64 { return k.Close }) }

// Volumes returns the traded volumes
func (s *Series) Volumes() []float64 { return s.column(func(k Kline) float64 { return k.Volume }) }

// Fingerprint returns a stable content hash used as a cache key
func (s *Series) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", s.Symbol, s.Interval, len(s.Klines))
	for _, k := range s.Klines {
		fmt.Fprintf(h, "|%d:%g:%g:%g:%g:%g", k.OpenTime.UnixNano(), k.Open, k.High, k.Low, k.Close, k.Volume)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Align restricts every series to the timestamps they all share
func Align(series ...*Series) ([]*Series, error) {
	if len(series) == 0 {
		return nil, apperrors.InvalidInput("no series to align")
	}

	counts := make(map[int64]int)
	for _, s := range series {
		if s.Len() == 0 {
			return nil, apperrors.InvalidInput("series %q is empty", s.Symbol)
		}
		for _, k := range s.Klines {
			counts[k.OpenTime.UnixNano()]++
		}
	}

	out := make([]*Series, len(series))
	for i, s := range series {
		kept := make([]Kline, 0, len(s.Klines))
		for _, k := range s.Klines {
			if counts[k.OpenTime.UnixNano()] == len(series) {
				kept = append(kept, k)
			}
		}
		out[i] = &Series{Symbol: s.Symbol, Interval: s.Interval, Klines: kept}
	}
	if len(out[0].Klines) == 0 {
		return nil, apperrors.InvalidInput("series share no common timestamps")
	}
	return out, nil
}
