// Package indicator computes technical indicator series over a price series.
// Every output is aligned index-for-index with the input bars; positions
// inside an indicator's warm-up window hold NaN.
package indicator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/market/kline"
)

// Kind identifies an indicator
type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindRSI        Kind = "rsi"
	KindMACD       Kind = "macd"
	KindBollinger  Kind = "bollinger"
	KindStochastic Kind = "stochastic"
	KindCCI        Kind = "cci"
	KindATR        Kind = "atr"
	KindADX        Kind = "adx"
	KindSupertrend Kind = "supertrend"
	KindIchimoku   Kind = "ichimoku"
	KindPSAR       Kind = "psar"
)

// Base columns always present in a Set
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// Request asks for one indicator. Multi-output kinds publish
// "<alias>.<output>" keys; single-output kinds publish "<alias>".
type Request struct {
	Kind   Kind               `json:"kind"`
	Alias  string             `json:"alias"`
	Source string             `json:"source,omitempty"` // sma/ema input column, default close
	Params map[string]float64 `json:"params,omitempty"`
}

// Set maps series names to values aligned with the bars
type Set map[string][]float64

// Get returns a named series
func (s Set) Get(name string) ([]float64, bool) {
	v, ok := s[name]
	return v, ok
}

// At returns the value of a series at bar i, NaN when absent or out of range
func (s Set) At(name string, i int) float64 {
	v, ok := s[name]
	if !ok || i < 0 || i >= len(v) {
		return math.NaN()
	}
	return v[i]
}

// Names returns the sorted series names
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Valid reports whether v carries a value
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Key joins an alias and an output name
func Key(alias, output string) string {
	return alias + "." + output
}

// Compute evaluates every request over the series
func Compute(series *kline.Series, reqs []Request) (Set, error) {
	return NewMemo(series).Compute(reqs)
}

// Memo computes indicators for one series and reuses outputs across calls
// with identical kind, source and params. Returned slices are shared and
// must be treated as read-only. A Memo is not safe for concurrent use.
type Memo struct {
	base  Set
	cache map[string]map[string][]float64
}

// NewMemo creates a memo over the series' base columns
func NewMemo(series *kline.Series) *Memo {
	return &Memo{
		base: Set{
			ColOpen:   series.Opens(),
			ColHigh:   series.Highs(),
			ColLow:    series.Lows(),
			ColClose:  series.Closes(),
			ColVolume: series.Volumes(),
		},
		cache: make(map[string]map[string][]float64),
	}
}

// Compute evaluates reqs, returning the base columns plus every output
func (m *Memo) Compute(reqs []Request) (Set, error) {
	set := make(Set, len(m.base)+len(reqs)*2)
	for k, v := range m.base {
		set[k] = v
	}

	seen := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		alias := req.Alias
		if alias == "" {
			alias = string(req.Kind)
		}
		if seen[alias] || m.base[alias] != nil {
			return nil, apperrors.InvalidParameter("duplicate indicator alias %q", alias)
		}
		seen[alias] = true

		sig := signature(req)
		outputs, ok := m.cache[sig]
		if !ok {
			var err error
			outputs, err = computeOne(m.base, req)
			if err != nil {
				return nil, err
			}
			m.cache[sig] = outputs
		}
		for name, values := range outputs {
			key := alias
			if name != "" {
				key = Key(alias, name)
			}
			set[key] = values
		}
	}
	return set, nil
}

// Len returns the number of cached computations
func (m *Memo) Len() int {
	return len(m.cache)
}

func signature(req Request) string {
	names := make([]string, 0, len(req.Params))
	for k := range req.Params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(string(req.Kind))
	b.WriteByte('|')
	b.WriteString(req.Source)
	for _, k := range names {
		fmt.Fprintf(&b, "|%s=%g", k, req.Params[k])
	}
	return b.String()
}

func computeOne(set Set, req Request) (map[string][]float64, error) {
	p := params(req.Params)
	high, low, closes := set[ColHigh], set[ColLow], set[ColClose]

	switch req.Kind {
	case KindSMA, KindEMA:
		src, err := source(set, req.Source)
		if err != nil {
			return nil, err
		}
		period, err := p.period("period", 20)
		if err != nil {
			return nil, err
		}
		if req.Kind == KindSMA {
			return single(SMA(src, period)), nil
		}
		return single(EMA(src, period)), nil

	case KindRSI:
		period, err := p.period("period", 14)
		if err != nil {
			return nil, err
		}
		return single(RSI(closes, period)), nil

	case KindMACD:
		fast, err := p.period("fast", 12)
		if err != nil {
			return nil, err
		}
		slow, err := p.period("slow", 26)
		if err != nil {
			return nil, err
		}
		signal, err := p.period("signal", 9)
		if err != nil {
			return nil, err
		}
		line, sig, hist := MACD(closes, fast, slow, signal)
		return map[string][]float64{"macd": line, "signal": sig, "hist": hist}, nil

	case KindBollinger:
		period, err := p.period("period", 20)
		if err != nil {
			return nil, err
		}
		k, err := p.positive("stddev", 2)
		if err != nil {
			return nil, err
		}
		upper, middle, lower := Bollinger(closes, period, k)
		return map[string][]float64{"upper": upper, "middle": middle, "lower": lower}, nil

	case KindStochastic:
		kp, err := p.period("k_period", 14)
		if err != nil {
			return nil, err
		}
		dp, err := p.period("d_period", 3)
		if err != nil {
			return nil, err
		}
		smooth, err := p.period("smooth", 1)
		if err != nil {
			return nil, err
		}
		k, d := Stochastic(high, low, closes, kp, smooth, dp)
		return map[string][]float64{"k": k, "d": d}, nil

	case KindCCI:
		period, err := p.period("period", 20)
		if err != nil {
			return nil, err
		}
		values, err := CCI(high, low, closes, period, p.get("constant", 0.015))
		if err != nil {
			return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeIndicatorFailed,
				"cci computation failed", fmt.Sprintf("period=%d constant=%g", period, p.get("constant", 0.015)), err)
		}
		return single(values), nil

	case KindATR:
		period, err := p.period("period", 14)
		if err != nil {
			return nil, err
		}
		return single(ATR(high, low, closes, period)), nil

	case KindADX:
		period, err := p.period("period", 14)
		if err != nil {
			return nil, err
		}
		adx, plus, minus := ADX(high, low, closes, period)
		return map[string][]float64{"adx": adx, "plus_di": plus, "minus_di": minus}, nil

	case KindSupertrend:
		period, err := p.period("period", 10)
		if err != nil {
			return nil, err
		}
		mult, err := p.positive("multiplier", 3)
		if err != nil {
			return nil, err
		}
		line, dir := Supertrend(high, low, closes, period, mult)
		return map[string][]float64{"line": line, "direction": dir}, nil

	case KindIchimoku:
		tenkan, err := p.period("tenkan", 9)
		if err != nil {
			return nil, err
		}
		kijun, err := p.period("kijun", 26)
		if err != nil {
			return nil, err
		}
		senkouB, err := p.period("senkou_b", 52)
		if err != nil {
			return nil, err
		}
		disp, err := p.nonNegativeInt("displacement", float64(kijun))
		if err != nil {
			return nil, err
		}
		ic := Ichimoku(high, low, tenkan, kijun, senkouB, disp)
		return map[string][]float64{"tenkan": ic.Tenkan, "kijun": ic.Kijun, "span_a": ic.SpanA, "span_b": ic.SpanB}, nil

	case KindPSAR:
		step, err := p.positive("step", 0.02)
		if err != nil {
			return nil, err
		}
		maxStep, err := p.positive("max_step", 0.2)
		if err != nil {
			return nil, err
		}
		if step > maxStep {
			return nil, apperrors.InvalidParameter("psar step %g exceeds max_step %g", step, maxStep)
		}
		return single(ParabolicSAR(high, low, closes, step, maxStep)), nil
	}

	return nil, apperrors.InvalidParameter("unknown indicator kind %q", req.Kind)
}

func single(v []float64) map[string][]float64 {
	return map[string][]float64{"": v}
}

func source(set Set, name string) ([]float64, error) {
	switch name {
	case "", ColClose:
		return set[ColClose], nil
	case ColOpen, ColHigh, ColLow, ColVolume:
		return set[name], nil
	case "hl2":
		out := make([]float64, len(set[ColClose]))
		for i := range out {
			out[i] = (set[ColHigh][i] + set[ColLow][i]) / 2
		}
		return out, nil
	case "hlc3":
		return typicalPrice(set[ColHigh], set[ColLow], set[ColClose]), nil
	}
	return nil, apperrors.InvalidParameter("unknown indicator source %q", name)
}

type params map[string]float64

func (p params) get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

func (p params) period(name string, def float64) (int, error) {
	v := p.get(name, def)
	if !Valid(v) || v < 1 || v != math.Trunc(v) {
		return 0, apperrors.InvalidParameter("indicator parameter %s must be a positive integer, got %g", name, v)
	}
	return int(v), nil
}

func (p params) nonNegativeInt(name string, def float64) (int, error) {
	v := p.get(name, def)
	if !Valid(v) || v < 0 || v != math.Trunc(v) {
		return 0, apperrors.InvalidParameter("indicator parameter %s must be a non-negative integer, got %g", name, v)
	}
	return int(v), nil
}

func (p params) positive(name string, def float64) (float64, error) {
	v := p.get(name, def)
	if !Valid(v) || v <= 0 {
		return 0, apperrors.InvalidParameter("indicator parameter %s must be positive, got %g", name, v)
	}
	return v, nil
}
