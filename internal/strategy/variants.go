package strategy

import (
	"math"

	"qcat-backtest/internal/indicator"
)

func intParam(name string, min, max, def float64) ParamSpec {
	return ParamSpec{Name: name, Min: min, Max: max, Step: 1, Default: def, Integer: true}
}

func floatParam(name string, min, max, step, def float64) ParamSpec {
	return ParamSpec{Name: name, Min: min, Max: max, Step: step, Default: def}
}

// variants is the closed registry of strategy kinds
var variants = map[Kind]variant{
	KindMACross: {
		params: []ParamSpec{
			intParam("fast", 2, 100, 10),
			intParam("slow", 3, 400, 30),
		},
		constraint: less("fast", "slow"),
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{
				{Kind: indicator.KindSMA, Alias: "fast", Params: map[string]float64{"period": p["fast"]}},
				{Kind: indicator.KindSMA, Alias: "slow", Params: map[string]float64{"period": p["slow"]}},
			}
		},
		lines: []string{"fast", "slow"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			fast, slow := v[0], v[1]
			return func(i int) triggers {
				up, down := crossAbove(fast, slow, i), crossBelow(fast, slow, i)
				return triggers{long: up, short: down, exitLong: down, exitShort: up}
			}
		},
	},

	KindRSIThreshold: {
		params: []ParamSpec{
			intParam("period", 2, 100, 14),
			floatParam("oversold", 0, 100, 5, 30),
			floatParam("overbought", 0, 100, 5, 70),
		},
		constraint: less("oversold", "overbought"),
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindRSI, Alias: "rsi", Params: map[string]float64{"period": p["period"]}}}
		},
		lines: []string{"rsi"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			return oscillatorRule(v[0], p["oversold"], p["overbought"])
		},
	},

	KindMACDCross: {
		params: []ParamSpec{
			intParam("fast", 2, 50, 12),
			intParam("slow", 3, 100, 26),
			intParam("signal", 2, 50, 9),
		},
		constraint: less("fast", "slow"),
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindMACD, Alias: "macd", Params: map[string]float64{
				"fast": p["fast"], "slow": p["slow"], "signal": p["signal"],
			}}}
		},
		lines: []string{"macd.macd", "macd.signal"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			line, sig := v[0], v[1]
			return func(i int) triggers {
				up, down := crossAbove(line, sig, i), crossBelow(line, sig, i)
				return triggers{long: up, short: down, exitLong: down, exitShort: up}
			}
		},
	},

	KindBollingerBreakout: {
		params: []ParamSpec{
			intParam("period", 5, 100, 20),
			floatParam("stddev", 0.5, 4, 0.5, 2),
		},
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindBollinger, Alias: "bb", Params: map[string]float64{
				"period": p["period"], "stddev": p["stddev"],
			}}}
		},
		lines: []string{indicator.ColClose, "bb.upper", "bb.middle", "bb.lower"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			closes, upper, middle, lower := v[0], v[1], v[2], v[3]
			return func(i int) triggers {
				return triggers{
					long:      crossAbove(closes, upper, i),
					short:     crossBelow(closes, lower, i),
					exitLong:  crossBelow(closes, middle, i),
					exitShort: crossAbove(closes, middle, i),
				}
			}
		},
	},

	KindStochastic: {
		params: []ParamSpec{
			intParam("k_period", 2, 100, 14),
			intParam("d_period", 1, 50, 3),
			floatParam("oversold", 0, 100, 5, 20),
			floatParam("overbought", 0, 100, 5, 80),
		},
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindStochastic, Alias: "stoch", Params: map[string]float64{
				"k_period": p["k_period"], "d_period": p["d_period"],
			}}}
		},
		lines: []string{"stoch.d"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			return oscillatorRule(v[0], p["oversold"], p["overbought"])
		},
	},

	KindChannelIndex: {
		params: []ParamSpec{
			intParam("period", 1, 200, 20),
			floatParam("threshold", -300, 300, 25, 100),
		},
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindCCI, Alias: "cci", Params: map[string]float64{"period": p["period"]}}}
		},
		lines: []string{"cci"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			cci := v[0]
			t := math.Abs(p["threshold"])
			return func(i int) triggers {
				return triggers{
					long:      crossAboveLevel(cci, t, i),
					short:     crossBelowLevel(cci, -t, i),
					exitLong:  crossBelowLevel(cci, 0, i),
					exitShort: crossAboveLevel(cci, 0, i),
				}
			}
		},
	},

	KindDirectionalTrend: {
		params: []ParamSpec{
			intParam("period", 2, 100, 14),
			floatParam("adx_threshold", 0, 100, 5, 25),
		},
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindADX, Alias: "adx", Params: map[string]float64{"period": p["period"]}}}
		},
		lines: []string{"adx.adx", "adx.plus_di", "adx.minus_di"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			adx, plus, minus := v[0], v[1], v[2]
			threshold := p["adx_threshold"]
			return func(i int) triggers {
				up, down := crossAbove(plus, minus, i), crossBelow(plus, minus, i)
				trending := adx[i] > threshold
				return triggers{
					long:      up && trending,
					short:     down && trending,
					exitLong:  down,
					exitShort: up,
				}
			}
		},
	},

	KindVolatilityStop: {
		params: []ParamSpec{
			intParam("period", 2, 100, 10),
			floatParam("multiplier", 0.5, 10, 0.5, 3),
		},
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindSupertrend, Alias: "st", Params: map[string]float64{
				"period": p["period"], "multiplier": p["multiplier"],
			}}}
		},
		lines: []string{"st.direction"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			dir := v[0]
			return func(i int) triggers {
				up, down := crossAboveLevel(dir, 0, i), crossBelowLevel(dir, 0, i)
				return triggers{long: up, short: down, exitLong: down, exitShort: up}
			}
		},
	},

	KindVolumeConfirmation: {
		params: []ParamSpec{
			intParam("period", 2, 200, 20),
			intParam("volume_period", 2, 200, 20),
			floatParam("multiplier", 0.5, 5, 0.25, 1.5),
		},
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{
				{Kind: indicator.KindSMA, Alias: "price_ma", Params: map[string]float64{"period": p["period"]}},
				{Kind: indicator.KindSMA, Alias: "volume_ma", Source: indicator.ColVolume, Params: map[string]float64{"period": p["volume_period"]}},
			}
		},
		lines: []string{indicator.ColClose, "price_ma", indicator.ColVolume, "volume_ma"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			closes, ma, volume, volumeMA := v[0], v[1], v[2], v[3]
			mult := p["multiplier"]
			return func(i int) triggers {
				up, down := crossAbove(closes, ma, i), crossBelow(closes, ma, i)
				confirmed := volume[i] > mult*volumeMA[i]
				return triggers{
					long:      up && confirmed,
					short:     down && confirmed,
					exitLong:  down,
					exitShort: up,
				}
			}
		},
	},

	KindCloudTrend: {
		params: []ParamSpec{
			intParam("tenkan", 2, 50, 9),
			intParam("kijun", 3, 100, 26),
			intParam("senkou_b", 4, 200, 52),
		},
		constraint: func(p map[string]float64) error {
			if err := less("tenkan", "kijun")(p); err != nil {
				return err
			}
			return less("kijun", "senkou_b")(p)
		},
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindIchimoku, Alias: "cloud", Params: map[string]float64{
				"tenkan": p["tenkan"], "kijun": p["kijun"], "senkou_b": p["senkou_b"], "displacement": p["kijun"],
			}}}
		},
		lines: []string{indicator.ColClose, "cloud.kijun", "cloud.span_a", "cloud.span_b"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			closes, kijun, spanA, spanB := v[0], v[1], v[2], v[3]
			return func(i int) triggers {
				prevTop, top := cloudTop(spanA[i-1], spanB[i-1]), cloudTop(spanA[i], spanB[i])
				prevBottom, bottom := cloudBottom(spanA[i-1], spanB[i-1]), cloudBottom(spanA[i], spanB[i])
				return triggers{
					long:      closes[i-1] < prevTop && closes[i] > top,
					short:     closes[i-1] > prevBottom && closes[i] < bottom,
					exitLong:  crossBelow(closes, kijun, i),
					exitShort: crossAbove(closes, kijun, i),
				}
			}
		},
	},

	KindParabolicReversal: {
		params: []ParamSpec{
			floatParam("step", 0.01, 0.1, 0.01, 0.02),
			floatParam("max_step", 0.1, 0.5, 0.05, 0.2),
		},
		constraint: lessOrEqual("step", "max_step"),
		requests: func(p map[string]float64) []indicator.Request {
			return []indicator.Request{{Kind: indicator.KindPSAR, Alias: "sar", Params: map[string]float64{
				"step": p["step"], "max_step": p["max_step"],
			}}}
		},
		lines: []string{indicator.ColClose, "sar"},
		rule: func(p map[string]float64, v [][]float64) func(int) triggers {
			closes, sar := v[0], v[1]
			return func(i int) triggers {
				up, down := crossAbove(closes, sar, i), crossBelow(closes, sar, i)
				return triggers{long: up, short: down, exitLong: down, exitShort: up}
			}
		},
	},
}

// oscillatorRule enters long on an up-cross of oversold and short on a
// down-cross of overbought; each side exits on the opposite threshold.
func oscillatorRule(x []float64, oversold, overbought float64) func(int) triggers {
	return func(i int) triggers {
		upOversold := crossAboveLevel(x, oversold, i)
		downOverbought := crossBelowLevel(x, overbought, i)
		return triggers{
			long:      upOversold,
			short:     downOverbought,
			exitLong:  downOverbought,
			exitShort: upOversold,
		}
	}
}
