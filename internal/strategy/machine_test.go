package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/indicator"
	"qcat-backtest/internal/testutils"
)

func bindMACross(t *testing.T, allowShort bool, fast, slow []float64) *Evaluator {
	t.Helper()
	m, err := New(KindMACross, map[string]float64{"fast": 5, "slow": 20}, allowShort)
	require.NoError(t, err)
	e, err := m.Bind(indicator.Set{"fast": fast, "slow": slow})
	require.NoError(t, err)
	return e
}

func TestCrossIsStrict(t *testing.T) {
	e := bindMACross(t, true,
		[]float64{1, 2, 3, 1, 3},
		[]float64{2, 2, 2, 2, 2},
	)

	// 1→2 touches the slow line, 2→3 starts from equality: neither is a cross
	assert.Equal(t, SignalHold, e.Evaluate(StateFlat, 1))
	assert.Equal(t, SignalHold, e.Evaluate(StateFlat, 2))
	assert.Equal(t, SignalEnterShort, e.Evaluate(StateFlat, 3))
	assert.Equal(t, SignalEnterLong, e.Evaluate(StateFlat, 4))
}

func TestStateDependentSignals(t *testing.T) {
	e := bindMACross(t, true,
		[]float64{1, 3, 1},
		[]float64{2, 2, 2},
	)

	assert.Equal(t, SignalHold, e.Evaluate(StateFlat, 0))
	assert.Equal(t, SignalEnterLong, e.Evaluate(StateFlat, 1))
	assert.Equal(t, SignalHold, e.Evaluate(StateLong, 1))
	assert.Equal(t, SignalExit, e.Evaluate(StateShort, 1))
	assert.Equal(t, SignalExit, e.Evaluate(StateLong, 2))
	assert.Equal(t, SignalHold, e.Evaluate(StateShort, 2))
}

func TestShortsDisabled(t *testing.T) {
	e := bindMACross(t, false, []float64{3, 1}, []float64{2, 2})
	assert.Equal(t, SignalHold, e.Evaluate(StateFlat, 1))
}

func TestMissingValueHolds(t *testing.T) {
	nan := math.NaN()
	e := bindMACross(t, true,
		[]float64{nan, 3, 1, 3},
		[]float64{nan, nan, 2, 2},
	)
	assert.Equal(t, SignalHold, e.Evaluate(StateFlat, 1))
	assert.Equal(t, SignalHold, e.Evaluate(StateFlat, 2))
	assert.Equal(t, SignalEnterLong, e.Evaluate(StateFlat, 3))
	assert.Equal(t, SignalHold, e.Evaluate(StateFlat, 10))
}

func TestBindMissingSeries(t *testing.T) {
	m, err := New(KindMACross, nil, true)
	require.NoError(t, err)
	_, err = m.Bind(indicator.Set{"fast": {1}})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeIndicatorFailed))
}

func TestChannelIndexUsesAbsoluteThreshold(t *testing.T) {
	m, err := New(KindChannelIndex, map[string]float64{"period": 20, "threshold": -100}, true)
	require.NoError(t, err)
	e, err := m.Bind(indicator.Set{"cci": {90, 110, -50, -120, 10}})
	require.NoError(t, err)

	assert.Equal(t, SignalEnterLong, e.Evaluate(StateFlat, 1))
	assert.Equal(t, SignalExit, e.Evaluate(StateLong, 2))
	assert.Equal(t, SignalEnterShort, e.Evaluate(StateFlat, 3))
	assert.Equal(t, SignalExit, e.Evaluate(StateShort, 4))
}

func TestStochasticThresholdsOnD(t *testing.T) {
	m, err := New(KindStochastic, map[string]float64{"k_period": 14, "d_period": 3, "oversold": 25, "overbought": 75}, true)
	require.NoError(t, err)
	e, err := m.Bind(indicator.Set{"stoch.d": {20, 30, 80, 70}})
	require.NoError(t, err)

	assert.Equal(t, SignalEnterLong, e.Evaluate(StateFlat, 1))
	assert.Equal(t, SignalHold, e.Evaluate(StateLong, 2))
	assert.Equal(t, SignalExit, e.Evaluate(StateLong, 3))
}

func TestDirectionalTrendNeedsADX(t *testing.T) {
	m, err := New(KindDirectionalTrend, map[string]float64{"adx_threshold": 25}, true)
	require.NoError(t, err)
	e, err := m.Bind(indicator.Set{
		"adx.adx":      {30, 20, 30},
		"adx.plus_di":  {10, 20, 10},
		"adx.minus_di": {15, 15, 15},
	})
	require.NoError(t, err)

	// +DI crosses up while ADX is 20: no entry
	assert.Equal(t, SignalHold, e.Evaluate(StateFlat, 1))
	assert.Equal(t, SignalEnterShort, e.Evaluate(StateFlat, 2))
}

func TestResolve(t *testing.T) {
	p, err := Resolve(KindMACross, map[string]float64{"fast": 8})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"fast": 8, "slow": 30}, p)

	tests := []struct {
		name   string
		kind   Kind
		params map[string]float64
	}{
		{"fast not below slow", KindMACross, map[string]float64{"fast": 30, "slow": 30}},
		{"out of range", KindRSIThreshold, map[string]float64{"period": 500}},
		{"fractional period", KindMACDCross, map[string]float64{"fast": 5.5}},
		{"unknown name", KindBollingerBreakout, map[string]float64{"width": 2}},
		{"nan value", KindBollingerBreakout, map[string]float64{"stddev": math.NaN()}},
		{"psar step range", KindParabolicReversal, map[string]float64{"step": 0.2}},
		{"cloud ordering", KindCloudTrend, map[string]float64{"tenkan": 30, "kijun": 26}},
		{"channel threshold range", KindChannelIndex, map[string]float64{"threshold": 301}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.kind, tt.params)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeParameterInvalid), "got %v", err)
		})
	}

	_, err = Resolve("momentum", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeStrategyNotFound))
}

func TestStochasticThresholdsAreIndependent(t *testing.T) {
	_, err := Resolve(KindStochastic, map[string]float64{"oversold": 90, "overbought": 10})
	assert.NoError(t, err)
	_, err = Resolve(KindStochastic, map[string]float64{"oversold": 0, "overbought": 100})
	assert.NoError(t, err)
}

func TestSchemaAndKinds(t *testing.T) {
	assert.Len(t, Kinds(), 11)

	k, err := ParseKind("cloud_trend")
	require.NoError(t, err)
	assert.Equal(t, KindCloudTrend, k)
	_, err = ParseKind("nope")
	assert.Error(t, err)

	specs, err := Schema(KindStochastic)
	require.NoError(t, err)
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"k_period", "d_period", "oversold", "overbought"}, names)

	cci, err := Schema(KindChannelIndex)
	require.NoError(t, err)
	assert.Equal(t, -300.0, cci[1].Min)
	assert.Equal(t, 300.0, cci[1].Max)

	ranges, err := DefaultRanges(KindBollingerBreakout)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4}, ranges["stddev"])
	assert.Len(t, ranges["period"], 96)
}

func TestEveryKindRunsOnRealisticData(t *testing.T) {
	series := testutils.NewMockData(21).Sine("SINE", 400, 100, 10, 40)

	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			m, err := New(kind, nil, true)
			require.NoError(t, err)

			set, err := indicator.Compute(series, m.Requests())
			require.NoError(t, err)
			e, err := m.Bind(set)
			require.NoError(t, err)

			state := StateFlat
			for i := 0; i < series.Len(); i++ {
				sig := e.Evaluate(state, i)
				switch sig {
				case SignalEnterLong:
					require.Equal(t, StateFlat, state)
					state = StateLong
				case SignalEnterShort:
					require.Equal(t, StateFlat, state)
					state = StateShort
				case SignalExit:
					require.NotEqual(t, StateFlat, state)
					state = StateFlat
				}
			}
		})
	}
}
