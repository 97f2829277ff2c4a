package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/testutils"
)

func assertSeries(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "index %d: want NaN, got %v", i, got[i])
			continue
		}
		assert.InDelta(t, want[i], got[i], 1e-9, "index %d", i)
	}
}

var nan = math.NaN()

func TestSMA(t *testing.T) {
	assertSeries(t, []float64{nan, nan, 2, 3, 4}, SMA([]float64{1, 2, 3, 4, 5}, 3))
	assertSeries(t, []float64{nan, nan}, SMA([]float64{1, 2}, 3))
	// NaN prefix is carried through
	assertSeries(t, []float64{nan, nan, nan, 2, 3}, SMA([]float64{nan, 1, 2, 3, 4}, 3))
}

func TestEMAAndRMA(t *testing.T) {
	assertSeries(t, []float64{nan, nan, 2, 3, 4}, EMA([]float64{1, 2, 3, 4, 5}, 3))

	// 1/p smoothing: seed 2, then (5 + 2*2)/3 = 3
	assertSeries(t, []float64{nan, nan, 2, 3}, RMA([]float64{1, 2, 3, 5}, 3))
}

func TestRollingExtremes(t *testing.T) {
	x := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	assertSeries(t, []float64{nan, nan, 4, 4, 5, 9, 9, 9}, RollingMax(x, 3))
	assertSeries(t, []float64{nan, nan, 1, 1, 1, 1, 2, 2}, RollingMin(x, 3))
}

func TestRSIBounds(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7}
	out := RSI(rising, 3)
	assert.True(t, math.IsNaN(out[2]))
	assert.Equal(t, 100.0, out[3])
	assert.Equal(t, 100.0, out[6])

	falling := []float64{7, 6, 5, 4, 3}
	assert.Equal(t, 0.0, RSI(falling, 3)[4])

	flat := []float64{5, 5, 5, 5, 5}
	assert.Equal(t, 50.0, RSI(flat, 3)[4])
}

func TestBollingerFlatSeries(t *testing.T) {
	closes := []float64{10, 10, 10, 10}
	upper, middle, lower := Bollinger(closes, 3, 2)
	assert.True(t, math.IsNaN(upper[1]))
	assert.Equal(t, 10.0, upper[3])
	assert.Equal(t, 10.0, middle[3])
	assert.Equal(t, 10.0, lower[3])
}

func TestStochastic(t *testing.T) {
	high := []float64{10, 11, 12, 12}
	low := []float64{8, 9, 10, 10}
	closes := []float64{9, 11, 12, 10}
	k, d := Stochastic(high, low, closes, 3, 1, 2)
	assert.True(t, math.IsNaN(k[1]))
	assert.Equal(t, 100.0, k[2])
	assert.InDelta(t, 100*(10.0-9)/(12-9), k[3], 1e-9)
	assert.True(t, math.IsNaN(d[2]))
	assert.InDelta(t, (100+k[3])/2, d[3], 1e-9)
}

func TestCCI(t *testing.T) {
	_, err := CCI([]float64{1}, []float64{1}, []float64{1}, 1, 0.015)
	assert.ErrorIs(t, err, apperrors.ErrDivisionByZero)

	_, err = CCI([]float64{1, 2}, []float64{1, 2}, []float64{1, 2}, 2, 0)
	assert.ErrorIs(t, err, apperrors.ErrDivisionByZero)

	flat := []float64{5, 5, 5, 5}
	out, err := CCI(flat, flat, flat, 3, 0.015)
	require.NoError(t, err)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}

	// tp = 1,2,3: ma=2, md=2/3, cci = 1/(0.015*2/3) = 100
	x := []float64{1, 2, 3}
	out, err = CCI(x, x, x, 3, 0.015)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, out[2], 1e-9)
}

func TestATRConstantRange(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10}
	high := []float64{11, 11, 11, 11, 11}
	low := []float64{9, 9, 9, 9, 9}
	assertSeries(t, []float64{nan, nan, 2, 2, 2}, ATR(high, low, closes, 3))
}

func TestMACDConstantIsZero(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 42
	}
	line, sig, hist := MACD(closes, 12, 26, 9)
	assert.True(t, math.IsNaN(line[24]))
	assert.InDelta(t, 0, line[25], 1e-12)
	assert.True(t, math.IsNaN(sig[32]))
	assert.InDelta(t, 0, sig[33], 1e-12)
	assert.InDelta(t, 0, hist[39], 1e-12)
}

func TestTrendIndicatorsOnUptrend(t *testing.T) {
	series := testutils.NewMockData(7).Trending("UP", 200, 100, 1, 0.1)
	high, low, closes := series.Highs(), series.Lows(), series.Closes()

	adx, plus, minus := ADX(high, low, closes, 14)
	assert.True(t, math.IsNaN(adx[26]))
	assert.False(t, math.IsNaN(adx[27]))
	assert.Greater(t, plus[199], minus[199])
	assert.Greater(t, adx[199], 25.0)

	_, dir := Supertrend(high, low, closes, 10, 3)
	assert.Equal(t, 1.0, dir[199])

	sar := ParabolicSAR(high, low, closes, 0.02, 0.2)
	assert.True(t, math.IsNaN(sar[0]))
	assert.Less(t, sar[199], low[199])
}

func TestIchimokuDisplacement(t *testing.T) {
	series := testutils.NewMockData(3).RandomWalk("X", 120, 100, 0.01)
	ic := Ichimoku(series.Highs(), series.Lows(), 9, 26, 52, 26)

	assert.True(t, math.IsNaN(ic.Kijun[24]))
	assert.False(t, math.IsNaN(ic.Kijun[25]))
	assert.True(t, math.IsNaN(ic.SpanA[50]))
	assert.InDelta(t, (ic.Tenkan[25]+ic.Kijun[25])/2, ic.SpanA[51], 1e-9)
	assert.True(t, math.IsNaN(ic.SpanB[76]))
	assert.False(t, math.IsNaN(ic.SpanB[77]))
}

func TestComputeAlignsEveryOutput(t *testing.T) {
	series := testutils.NewMockData(11).RandomWalk("BTC", 300, 100, 0.02)
	reqs := []Request{
		{Kind: KindSMA, Alias: "fast", Params: map[string]float64{"period": 10}},
		{Kind: KindEMA, Alias: "vol_ema", Source: "volume", Params: map[string]float64{"period": 5}},
		{Kind: KindRSI, Params: map[string]float64{"period": 14}},
		{Kind: KindMACD},
		{Kind: KindBollinger},
		{Kind: KindStochastic, Params: map[string]float64{"k_period": 14, "d_period": 3, "smooth": 3}},
		{Kind: KindCCI},
		{Kind: KindATR},
		{Kind: KindADX},
		{Kind: KindSupertrend},
		{Kind: KindIchimoku},
		{Kind: KindPSAR},
	}

	set, err := Compute(series, reqs)
	require.NoError(t, err)

	for _, name := range []string{"close", "volume", "fast", "vol_ema", "rsi", "macd.signal",
		"bollinger.upper", "stochastic.d", "cci", "atr", "adx.plus_di", "supertrend.direction",
		"ichimoku.span_b", "psar"} {
		values, ok := set.Get(name)
		require.True(t, ok, name)
		assert.Len(t, values, series.Len(), name)
	}

	// 预热期为 NaN
	assert.True(t, math.IsNaN(set.At("fast", 8)))
	assert.False(t, math.IsNaN(set.At("fast", 9)))
	assert.True(t, math.IsNaN(set.At("missing", 10)))
	assert.True(t, math.IsNaN(set.At("fast", -1)))
}

func TestComputeShortSeriesIsAllWarmup(t *testing.T) {
	series := testutils.NewMockData(1).RandomWalk("X", 5, 100, 0.01)
	set, err := Compute(series, []Request{{Kind: KindSMA, Params: map[string]float64{"period": 20}}})
	require.NoError(t, err)
	require.Len(t, set["sma"], 5)
	for _, v := range set["sma"] {
		assert.False(t, Valid(v))
	}
}

func TestComputeErrors(t *testing.T) {
	series := testutils.NewMockData(1).RandomWalk("X", 50, 100, 0.01)

	tests := []struct {
		name string
		req  []Request
		code apperrors.ErrorCode
	}{
		{"zero period", []Request{{Kind: KindSMA, Params: map[string]float64{"period": 0}}}, apperrors.ErrCodeParameterInvalid},
		{"fractional period", []Request{{Kind: KindRSI, Params: map[string]float64{"period": 2.5}}}, apperrors.ErrCodeParameterInvalid},
		{"unknown kind", []Request{{Kind: "vwap"}}, apperrors.ErrCodeParameterInvalid},
		{"unknown source", []Request{{Kind: KindEMA, Source: "spread"}}, apperrors.ErrCodeParameterInvalid},
		{"duplicate alias", []Request{{Kind: KindSMA, Alias: "a"}, {Kind: KindEMA, Alias: "a"}}, apperrors.ErrCodeParameterInvalid},
		{"psar step", []Request{{Kind: KindPSAR, Params: map[string]float64{"step": 0.5, "max_step": 0.2}}}, apperrors.ErrCodeParameterInvalid},
		{"cci division by zero", []Request{{Kind: KindCCI, Params: map[string]float64{"period": 1}}}, apperrors.ErrCodeIndicatorFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(series, tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}

	_, err := Compute(series, []Request{{Kind: KindCCI, Params: map[string]float64{"period": 1}}})
	assert.ErrorIs(t, err, apperrors.ErrDivisionByZero)
}

func BenchmarkCompute(b *testing.B) {
	series := testutils.NewMockData(5).RandomWalk("BENCH", 5000, 100, 0.01)
	reqs := []Request{
		{Kind: KindSMA, Alias: "fast", Params: map[string]float64{"period": 10}},
		{Kind: KindSMA, Alias: "slow", Params: map[string]float64{"period": 50}},
		{Kind: KindMACD}, {Kind: KindBollinger}, {Kind: KindStochastic},
		{Kind: KindCCI}, {Kind: KindADX}, {Kind: KindIchimoku}, {Kind: KindPSAR},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Compute(series, reqs); err != nil {
			b.Fatal(err)
		}
	}
}

func TestMemoReusesComputations(t *testing.T) {
	series := testutils.NewMockData(2).RandomWalk("X", 100, 100, 0.01)
	memo := NewMemo(series)

	a, err := memo.Compute([]Request{
		{Kind: KindSMA, Alias: "fast", Params: map[string]float64{"period": 10}},
		{Kind: KindSMA, Alias: "slow", Params: map[string]float64{"period": 30}},
	})
	require.NoError(t, err)
	b, err := memo.Compute([]Request{
		{Kind: KindSMA, Alias: "fast", Params: map[string]float64{"period": 30}},
		{Kind: KindSMA, Alias: "slow", Params: map[string]float64{"period": 50}},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, memo.Len())
	assert.Equal(t, a["slow"], b["fast"])
	assert.Len(t, b["slow"], 100)

	_, err = memo.Compute([]Request{{Kind: KindSMA, Alias: "close"}})
	assert.Error(t, err)
}
