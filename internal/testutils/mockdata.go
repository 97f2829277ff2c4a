package testutils

import (
	"math"
	"math/rand"
	"time"

	"qcat-backtest/internal/market/kline"
)

// MockData 生成可复现的模拟行情
type MockData struct {
	rand  *rand.Rand
	start time.Time
}

// NewMockData 使用固定种子创建模拟数据生成器
func NewMockData(seed int64) *MockData {
	return &MockData{
		rand:  rand.New(rand.NewSource(seed)),
		start: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

// RandomFloat 生成随机浮点数
func (m *MockData) RandomFloat(min, max float64) float64 {
	return min + m.rand.Float64()*(max-min)
}

// SeriesFromCloses 由收盘价序列构造日线
func (m *MockData) SeriesFromCloses(symbol string, closes []float64) *kline.Series {
	klines := make([]kline.Kline, len(closes))
	prev := closes[0]
	for i, c := range closes {
		open := prev
		spread := math.Abs(c)*0.005 + 0.01
		klines[i] = kline.Kline{
			OpenTime: m.start.Add(time.Duration(i) * 24 * time.Hour),
			Open:     open,
			High:     math.Max(open, c) + spread,
			Low:      math.Max(math.Min(open, c)-spread, 0),
			Close:    c,
			Volume:   1000 + m.RandomFloat(0, 1000),
		}
		prev = c
	}
	return kline.NewSeries(symbol, kline.Interval1d, klines)
}

// RandomWalk 几何随机游走
func (m *MockData) RandomWalk(symbol string, n int, start, volatility float64) *kline.Series {
	closes := make([]float64, n)
	price := start
	for i := range closes {
		price *= 1 + m.rand.NormFloat64()*volatility
		if price < 0.01 {
			price = 0.01
		}
		closes[i] = price
	}
	return m.SeriesFromCloses(symbol, closes)
}

// Trending 带噪声的线性趋势
func (m *MockData) Trending(symbol string, n int, start, drift, noise float64) *kline.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = math.Max(start+drift*float64(i)+m.rand.NormFloat64()*noise, 0.01)
	}
	return m.SeriesFromCloses(symbol, closes)
}

// Sine 正弦波行情，适合振荡类策略
func (m *MockData) Sine(symbol string, n int, center, amplitude float64, period int) *kline.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = center + amplitude*math.Sin(2*math.Pi*float64(i)/float64(period))
	}
	return m.SeriesFromCloses(symbol, closes)
}

// Flat 价格恒定的行情
func (m *MockData) Flat(symbol string, n int, price float64) *kline.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return m.SeriesFromCloses(symbol, closes)
}
