package kline

import (
	"time"
)

// Interval represents a candlestick interval
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

// Kline represents one price bar
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// GetIntervalDuration returns the duration of an interval
func GetIntervalDuration(interval Interval) time.Duration {
	switch interval {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval12h:
		return 12 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1w:
		return 168 * time.Hour
	default:
		return 0
	}
}

// BarsPerYear returns the annualization factor for an interval.
// Daily bars use the 252 trading-day convention; intraday intervals assume a
// 24/7 market.
func BarsPerYear(interval Interval) float64 {
	switch interval {
	case Interval1d, "":
		return 252
	case Interval1w:
		return 52
	}
	d := GetIntervalDuration(interval)
	if d <= 0 {
		return 252
	}
	return float64(365*24*time.Hour) / float64(d)
}
