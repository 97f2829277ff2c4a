package backtest

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	apperrors "qcat-backtest/internal/errors"
)

// Direction of a position
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// sign returns +1 for long and -1 for short
func (d Direction) sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// ExitReason explains why a trade was closed
type ExitReason string

const (
	ExitHoldingPeriod ExitReason = "holding_period"
	ExitSignal        ExitReason = "signal"
	ExitEndOfData     ExitReason = "end_of_data"
)

// ScoreMetric selects the metric an optimization maximizes
type ScoreMetric string

const (
	MetricSharpe      ScoreMetric = "sharpe"
	MetricSortino     ScoreMetric = "sortino"
	MetricCalmar      ScoreMetric = "calmar"
	MetricTotalReturn ScoreMetric = "total_return"
)

// ParseScoreMetric validates a metric name
func ParseScoreMetric(name string) (ScoreMetric, error) {
	switch m := ScoreMetric(strings.ToLower(strings.TrimSpace(name))); m {
	case MetricSharpe, MetricSortino, MetricCalmar, MetricTotalReturn:
		return m, nil
	case "":
		return MetricSharpe, nil
	}
	return "", apperrors.InvalidInput("unknown score metric %q", name)
}

// Position represents an open position
type Position struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	EntryBar   int       `json:"entry_bar"`
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	Remaining  int       `json:"holding_period_remaining"`
	EntryCost  float64   `json:"entry_cost"`
}

// Trade represents a completed round trip
type Trade struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Direction   Direction  `json:"direction"`
	EntryBar    int        `json:"entry_bar"`
	ExitBar     int        `json:"exit_bar"`
	EntryTime   time.Time  `json:"entry_time"`
	ExitTime    time.Time  `json:"exit_time"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Quantity    float64    `json:"quantity"`
	GrossPnL    float64    `json:"gross_pnl"`
	Costs       float64    `json:"costs"`
	NetPnL      float64    `json:"net_pnl"`
	Return      float64    `json:"return"`
	HoldingBars int        `json:"holding_bars"`
	ExitReason  ExitReason `json:"exit_reason"`
}

// AssetSnapshot is the end-of-run state of one asset sleeve
type AssetSnapshot struct {
	Symbol        string  `json:"symbol"`
	Weight        float64 `json:"weight"`
	Capital       float64 `json:"capital"`
	Cash          float64 `json:"cash"`
	MarketValue   float64 `json:"market_value"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Return        float64 `json:"return"`
	TradeCount    int     `json:"trade_count"`
}

// Result is the immutable outcome of one backtest run
type Result struct {
	RunID       string             `json:"run_id"`
	Strategy    string             `json:"strategy"`
	Symbols     []string           `json:"symbols"`
	Params      map[string]float64 `json:"params"`
	ScoreMetric ScoreMetric        `json:"score_metric"`
	Score       float64            `json:"score"`
	Metrics     Metrics            `json:"metrics"`
	EquityCurve []float64          `json:"equity_curve,omitempty"`
	Trades      []Trade            `json:"trades,omitempty"`
	Assets      []AssetSnapshot    `json:"assets,omitempty"`
	Correlation [][]float64        `json:"correlation,omitempty"`
	Failed      bool               `json:"failed"`
	Error       string             `json:"error,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// Strip drops the per-bar detail, keeping params, score and metrics
func (r *Result) Strip() {
	r.EquityCurve = nil
	r.Trades = nil
}

// MarshalJSON encodes a non-finite score as null
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		Score *float64 `json:"score"`
	}{plain: plain(r), Score: finitePtr(r.Score)})
}

// UnmarshalJSON restores a null score as -Inf
func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	aux := struct {
		*plain
		Score *float64 `json:"score"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Score = math.Inf(-1)
	if aux.Score != nil {
		r.Score = *aux.Score
	}
	return nil
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
