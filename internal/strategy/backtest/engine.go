package backtest

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/indicator"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/market/kline"
	"qcat-backtest/internal/strategy"
)

const minBars = 2

// Options represents engine configuration
type Options struct {
	InitialCapital float64
	HoldingPeriod  int // 0 表示仅由信号平仓
	AllowShort     bool
	Costs          CostModel
	RiskFreeRate   float64
	BarsPerYear    float64
	ScoreMetric    ScoreMetric
	CheckEvery     int // 每隔多少根K线检查一次取消
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{
		InitialCapital: 10000,
		AllowShort:     true,
		BarsPerYear:    252,
		ScoreMetric:    MetricSharpe,
		CheckEvery:     64,
	}
}

// Validate checks the options
func (o Options) Validate() error {
	if math.IsNaN(o.InitialCapital) || o.InitialCapital <= 0 {
		return apperrors.InvalidInput("initial capital must be positive")
	}
	if o.HoldingPeriod < 0 {
		return apperrors.InvalidInput("holding period must not be negative, got %d", o.HoldingPeriod)
	}
	if o.BarsPerYear <= 0 {
		return apperrors.InvalidInput("bars per year must be positive")
	}
	if _, err := ParseScoreMetric(string(o.ScoreMetric)); err != nil {
		return err
	}
	return o.Costs.Validate()
}

// Engine represents the backtesting engine
type Engine struct {
	opts   Options
	logger logger.Logger
}

// NewEngine creates a new backtesting engine
func NewEngine(opts Options, log logger.Logger) (*Engine, error) {
	if opts.ScoreMetric == "" {
		opts.ScoreMetric = MetricSharpe
	}
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = 64
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Engine{opts: opts, logger: log}, nil
}

// Options returns the engine configuration
func (e *Engine) Options() Options {
	return e.opts
}

// Run validates the series and backtests one parameter set
func (e *Engine) Run(ctx context.Context, series *kline.Series, kind strategy.Kind, params map[string]float64) (*Result, error) {
	if err := series.Validate(minBars); err != nil {
		return nil, err
	}
	return e.RunMemo(ctx, series, indicator.NewMemo(series), kind, params)
}

// RunMemo backtests on an already validated series, drawing indicators from
// memo. The memo must belong to the same series.
func (e *Engine) RunMemo(ctx context.Context, series *kline.Series, memo *indicator.Memo, kind strategy.Kind, params map[string]float64) (*Result, error) {
	start := time.Now()

	machine, err := strategy.New(kind, params, e.opts.AllowShort)
	if err != nil {
		return nil, err
	}
	set, err := memo.Compute(machine.Requests())
	if err != nil {
		return nil, err
	}
	eval, err := machine.Bind(set)
	if err != nil {
		return nil, err
	}

	closes, volumes := set[indicator.ColClose], set[indicator.ColVolume]
	n := len(closes)
	pm := NewPositionManager(series.Symbol, e.opts.InitialCapital, e.opts.HoldingPeriod, e.opts.Costs)
	equity := make([]float64, n)

	for i := 0; i < n; i++ {
		if i%e.opts.CheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "backtest interrupted", err)
			}
		}

		t := series.Klines[i].OpenTime
		sig := eval.Evaluate(pm.State(), i)
		if i == n-1 && sig.IsEntry() {
			// 最后一根K线不开仓
			sig = strategy.SignalHold
		}
		pm.Advance(i, sig, closes[i], t, volumes[i])
		if i == n-1 {
			pm.ForceClose(i, closes[i], t, volumes[i])
		}
		equity[i] = pm.Equity(closes[i])
	}

	trades := pm.Trades()
	metrics := Evaluate(equity, trades, EvalOptions{RiskFreeRate: e.opts.RiskFreeRate, BarsPerYear: e.opts.BarsPerYear})

	return &Result{
		RunID:       uuid.NewString(),
		Strategy:    string(kind),
		Symbols:     []string{series.Symbol},
		Params:      machine.Params(),
		ScoreMetric: e.opts.ScoreMetric,
		Score:       metrics.Score(e.opts.ScoreMetric),
		Metrics:     metrics,
		EquityCurve: equity,
		Trades:      trades,
		Duration:    time.Since(start),
	}, nil
}

// RunPortfolio backtests the same strategy over several assets, each in its
// own sleeve, on the timestamps all assets share.
func (e *Engine) RunPortfolio(ctx context.Context, assets []*kline.Series, weights []float64, kind strategy.Kind, params map[string]float64) (*Result, error) {
	start := time.Now()

	for _, s := range assets {
		if err := s.Validate(minBars); err != nil {
			return nil, err
		}
	}
	aligned, err := kline.Align(assets...)
	if err != nil {
		return nil, err
	}
	if aligned[0].Len() < minBars {
		return nil, apperrors.InvalidInput("assets share only %d bars", aligned[0].Len())
	}

	machine, err := strategy.New(kind, params, e.opts.AllowShort)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, len(aligned))
	evals := make([]*strategy.Evaluator, len(aligned))
	closes := make([][]float64, len(aligned))
	volumes := make([][]float64, len(aligned))
	for a, s := range aligned {
		symbols[a] = s.Symbol
		set, err := indicator.Compute(s, machine.Requests())
		if err != nil {
			return nil, err
		}
		if evals[a], err = machine.Bind(set); err != nil {
			return nil, err
		}
		closes[a], volumes[a] = set[indicator.ColClose], set[indicator.ColVolume]
	}

	portfolio, err := NewPortfolio(symbols, weights, e.opts.InitialCapital, e.opts.HoldingPeriod, e.opts.Costs)
	if err != nil {
		return nil, err
	}

	n := aligned[0].Len()
	equity := make([]float64, n)
	prices := make([]float64, len(aligned))
	for i := 0; i < n; i++ {
		if i%e.opts.CheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperrors.NewAppError(apperrors.ErrCodeCancelled, "portfolio backtest interrupted", err)
			}
		}
		for a := range aligned {
			pm := portfolio.Sleeve(a)
			t := aligned[a].Klines[i].OpenTime
			sig := evals[a].Evaluate(pm.State(), i)
			if i == n-1 && sig.IsEntry() {
				sig = strategy.SignalHold
			}
			pm.Advance(i, sig, closes[a][i], t, volumes[a][i])
			if i == n-1 {
				pm.ForceClose(i, closes[a][i], t, volumes[a][i])
			}
			prices[a] = closes[a][i]
		}
		equity[i] = portfolio.Equity(prices)
	}

	trades := portfolio.Trades()
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].ExitBar != trades[j].ExitBar {
			return trades[i].ExitBar < trades[j].ExitBar
		}
		return trades[i].Symbol < trades[j].Symbol
	})

	assetReturns := make([][]float64, len(aligned))
	for a := range aligned {
		assetReturns[a] = Returns(closes[a])
	}

	metrics := Evaluate(equity, trades, EvalOptions{RiskFreeRate: e.opts.RiskFreeRate, BarsPerYear: e.opts.BarsPerYear})
	e.logger.Debug("Portfolio backtest finished",
		"strategy", kind, "assets", len(aligned), "bars", n,
		"aggregate_return", portfolio.AggregateReturn(prices), "trades", len(trades))

	return &Result{
		RunID:       uuid.NewString(),
		Strategy:    string(kind),
		Symbols:     symbols,
		Params:      machine.Params(),
		ScoreMetric: e.opts.ScoreMetric,
		Score:       metrics.Score(e.opts.ScoreMetric),
		Metrics:     metrics,
		EquityCurve: equity,
		Trades:      trades,
		Assets:      portfolio.Snapshots(prices),
		Correlation: Correlation(assetReturns),
		Duration:    time.Since(start),
	}, nil
}
