package optimizer

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/market/kline"
	"qcat-backtest/internal/monitor"
	"qcat-backtest/internal/strategy"
	"qcat-backtest/internal/strategy/backtest"
)

// WalkForwardConfig represents walk-forward configuration
type WalkForwardConfig struct {
	TrainingLen int  `json:"training_len" yaml:"training_len"` // 样本内K线数
	TestingLen  int  `json:"testing_len" yaml:"testing_len"`   // 样本外K线数
	Step        int  `json:"step" yaml:"step"`                 // 窗口滑动步长
	Anchored    bool `json:"anchored" yaml:"anchored"`         // 锚定式：训练窗口起点固定
}

// Validate checks the window lengths
func (c WalkForwardConfig) Validate() error {
	if c.TrainingLen < 2 {
		return apperrors.InvalidInput("training length must be at least 2 bars, got %d", c.TrainingLen)
	}
	if c.TestingLen < 2 {
		return apperrors.InvalidInput("testing length must be at least 2 bars, got %d", c.TestingLen)
	}
	if c.Step < 1 {
		return apperrors.InvalidInput("walk-forward step must be positive, got %d", c.Step)
	}
	return nil
}

// Window represents one train/test split. Ends are exclusive.
type Window struct {
	Index      int `json:"index"`
	TrainStart int `json:"train_start"`
	TrainEnd   int `json:"train_end"`
	TestStart  int `json:"test_start"`
	TestEnd    int `json:"test_end"`
}

// Windows lays out the splits over n bars. The test window immediately
// follows its training window; no split runs past the end of the series.
func (c WalkForwardConfig) Windows(n int) []Window {
	var windows []Window
	for start := 0; start+c.TrainingLen+c.TestingLen <= n; start += c.Step {
		w := Window{
			Index:      len(windows),
			TrainStart: start,
			TrainEnd:   start + c.TrainingLen,
		}
		if c.Anchored {
			w.TrainStart = 0
		}
		w.TestStart = w.TrainEnd
		w.TestEnd = w.TestStart + c.TestingLen
		windows = append(windows, w)
	}
	return windows
}

// WindowResult is the outcome of one split
type WindowResult struct {
	Window           Window             `json:"window"`
	Params           map[string]float64 `json:"params,omitempty"`
	InSampleScore    float64            `json:"in_sample_score"`
	OutOfSample      *backtest.Metrics  `json:"out_of_sample,omitempty"`
	OutOfSampleScore float64            `json:"out_of_sample_score"`
	Evaluated        int                `json:"evaluated"`
	Failed           int                `json:"failed"`
	Error            string             `json:"error,omitempty"`
}

// OK reports whether the window produced out-of-sample metrics
func (w WindowResult) OK() bool {
	return w.Error == "" && w.OutOfSample != nil
}

// WalkForwardReport collects every window of a run
type WalkForwardReport struct {
	ID          string               `json:"id"`
	Strategy    string               `json:"strategy"`
	Symbol      string               `json:"symbol"`
	ScoreMetric backtest.ScoreMetric `json:"score_metric"`
	Config      WalkForwardConfig    `json:"config"`
	Windows     []WindowResult       `json:"windows"`
	Overfit     *OverfitResult       `json:"overfit,omitempty"`
	Truncated   bool                 `json:"truncated"` // 取消时仅包含已完成的窗口
	WallClock   time.Duration        `json:"wall_clock"`
}

// WalkForward runs rolling optimize-then-test splits
type WalkForward struct {
	config    WalkForwardConfig
	optimizer *Optimizer
	detector  *OverfitDetector
	logger    logger.Logger
	metrics   *monitor.Metrics
}

// NewWalkForward creates a walk-forward harness. detector may be nil.
func NewWalkForward(config WalkForwardConfig, opt *Optimizer, detector *OverfitDetector, log logger.Logger, metrics *monitor.Metrics) (*WalkForward, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &WalkForward{config: config, optimizer: opt, detector: detector, logger: log, metrics: metrics}, nil
}

// Run optimizes on each training window and backtests the best parameter
// set on the following test window. A window without a viable combination
// is recorded with an error and no parameters. On cancellation the windows
// finished so far are returned with the error.
func (wf *WalkForward) Run(ctx context.Context, series *kline.Series, kind strategy.Kind, spec RangeSpec) (*WalkForwardReport, error) {
	start := time.Now()
	if err := series.Validate(2); err != nil {
		return nil, err
	}
	if err := spec.Validate(kind); err != nil {
		return nil, err
	}
	windows := wf.config.Windows(series.Len())
	if len(windows) == 0 {
		return nil, apperrors.InvalidInput("series of %d bars is shorter than one training plus testing window (%d)",
			series.Len(), wf.config.TrainingLen+wf.config.TestingLen)
	}

	report := &WalkForwardReport{
		ID:          uuid.NewString(),
		Strategy:    string(kind),
		Symbol:      series.Symbol,
		ScoreMetric: wf.optimizer.Config().ScoreMetric,
		Config:      wf.config,
	}
	log := wf.logger.WithFields(map[string]interface{}{"walkforward_id": report.ID, "strategy": kind})
	log.Info("Walk-forward started", "windows", len(windows), "bars", series.Len())

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			report.Truncated = true
			report.WallClock = time.Since(start)
			return report, apperrors.NewAppError(apperrors.ErrCodeCancelled, "walk-forward cancelled", err)
		}

		wctx := context.WithValue(ctx, logger.WindowKey, w.Index)
		result, err := wf.runWindow(wctx, series, kind, spec, w)
		if apperrors.Is(err, apperrors.ErrCodeCancelled) {
			report.Truncated = true
			report.WallClock = time.Since(start)
			return report, err
		}

		status := monitor.StatusOK
		if !result.OK() {
			status = monitor.StatusFailed
			log.Warn("Walk-forward window failed", "window", w.Index, "error", result.Error)
		}
		wf.metrics.RecordWindow(string(kind), status)
		report.Windows = append(report.Windows, result)
	}

	if wf.detector != nil {
		overfit, err := wf.detector.Check(report.Windows)
		if err != nil {
			log.Debug("Overfitting check skipped", "error", err.Error())
		} else {
			report.Overfit = overfit
		}
	}

	report.WallClock = time.Since(start)
	logger.NewPerformanceLogger(log).LogPerformance("walk_forward", report.WallClock, map[string]interface{}{
		"windows": len(report.Windows),
	})
	return report, nil
}

func (wf *WalkForward) runWindow(ctx context.Context, series *kline.Series, kind strategy.Kind, spec RangeSpec, w Window) (WindowResult, error) {
	result := WindowResult{Window: w}

	train := series.Slice(w.TrainStart, w.TrainEnd)
	opt, err := wf.optimizer.Optimize(ctx, train, kind, spec)
	if opt != nil {
		result.Evaluated, result.Failed = opt.Evaluated, opt.Failed
	}
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeCancelled) {
			return result, err
		}
		// 超时的部分结果仍可使用
		if opt == nil || !apperrors.Is(err, apperrors.ErrCodeOptimizationTimeout) {
			result.Error = err.Error()
			return result, nil
		}
	}

	best := opt.Best()
	if best == nil {
		result.Error = "no viable parameter combination in training window"
		return result, nil
	}
	result.Params = best.Result.Params
	result.InSampleScore = best.Result.Score

	test := series.Slice(w.TestStart, w.TestEnd)
	oos, err := wf.optimizer.Engine().Run(ctx, test, kind, best.Result.Params)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeCancelled) {
			return result, err
		}
		result.Error = err.Error()
		return result, nil
	}
	result.OutOfSample = &oos.Metrics
	result.OutOfSampleScore = oos.Score
	return result, nil
}
