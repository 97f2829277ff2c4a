package orchestrator

import (
	"context"
	"sync"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/market/kline"
	"qcat-backtest/internal/strategy/optimizer"
)

// WalkForwardRunner 执行滚动窗口优化
type WalkForwardRunner interface {
	WalkForward(ctx context.Context, series *kline.Series, strategyID string, spec optimizer.RangeSpec, trainingLen, testingLen, step int) (*optimizer.WalkForwardReport, error)
}

// WalkForwardTask 定时重新加载数据并执行滚动窗口优化
type WalkForwardTask struct {
	Runner      WalkForwardRunner
	StrategyID  string
	Spec        optimizer.RangeSpec
	TrainingLen int
	TestingLen  int
	Step        int

	// Load 每次运行时重新加载K线
	Load func(ctx context.Context) (*kline.Series, error)
	// Sink 接收完成的报告，可为空
	Sink func(ctx context.Context, report *optimizer.WalkForwardReport) error

	Logger logger.Logger

	mu   sync.Mutex
	last *optimizer.WalkForwardReport
}

// Handle 实现 TaskHandler
func (t *WalkForwardTask) Handle(ctx context.Context) error {
	if t.Runner == nil || t.Load == nil {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "walk-forward task requires a runner and a loader", nil)
	}
	log := t.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	series, err := t.Load(ctx)
	if err != nil {
		return err
	}

	report, err := t.Runner.WalkForward(ctx, series, t.StrategyID, t.Spec, t.TrainingLen, t.TestingLen, t.Step)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.last = report
	t.mu.Unlock()

	fields := []interface{}{"report_id", report.ID, "strategy", t.StrategyID, "windows", len(report.Windows)}
	if report.Overfit != nil {
		fields = append(fields, "overfit", report.Overfit.IsOverfit, "efficiency", report.Overfit.Efficiency)
	}
	log.Info("Scheduled walk-forward finished", fields...)

	if t.Sink != nil {
		return t.Sink(ctx, report)
	}
	return nil
}

// LastReport 返回最近一次完成的报告
func (t *WalkForwardTask) LastReport() *optimizer.WalkForwardReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
