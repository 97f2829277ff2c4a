package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"qcat-backtest/internal/analysis/backtesting"
	"qcat-backtest/internal/config"
	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/market/kline"
	"qcat-backtest/internal/strategy/optimizer"
	"qcat-backtest/internal/testutils"
)

func TestSchedulerRunsTasks(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	s := NewScheduler(suite.Logger)
	var calls int32
	s.RegisterHandler(TaskTypeWalkForward, TaskHandlerFunc(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	id, err := s.AddTask(TaskTypeWalkForward, "* * * * * *")
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	s.Start()
	testutils.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 3*time.Second, "task never ran")
	s.Stop()

	task, err := s.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != TaskStatusCompleted || task.Runs < 1 {
		t.Errorf("Unexpected task state: %+v", task)
	}
	if task.LastRunTime.IsZero() {
		t.Error("LastRunTime should be set")
	}
}

func TestSchedulerErrors(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	s := NewScheduler(suite.Logger)
	defer s.Stop()

	if _, err := s.AddTask(TaskTypeWalkForward, "@every 1h"); !apperrors.Is(err, apperrors.ErrCodeInvalidConfig) {
		t.Errorf("Expected missing handler error, got %v", err)
	}

	s.RegisterHandler(TaskTypeWalkForward, TaskHandlerFunc(func(ctx context.Context) error {
		return errors.New("boom")
	}))
	if _, err := s.AddTask(TaskTypeWalkForward, "not a schedule"); !apperrors.Is(err, apperrors.ErrCodeInvalidConfig) {
		t.Errorf("Expected invalid schedule error, got %v", err)
	}

	id, err := s.AddTask(TaskTypeWalkForward, "@every 1h")
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if err := s.RunNow(context.Background(), id); err == nil {
		t.Error("Expected handler error")
	}
	task, _ := s.GetTask(id)
	if task.Status != TaskStatusFailed || task.Error != "boom" {
		t.Errorf("Unexpected task state: %+v", task)
	}

	if err := s.RemoveTask(id); err != nil {
		t.Errorf("RemoveTask failed: %v", err)
	}
	if len(s.ListTasks()) != 0 {
		t.Error("Expected no tasks after removal")
	}
	if err := s.RunNow(context.Background(), id); err == nil {
		t.Error("Expected unknown task error")
	}
}

func TestSchedulerStopCancelsRunningTask(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	s := NewScheduler(suite.Logger)
	started := make(chan struct{}, 1)
	var cancelled int32
	s.RegisterHandler(TaskTypeWalkForward, TaskHandlerFunc(func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return ctx.Err()
	}))
	if _, err := s.AddTask(TaskTypeWalkForward, "* * * * * *"); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}
	s.Stop()
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Error("Stop should cancel and wait for the running task")
	}
}

type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) WalkForward(ctx context.Context, series *kline.Series, strategyID string, spec optimizer.RangeSpec, trainingLen, testingLen, step int) (*optimizer.WalkForwardReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &optimizer.WalkForwardReport{ID: "wf-1", Strategy: strategyID}, nil
}

func TestWalkForwardTask(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	series := testutils.NewMockData(1).Sine("SINE", 100, 100, 10, 20)
	runner := &fakeRunner{}
	var sunk *optimizer.WalkForwardReport
	task := &WalkForwardTask{
		Runner:     runner,
		StrategyID: "ma_cross",
		Load: func(ctx context.Context) (*kline.Series, error) {
			return series, nil
		},
		Sink: func(ctx context.Context, report *optimizer.WalkForwardReport) error {
			sunk = report
			return nil
		},
		Logger: suite.Logger,
	}

	if err := task.Handle(context.Background()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if runner.calls != 1 || sunk == nil || sunk.ID != "wf-1" {
		t.Errorf("Unexpected run: calls=%d sunk=%+v", runner.calls, sunk)
	}
	if task.LastReport() != sunk {
		t.Error("LastReport should return the sunk report")
	}

	runner.err = errors.New("load failed")
	if err := task.Handle(context.Background()); err == nil {
		t.Error("Expected runner error")
	}
	if task.LastReport().ID != "wf-1" {
		t.Error("Failed run should keep the previous report")
	}

	if err := (&WalkForwardTask{}).Handle(context.Background()); !apperrors.Is(err, apperrors.ErrCodeInvalidConfig) {
		t.Errorf("Expected config error, got %v", err)
	}
}

func TestWalkForwardTaskWithService(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cfg := config.Default()
	cfg.Optimizer.MaxWorkers = 2
	svc, err := backtesting.NewService(cfg, nil, suite.Logger, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	series := testutils.NewMockData(2).Sine("SINE", 240, 100, 15, 40)
	task := &WalkForwardTask{
		Runner:      svc,
		StrategyID:  "ma_cross",
		Spec:        optimizer.RangeSpec{"fast": {5, 10}, "slow": {20}},
		TrainingLen: 120,
		TestingLen:  60,
		Step:        60,
		Load: func(ctx context.Context) (*kline.Series, error) {
			return series, nil
		},
		Logger: suite.Logger,
	}

	s := NewScheduler(suite.Logger)
	defer s.Stop()
	s.RegisterHandler(TaskTypeWalkForward, task)
	id, err := s.AddTask(TaskTypeWalkForward, "@every 1h")
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if err := s.RunNow(context.Background(), id); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}

	report := task.LastReport()
	if report == nil || len(report.Windows) != 2 {
		t.Fatalf("Unexpected report: %+v", report)
	}
}
