package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/logger"
)

// TaskType represents the type of scheduled task
type TaskType string

const (
	TaskTypeWalkForward TaskType = "walk_forward"
)

// Task represents a scheduled task
type Task struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	Schedule    string     `json:"schedule"`
	LastRunTime time.Time  `json:"last_run_time"`
	NextRunTime time.Time  `json:"next_run_time"`
	Runs        int        `json:"runs"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`

	entryID cron.EntryID
}

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskHandler defines the interface for task handlers
type TaskHandler interface {
	Handle(ctx context.Context) error
}

// TaskHandlerFunc adapts a function to TaskHandler
type TaskHandlerFunc func(ctx context.Context) error

// Handle calls f(ctx)
func (f TaskHandlerFunc) Handle(ctx context.Context) error {
	return f(ctx)
}

// Scheduler manages task scheduling
type Scheduler struct {
	cron     *cron.Cron
	tasks    map[string]*Task
	handlers map[TaskType]TaskHandler
	logger   logger.Logger
	seq      int

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// NewScheduler creates a new scheduler; overlapping runs of one task are skipped
func NewScheduler(log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     c,
		tasks:    make(map[string]*Task),
		handlers: make(map[TaskType]TaskHandler),
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers a handler for a task type
func (s *Scheduler) RegisterHandler(taskType TaskType, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = handler
}

// AddTask adds a new task to the scheduler and returns its ID
func (s *Scheduler) AddTask(taskType TaskType, schedule string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler, exists := s.handlers[taskType]
	if !exists {
		return "", apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"no handler registered for task type", string(taskType), nil)
	}

	s.seq++
	task := &Task{
		ID:       fmt.Sprintf("%s_%d", taskType, s.seq),
		Type:     taskType,
		Schedule: schedule,
		Status:   TaskStatusPending,
	}

	// 添加到cron
	id, err := s.cron.AddFunc(schedule, func() {
		s.runTask(s.ctx, task, handler)
	})
	if err != nil {
		return "", apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"invalid cron schedule", schedule, err)
	}
	task.entryID = id
	task.NextRunTime = s.cron.Entry(id).Next
	s.tasks[task.ID] = task

	s.logger.Info("Task scheduled", "task_id", task.ID, "type", taskType, "schedule", schedule)
	return task.ID, nil
}

// RemoveTask removes a task from the scheduler
func (s *Scheduler) RemoveTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput, "task not found", taskID, nil)
	}
	s.cron.Remove(task.entryID)
	delete(s.tasks, taskID)
	return nil
}

// RunNow executes a task immediately in the caller's goroutine
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, exists := s.tasks[taskID]
	var handler TaskHandler
	if exists {
		handler = s.handlers[task.Type]
	}
	s.mu.RUnlock()

	if !exists {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput, "task not found", taskID, nil)
	}
	return s.runTask(ctx, task, handler)
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	for _, task := range s.tasks {
		task.NextRunTime = s.cron.Entry(task.entryID).Next
	}
	s.mu.Unlock()
}

// Stop stops the scheduler, cancels running tasks and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// runTask executes a task
func (s *Scheduler) runTask(ctx context.Context, task *Task, handler TaskHandler) error {
	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRunTime = time.Now()
	task.Runs++
	s.mu.Unlock()

	log := s.logger.WithFields(map[string]interface{}{"task_id": task.ID, "type": task.Type})
	log.Info("Task started")

	err := handler.Handle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.entryID != 0 {
		task.NextRunTime = s.cron.Entry(task.entryID).Next
	}
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err.Error()
		log.Error("Task failed", "error", err.Error(), "elapsed", time.Since(task.LastRunTime).String())
	} else {
		task.Status = TaskStatusCompleted
		task.Error = ""
		log.Info("Task completed", "elapsed", time.Since(task.LastRunTime).String())
	}
	return err
}

// GetTask gets a snapshot of a task by ID
func (s *Scheduler) GetTask(taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return Task{}, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput, "task not found", taskID, nil)
	}
	return *task, nil
}

// ListTasks lists snapshots of all tasks ordered by ID
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// cronLogger 将cron内部日志转发到结构化日志
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", fmt.Sprint(err))...)
}
