package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultStopTimeout bounds how long Stop waits for a running cycle
	defaultStopTimeout = 10 * time.Second
	// defaultCancelGrace bounds how long a canceled cycle may take to unwind
	defaultCancelGrace = 5 * time.Second
)

// Task represents a periodic collect-and-report cycle
type Task struct {
	ID   string
	Name string
	// Collectors restricts the cycle to the named collectors; empty runs all of them
	Collectors []string
	Interval   time.Duration
	// Timeout bounds one cycle; defaults to Interval
	Timeout      time.Duration
	LastRun      time.Time
	NextRun      time.Time
	Runs         int64
	DroppedTicks int64
	Status       TaskStatus

	running  atomic.Bool
	stopChan chan struct{}
}

// snapshot copies the exported fields of the task
func (t *Task) snapshot() *Task {
	return &Task{
		ID:           t.ID,
		Name:         t.Name,
		Collectors:   append([]string(nil), t.Collectors...),
		Interval:     t.Interval,
		Timeout:      t.Timeout,
		LastRun:      t.LastRun,
		NextRun:      t.NextRun,
		Runs:         t.Runs,
		DroppedTicks: t.DroppedTicks,
		Status:       t.Status,
	}
}

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusStopped   TaskStatus = "stopped"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCompleted TaskStatus = "completed"
)

// Result represents the result of one cycle
type Result struct {
	TaskID    string
	Success   bool
	Error     error
	Summary   *CycleSummary
	Duration  time.Duration
	Timestamp time.Time
}

// Scheduler defines the interface for task scheduling
type Scheduler interface {
	// Add adds a new task to the scheduler
	Add(ctx context.Context, task *Task) error

	// Remove removes a task from the scheduler
	Remove(ctx context.Context, taskID string) error

	// Start starts the scheduler
	Start(ctx context.Context) error

	// Stop stops the scheduler and waits for running cycles
	Stop(ctx context.Context) error

	// GetTask returns a copy of the task
	GetTask(taskID string) (*Task, error)

	// ListTasks returns copies of all tasks ordered by ID
	ListTasks() []*Task

	// GetStatus returns the scheduler status
	GetStatus() string
}

// Executor runs one cycle of a task
type Executor interface {
	Execute(ctx context.Context, task *Task) (*Result, error)
}

// Monitor defines the interface for monitoring task execution
type Monitor interface {
	// Record records task execution metrics
	Record(ctx context.Context, result *Result) error

	// GetMetrics returns execution metrics
	GetMetrics() map[string]interface{}

	// GetTaskMetrics returns metrics for a specific task
	GetTaskMetrics(taskID string) map[string]interface{}
}

// IntervalScheduler runs every task immediately and then once per interval.
// Cycles of one task never overlap: a tick that arrives while a cycle is
// still running is dropped. A failing task keeps its schedule.
type IntervalScheduler struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	executor Executor
	monitor  Monitor
	logger   *zap.Logger
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
	wg       sync.WaitGroup

	stopTimeout time.Duration
	cancelGrace time.Duration
}

// New creates a new IntervalScheduler instance
func New(executor Executor, monitor Monitor, logger *zap.Logger) *IntervalScheduler {
	return &IntervalScheduler{
		tasks:    make(map[string]*Task),
		executor: executor,
		monitor:  monitor,
		logger:   logger.With(zap.String("module", "scheduler")),

		stopTimeout: defaultStopTimeout,
		cancelGrace: defaultCancelGrace,
	}
}

// Add adds a new task to the scheduler
func (s *IntervalScheduler) Add(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}
	if task.ID == "" {
		return errors.New("task ID cannot be empty")
	}
	if task.Interval <= 0 {
		return errors.New("task interval must be positive")
	}
	if task.Timeout <= 0 {
		task.Timeout = task.Interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	task.Status = TaskStatusPending
	task.NextRun = time.Now()
	task.stopChan = make(chan struct{})

	s.tasks[task.ID] = task
	s.logger.Info("Task added to scheduler",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.Duration("interval", task.Interval),
		zap.Duration("timeout", task.Timeout))

	if s.running {
		s.startTaskLoop(task)
	}

	return nil
}

// Remove removes a task from the scheduler. A cycle in flight finishes.
func (s *IntervalScheduler) Remove(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	close(task.stopChan)
	delete(s.tasks, taskID)
	s.logger.Info("Task removed from scheduler", zap.String("task_id", taskID))
	return nil
}

// Start starts one loop per task; each task runs its first cycle right away
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopping = make(chan struct{})
	s.running = true

	for _, task := range s.tasks {
		s.startTaskLoop(task)
	}

	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Stop stops triggering new cycles and waits for running ones. Cycles still
// running after the stop timeout are canceled, Stop waits for them to return
// and reports the timeout as an error.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New("scheduler is not running")
	}
	close(s.stopping)
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.stopTimeout):
		s.logger.Warn("Scheduler stop timed out, canceling running cycles")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop interrupted, canceling running cycles", zap.Error(ctx.Err()))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(s.cancelGrace):
		s.logger.Error("Canceled cycles did not return in time", zap.Duration("grace", s.cancelGrace))
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scheduler stop interrupted: %w", err)
	}
	return errors.New("scheduler stop timeout")
}

// startTaskLoop must be called with s.mu held
func (s *IntervalScheduler) startTaskLoop(task *Task) {
	ctx := s.ctx
	stopping := s.stopping
	stop := task.stopChan

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(task.Interval)
		defer ticker.Stop()

		s.trigger(ctx, task)
		for {
			select {
			case <-ticker.C:
				s.trigger(ctx, task)
			case <-stop:
				return
			case <-stopping:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// trigger starts a cycle unless the previous one is still running
func (s *IntervalScheduler) trigger(ctx context.Context, task *Task) {
	if !task.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		task.DroppedTicks++
		s.mu.Unlock()
		s.logger.Warn("Previous cycle still running, tick dropped",
			zap.String("task_id", task.ID))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer task.running.Store(false)
		s.executeTask(ctx, task)
	}()
}

// executeTask runs a single cycle and records its result
func (s *IntervalScheduler) executeTask(parent context.Context, task *Task) {
	s.mu.Lock()
	timeout := task.Timeout
	task.Status = TaskStatusRunning
	task.LastRun = time.Now()
	task.NextRun = task.LastRun.Add(task.Interval)
	task.Runs++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	result, err := s.executor.Execute(ctx, task)
	duration := time.Since(start)

	execResult := &Result{
		TaskID:    task.ID,
		Success:   err == nil,
		Error:     err,
		Duration:  duration,
		Timestamp: time.Now(),
	}
	if result != nil {
		execResult.Summary = result.Summary
	}

	if s.monitor != nil {
		// the cycle context may already be done
		if err := s.monitor.Record(context.Background(), execResult); err != nil {
			s.logger.Error("Failed to record task metrics", zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		task.Status = TaskStatusFailed
		s.logger.Error("Task execution failed",
			zap.String("task_id", task.ID),
			zap.String("name", task.Name),
			zap.Duration("duration", duration),
			zap.Time("next_run", task.NextRun),
			zap.Error(err))
		return
	}

	task.Status = TaskStatusCompleted
	s.logger.Debug("Task executed successfully",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.Duration("duration", duration))
}

// GetTask returns a copy of the task
func (s *IntervalScheduler) GetTask(taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s not found", taskID)
	}

	return task.snapshot(), nil
}

// ListTasks returns copies of all scheduled tasks ordered by ID
func (s *IntervalScheduler) ListTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task.snapshot())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return tasks
}

// GetStatus returns the scheduler status
func (s *IntervalScheduler) GetStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := "stopped"
	if s.running {
		status = "running"
	}

	active := 0
	for _, task := range s.tasks {
		if task.running.Load() {
			active++
		}
	}

	return fmt.Sprintf("Scheduler %s: %d tasks, %d running", status, len(s.tasks), active)
}

// GetMetrics returns scheduler metrics
func (s *IntervalScheduler) GetMetrics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statusCounts := make(map[TaskStatus]int)
	var dropped int64
	for _, task := range s.tasks {
		statusCounts[task.Status]++
		dropped += task.DroppedTicks
	}

	return map[string]interface{}{
		"running":       s.running,
		"total_tasks":   len(s.tasks),
		"dropped_ticks": dropped,
		"status_counts": statusCounts,
	}
}
