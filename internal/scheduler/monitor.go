package scheduler

import (
	"context"
	"sync"
	"time"
)

// recentLimit is how many execution records are kept per task
const recentLimit = 10

// TaskMonitor implements Monitor and keeps per-task cycle statistics
type TaskMonitor struct {
	mu          sync.RWMutex
	taskMetrics map[string]*TaskExecutionMetrics
	globalStats *GlobalMetrics
}

// TaskExecutionMetrics holds the statistics of one task
type TaskExecutionMetrics struct {
	TaskID           string
	TotalExecutions  int64
	SuccessfulRuns   int64
	FailedRuns       int64
	SamplesReported  int64
	LastExecution    time.Time
	LastSuccess      time.Time
	LastDuration     time.Duration
	LastError        string
	AverageDuration  time.Duration
	TotalDuration    time.Duration
	SuccessRate      float64
	RecentExecutions []ExecutionRecord
}

// ExecutionRecord describes one cycle
type ExecutionRecord struct {
	Timestamp time.Time
	Success   bool
	Duration  time.Duration
	Samples   int
	Error     string
}

// GlobalMetrics aggregates every task
type GlobalMetrics struct {
	TotalTasks      int
	TotalExecutions int64
	TotalSuccesses  int64
	TotalFailures   int64
	SuccessRate     float64
	LastUpdated     time.Time
}

// NewTaskMonitor creates an empty monitor
func NewTaskMonitor() *TaskMonitor {
	return &TaskMonitor{
		taskMetrics: make(map[string]*TaskExecutionMetrics),
		globalStats: &GlobalMetrics{
			LastUpdated: time.Now(),
		},
	}
}

// Record records the result of a cycle
func (tm *TaskMonitor) Record(ctx context.Context, result *Result) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	metrics, exists := tm.taskMetrics[result.TaskID]
	if !exists {
		metrics = &TaskExecutionMetrics{
			TaskID:           result.TaskID,
			RecentExecutions: make([]ExecutionRecord, 0, recentLimit),
		}
		tm.taskMetrics[result.TaskID] = metrics
	}

	record := ExecutionRecord{
		Timestamp: result.Timestamp,
		Success:   result.Success,
		Duration:  result.Duration,
	}
	if result.Summary != nil {
		record.Samples = result.Summary.Samples
	}
	if result.Error != nil {
		record.Error = result.Error.Error()
	}

	metrics.TotalExecutions++
	metrics.LastExecution = result.Timestamp
	metrics.LastDuration = result.Duration
	metrics.LastError = record.Error
	metrics.TotalDuration += result.Duration
	metrics.AverageDuration = time.Duration(int64(metrics.TotalDuration) / metrics.TotalExecutions)

	if result.Success {
		metrics.SuccessfulRuns++
		metrics.LastSuccess = result.Timestamp
		metrics.SamplesReported += int64(record.Samples)
	} else {
		metrics.FailedRuns++
	}
	metrics.SuccessRate = float64(metrics.SuccessfulRuns) / float64(metrics.TotalExecutions)

	if len(metrics.RecentExecutions) >= recentLimit {
		metrics.RecentExecutions = metrics.RecentExecutions[1:]
	}
	metrics.RecentExecutions = append(metrics.RecentExecutions, record)

	tm.updateGlobalStats()
	return nil
}

// GetMetrics returns the aggregated metrics
func (tm *TaskMonitor) GetMetrics() map[string]interface{} {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	return map[string]interface{}{
		"total_tasks":      tm.globalStats.TotalTasks,
		"total_executions": tm.globalStats.TotalExecutions,
		"total_successes":  tm.globalStats.TotalSuccesses,
		"total_failures":   tm.globalStats.TotalFailures,
		"success_rate":     tm.globalStats.SuccessRate,
		"last_updated":     tm.globalStats.LastUpdated,
	}
}

// GetTaskMetrics returns the metrics of one task
func (tm *TaskMonitor) GetTaskMetrics(taskID string) map[string]interface{} {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	metrics, exists := tm.taskMetrics[taskID]
	if !exists {
		return map[string]interface{}{
			"error": "task not found",
		}
	}

	return map[string]interface{}{
		"task_id":             metrics.TaskID,
		"total_executions":    metrics.TotalExecutions,
		"successful_runs":     metrics.SuccessfulRuns,
		"failed_runs":         metrics.FailedRuns,
		"samples_reported":    metrics.SamplesReported,
		"last_execution":      metrics.LastExecution,
		"last_success":        metrics.LastSuccess,
		"last_duration_ms":    metrics.LastDuration.Milliseconds(),
		"last_error":          metrics.LastError,
		"average_duration_ms": metrics.AverageDuration.Milliseconds(),
		"success_rate":        metrics.SuccessRate,
		"recent_executions":   len(metrics.RecentExecutions),
	}
}

// GetTaskExecutionMetrics returns a copy of the task's metrics
func (tm *TaskMonitor) GetTaskExecutionMetrics(taskID string) (*TaskExecutionMetrics, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	metrics, exists := tm.taskMetrics[taskID]
	if !exists {
		return nil, false
	}

	return copyMetrics(metrics), true
}

// GetAllTaskMetrics returns copies of every task's metrics
func (tm *TaskMonitor) GetAllTaskMetrics() map[string]*TaskExecutionMetrics {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	result := make(map[string]*TaskExecutionMetrics, len(tm.taskMetrics))
	for taskID, metrics := range tm.taskMetrics {
		result[taskID] = copyMetrics(metrics)
	}
	return result
}

func copyMetrics(metrics *TaskExecutionMetrics) *TaskExecutionMetrics {
	c := *metrics
	c.RecentExecutions = make([]ExecutionRecord, len(metrics.RecentExecutions))
	copy(c.RecentExecutions, metrics.RecentExecutions)
	return &c
}

// updateGlobalStats must be called with tm.mu held
func (tm *TaskMonitor) updateGlobalStats() {
	var executions, successes, failures int64
	for _, metrics := range tm.taskMetrics {
		executions += metrics.TotalExecutions
		successes += metrics.SuccessfulRuns
		failures += metrics.FailedRuns
	}

	tm.globalStats.TotalTasks = len(tm.taskMetrics)
	tm.globalStats.TotalExecutions = executions
	tm.globalStats.TotalSuccesses = successes
	tm.globalStats.TotalFailures = failures
	if executions > 0 {
		tm.globalStats.SuccessRate = float64(successes) / float64(executions)
	}
	tm.globalStats.LastUpdated = time.Now()
}
