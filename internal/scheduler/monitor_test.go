package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTaskMonitor(t *testing.T) {
	monitor := NewTaskMonitor()
	if monitor == nil {
		t.Fatal("NewTaskMonitor should not return nil")
	}

	if monitor.taskMetrics == nil {
		t.Error("taskMetrics should be initialized")
	}

	if monitor.globalStats == nil {
		t.Error("globalStats should be initialized")
	}
}

func TestTaskMonitor_Record(t *testing.T) {
	monitor := NewTaskMonitor()
	ctx := context.Background()

	successResult := &Result{
		TaskID:    "easee",
		Success:   true,
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
		Summary:   &CycleSummary{Collected: 1, Samples: 6},
	}

	if err := monitor.Record(ctx, successResult); err != nil {
		t.Errorf("Record should not return error, got: %v", err)
	}

	metrics := monitor.GetTaskMetrics("easee")
	if metrics["task_id"] != "easee" {
		t.Errorf("Expected task_id to be 'easee', got: %v", metrics["task_id"])
	}

	if metrics["total_executions"] != int64(1) {
		t.Errorf("Expected total_executions to be 1, got: %v", metrics["total_executions"])
	}

	if metrics["samples_reported"] != int64(6) {
		t.Errorf("Expected samples_reported to be 6, got: %v", metrics["samples_reported"])
	}

	failedResult := &Result{
		TaskID:    "easee",
		Success:   false,
		Duration:  300 * time.Millisecond,
		Timestamp: time.Now(),
		Error:     errors.New("login failed"),
	}

	if err := monitor.Record(ctx, failedResult); err != nil {
		t.Errorf("Record should not return error, got: %v", err)
	}

	metrics = monitor.GetTaskMetrics("easee")
	if metrics["total_executions"] != int64(2) {
		t.Errorf("Expected total_executions to be 2, got: %v", metrics["total_executions"])
	}

	if metrics["failed_runs"] != int64(1) {
		t.Errorf("Expected failed_runs to be 1, got: %v", metrics["failed_runs"])
	}

	if metrics["success_rate"] != 0.5 {
		t.Errorf("Expected success_rate to be 0.5, got: %v", metrics["success_rate"])
	}

	if metrics["last_error"] != "login failed" {
		t.Errorf("Expected last_error to be 'login failed', got: %v", metrics["last_error"])
	}

	if metrics["average_duration_ms"] != int64(200) {
		t.Errorf("Expected average_duration_ms to be 200, got: %v", metrics["average_duration_ms"])
	}

	// a failed cycle does not count its samples
	if metrics["samples_reported"] != int64(6) {
		t.Errorf("Expected samples_reported to stay 6, got: %v", metrics["samples_reported"])
	}
}

func TestTaskMonitor_RecentExecutionsAreBounded(t *testing.T) {
	monitor := NewTaskMonitor()

	for i := 0; i < recentLimit+5; i++ {
		_ = monitor.Record(context.Background(), &Result{
			TaskID:    "easee",
			Success:   true,
			Duration:  time.Duration(i) * time.Millisecond,
			Timestamp: time.Now(),
		})
	}

	metrics, ok := monitor.GetTaskExecutionMetrics("easee")
	if !ok {
		t.Fatal("expected metrics for easee")
	}

	if len(metrics.RecentExecutions) != recentLimit {
		t.Errorf("Expected %d recent executions, got: %d", recentLimit, len(metrics.RecentExecutions))
	}

	// oldest records are dropped first
	if metrics.RecentExecutions[0].Duration != 5*time.Millisecond {
		t.Errorf("Expected oldest kept record to be the 6th, got duration %v", metrics.RecentExecutions[0].Duration)
	}
}

func TestTaskMonitor_GetMetrics(t *testing.T) {
	monitor := NewTaskMonitor()
	ctx := context.Background()

	results := []*Result{
		{TaskID: "easee", Success: true, Duration: 100 * time.Millisecond, Timestamp: time.Now()},
		{TaskID: "backfill", Success: false, Duration: 200 * time.Millisecond, Timestamp: time.Now()},
		{TaskID: "easee", Success: true, Duration: 150 * time.Millisecond, Timestamp: time.Now()},
	}

	for _, result := range results {
		if err := monitor.Record(ctx, result); err != nil {
			t.Errorf("Record should not return error, got: %v", err)
		}
	}

	globalMetrics := monitor.GetMetrics()
	if globalMetrics["total_tasks"] != 2 {
		t.Errorf("Expected total_tasks to be 2, got: %v", globalMetrics["total_tasks"])
	}

	if globalMetrics["total_executions"] != int64(3) {
		t.Errorf("Expected total_executions to be 3, got: %v", globalMetrics["total_executions"])
	}

	if globalMetrics["total_successes"] != int64(2) {
		t.Errorf("Expected total_successes to be 2, got: %v", globalMetrics["total_successes"])
	}

	if globalMetrics["total_failures"] != int64(1) {
		t.Errorf("Expected total_failures to be 1, got: %v", globalMetrics["total_failures"])
	}
}

func TestTaskMonitor_GetTaskMetrics_NotFound(t *testing.T) {
	monitor := NewTaskMonitor()
	metrics := monitor.GetTaskMetrics("non-existent-task")

	if metrics["error"] != "task not found" {
		t.Errorf("Expected error message for non-existent task, got: %v", metrics["error"])
	}

	if _, ok := monitor.GetTaskExecutionMetrics("non-existent-task"); ok {
		t.Error("GetTaskExecutionMetrics should return false for unknown task")
	}
}

func TestTaskMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewTaskMonitor()
	ctx := context.Background()

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = monitor.Record(ctx, &Result{
				TaskID:    "easee",
				Success:   i%2 == 0,
				Duration:  time.Duration(i) * time.Millisecond,
				Timestamp: time.Now(),
			})
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = monitor.GetTaskMetrics("easee")
			_ = monitor.GetMetrics()
			_ = monitor.GetAllTaskMetrics()
		}
		done <- true
	}()

	<-done
	<-done

	metrics := monitor.GetTaskMetrics("easee")
	if metrics["total_executions"] != int64(100) {
		t.Errorf("Expected total_executions to be 100, got: %v", metrics["total_executions"])
	}
}

func TestTaskMonitor_GetAllTaskMetrics(t *testing.T) {
	monitor := NewTaskMonitor()
	ctx := context.Background()

	results := []*Result{
		{TaskID: "task-1", Success: true, Duration: 100 * time.Millisecond, Timestamp: time.Now()},
		{TaskID: "task-2", Success: false, Duration: 200 * time.Millisecond, Timestamp: time.Now()},
		{TaskID: "task-3", Success: true, Duration: 300 * time.Millisecond, Timestamp: time.Now()},
	}

	for _, result := range results {
		_ = monitor.Record(ctx, result)
	}

	allMetrics := monitor.GetAllTaskMetrics()
	if len(allMetrics) != 3 {
		t.Errorf("Expected 3 tasks in metrics, got: %d", len(allMetrics))
	}

	for taskID, metrics := range allMetrics {
		if metrics.TaskID != taskID {
			t.Errorf("Expected TaskID %s, got: %s", taskID, metrics.TaskID)
		}
	}

	// copies do not alias the monitor's state
	allMetrics["task-1"].RecentExecutions[0].Success = false
	again, _ := monitor.GetTaskExecutionMetrics("task-1")
	if !again.RecentExecutions[0].Success {
		t.Error("modifying a copy should not change the monitor")
	}
}
