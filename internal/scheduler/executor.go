package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/collector"
	"github.com/kubejarvis/easee-status/internal/reporter"
)

// Reporter delivers the samples of a cycle
type Reporter interface {
	Report(ctx context.Context, samples []collector.Sample) (*reporter.ReportResult, error)
	// Pending returns the number of samples waiting to be re-sent
	Pending() int
}

// CycleSummary describes what one cycle collected and delivered
type CycleSummary struct {
	Collected int
	Skipped   int
	Failed    int
	Samples   int
	Report    *reporter.ReportResult
}

// CycleExecutor runs the task's collectors and hands their samples to the reporter
type CycleExecutor struct {
	registry collector.Registry
	reporter Reporter
	logger   *zap.Logger
}

// NewCycleExecutor creates a new cycle executor
func NewCycleExecutor(registry collector.Registry, reporter Reporter, logger *zap.Logger) *CycleExecutor {
	return &CycleExecutor{
		registry: registry,
		reporter: reporter,
		logger:   logger.With(zap.String("module", "executor")),
	}
}

// Execute collects from every collector of the task and reports the samples.
// A failing collector does not stop the others; whatever was collected is
// still reported.
func (e *CycleExecutor) Execute(ctx context.Context, task *Task) (*Result, error) {
	start := time.Now()
	e.logger.Debug("Executing cycle",
		zap.String("task_id", task.ID),
		zap.Duration("timeout", task.Timeout))

	collectors, err := e.getCollectorsForTask(task)
	if err != nil {
		return nil, err
	}

	summary := &CycleSummary{}
	var samples []collector.Sample
	var errs []error

	for _, coll := range collectors {
		result, err := e.executeCollector(ctx, coll)
		if err != nil {
			summary.Failed++
			errs = append(errs, fmt.Errorf("collector %s: %w", coll.Name(), err))
			e.logger.Error("Collector execution failed",
				zap.String("collector", coll.Name()),
				zap.Error(err))
			continue
		}

		if result.Skipped {
			summary.Skipped++
			e.logger.Debug("Collector skipped",
				zap.String("collector", coll.Name()),
				zap.String("reason", result.Reason))
			continue
		}

		summary.Collected++
		samples = append(samples, result.Samples...)
	}
	summary.Samples = len(samples)

	// spooled samples go out even when nothing new was collected
	if len(samples) > 0 || e.reporter.Pending() > 0 {
		report, err := e.reporter.Report(ctx, samples)
		summary.Report = report
		if err != nil {
			errs = append(errs, fmt.Errorf("report: %w", err))
		}
	}

	result := &Result{
		TaskID:    task.ID,
		Success:   len(errs) == 0,
		Summary:   summary,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}

	if err := errors.Join(errs...); err != nil {
		result.Error = err
		return result, err
	}

	e.logger.Info("Cycle completed",
		zap.String("task_id", task.ID),
		zap.Int("samples", summary.Samples),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// getCollectorsForTask resolves the task's collectors; all registered ones when none are named
func (e *CycleExecutor) getCollectorsForTask(task *Task) ([]collector.Collector, error) {
	if len(task.Collectors) == 0 {
		collectors := e.registry.List()
		if len(collectors) == 0 {
			return nil, errors.New("no collectors registered")
		}
		return collectors, nil
	}

	collectors := make([]collector.Collector, 0, len(task.Collectors))
	for _, name := range task.Collectors {
		coll, err := e.registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}
		collectors = append(collectors, coll)
	}
	return collectors, nil
}

// executeCollector executes a single collector with its own timeout
func (e *CycleExecutor) executeCollector(ctx context.Context, coll collector.Collector) (*collector.Result, error) {
	if timeout := coll.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return coll.Collect(ctx)
}
