package scheduler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kubejarvis/easee-status/internal/collector"
	"github.com/kubejarvis/easee-status/internal/reporter"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, task *Task) (*Result, error) {
	args := m.Called(ctx, task)
	result, _ := args.Get(0).(*Result)
	return result, args.Error(1)
}

type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Record(ctx context.Context, result *Result) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *MockMonitor) GetMetrics() map[string]interface{} {
	args := m.Called()
	metrics, _ := args.Get(0).(map[string]interface{})
	return metrics
}

func (m *MockMonitor) GetTaskMetrics(taskID string) map[string]interface{} {
	args := m.Called(taskID)
	metrics, _ := args.Get(0).(map[string]interface{})
	return metrics
}

type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Report(ctx context.Context, samples []collector.Sample) (*reporter.ReportResult, error) {
	args := m.Called(ctx, samples)
	result, _ := args.Get(0).(*reporter.ReportResult)
	return result, args.Error(1)
}

func (m *MockReporter) Pending() int {
	args := m.Called()
	return args.Int(0)
}
