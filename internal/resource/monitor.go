package resource

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// DefaultUpdateInterval is how often the process is sampled
const DefaultUpdateInterval = 15 * time.Second

// Monitor samples the CPU and memory usage of the running process
type Monitor struct {
	mu             sync.RWMutex
	logger         *zap.Logger
	process        *process.Process
	startTime      time.Time
	snapshot       Snapshot
	peakMemory     uint64
	updateInterval time.Duration
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// Snapshot is the latest resource sample
type Snapshot struct {
	PID           int32         `json:"pid"`
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryBytes   uint64        `json:"memory_bytes"`
	MemoryPercent float64       `json:"memory_percent"`
	Goroutines    int           `json:"goroutines"`
	Uptime        time.Duration `json:"uptime"`
	Timestamp     time.Time     `json:"timestamp"`
}

// NewMonitor creates a monitor for the current process and takes a first sample
func NewMonitor(logger *zap.Logger, updateInterval time.Duration) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get current process: %w", err)
	}

	if updateInterval <= 0 {
		updateInterval = DefaultUpdateInterval
	}

	m := &Monitor{
		logger:         logger.With(zap.String("module", "resource")),
		process:        proc,
		startTime:      time.Now(),
		updateInterval: updateInterval,
		stopChan:       make(chan struct{}),
	}

	if err := m.update(); err != nil {
		m.logger.Warn("Failed to initialize resource metrics", zap.Error(err))
	}

	return m, nil
}

// Start samples the process until ctx is done or Stop is called
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Debug("Starting resource monitor", zap.Duration("interval", m.updateInterval))

	ticker := time.NewTicker(m.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopChan:
			return nil
		case <-ticker.C:
			if err := m.update(); err != nil {
				m.logger.Error("Failed to update resource metrics", zap.Error(err))
			}
		}
	}
}

// Stop ends Start
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

func (m *Monitor) update() error {
	cpuPercent, err := m.process.CPUPercent()
	if err != nil {
		return fmt.Errorf("failed to get CPU percent: %w", err)
	}

	memInfo, err := m.process.MemoryInfo()
	if err != nil {
		return fmt.Errorf("failed to get memory info: %w", err)
	}

	var memPercent float64
	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat.Total > 0 {
		memPercent = float64(memInfo.RSS) / float64(vmStat.Total) * 100
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = Snapshot{
		PID:           m.process.Pid,
		CPUPercent:    cpuPercent,
		MemoryBytes:   memInfo.RSS,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Uptime:        now.Sub(m.startTime),
		Timestamp:     now,
	}
	if memInfo.RSS > m.peakMemory {
		m.peakMemory = memInfo.RSS
	}

	return nil
}

// Current returns the latest snapshot with uptime and goroutines as of now
func (m *Monitor) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.Uptime = time.Since(m.startTime)
	s.Goroutines = runtime.NumGoroutine()
	return s
}

// Uptime returns how long the monitor has been running
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// LogSummary writes the resource usage of the whole run, used at shutdown
func (m *Monitor) LogSummary() {
	if err := m.update(); err != nil {
		m.logger.Debug("Failed to refresh resource metrics", zap.Error(err))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	m.logger.Info("Resource usage summary",
		zap.Duration("uptime", time.Since(m.startTime)),
		zap.Float64("cpu_percent", m.snapshot.CPUPercent),
		zap.Uint64("memory_bytes", m.snapshot.MemoryBytes),
		zap.Uint64("peak_memory_bytes", m.peakMemory))
}
