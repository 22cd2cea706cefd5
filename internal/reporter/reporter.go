package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/collector"
)

// ReportStatus represents the status of a report attempt
type ReportStatus string

const (
	StatusSuccess ReportStatus = "success"
	StatusPartial ReportStatus = "partial" // at least one sink failed
	StatusFailed  ReportStatus = "failed"  // every sink failed
	StatusEmpty   ReportStatus = "empty"   // nothing to write
)

// SinkResult is the outcome of one sink's write
type SinkResult struct {
	Sink     string
	Written  int
	Resent   int
	Spooled  int // samples new to the spool
	Attempts int
	Error    error
}

// ReportResult contains the result of a report attempt
type ReportResult struct {
	Status   ReportStatus
	Samples  int
	Sinks    []SinkResult
	Duration time.Duration
}

// Options tunes the per-sink retry behaviour
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions returns the retry settings used in production
func DefaultOptions() Options {
	return Options{
		MaxRetries: 2,
		RetryDelay: 2 * time.Second,
	}
}

// Reporter writes samples to every sink and spools what could not be written
type Reporter struct {
	sinks   []Sink
	spool   *Spool
	options Options
	logger  *zap.Logger
	metrics *ReporterMetrics
	mu      sync.Mutex
}

// ReporterMetrics tracks reporting statistics
type ReporterMetrics struct {
	mu             sync.RWMutex
	totalReports   int64
	successReports int64
	failedReports  int64
	retryAttempts  int64
	samplesWritten int64
	samplesSpooled int64
	samplesEvicted int64
	lastReportTime time.Time
	lastError      string
}

// MetricsSnapshot is a copy of the reporter metrics
type MetricsSnapshot struct {
	TotalReports   int64     `json:"total_reports"`
	SuccessReports int64     `json:"success_reports"`
	FailedReports  int64     `json:"failed_reports"`
	RetryAttempts  int64     `json:"retry_attempts"`
	SamplesWritten int64     `json:"samples_written"`
	SamplesSpooled int64     `json:"samples_spooled"`
	SamplesEvicted int64     `json:"samples_evicted"`
	LastReportTime time.Time `json:"last_report_time"`
	LastError      string    `json:"last_error,omitempty"`
}

// NewReporter creates a reporter for sinks. spool may be nil to disable spooling.
func NewReporter(sinks []Sink, spool *Spool, options Options, logger *zap.Logger) *Reporter {
	return &Reporter{
		sinks:   sinks,
		spool:   spool,
		options: options,
		logger:  logger.With(zap.String("module", "reporter")),
		metrics: &ReporterMetrics{},
	}
}

// Start starts the spool
func (r *Reporter) Start(ctx context.Context) error {
	names := make([]string, 0, len(r.sinks))
	for _, sink := range r.sinks {
		names = append(names, sink.Name())
	}
	r.logger.Info("Starting reporter", zap.Strings("sinks", names))

	if r.spool != nil {
		if err := r.spool.Start(ctx); err != nil {
			return fmt.Errorf("failed to start spool: %w", err)
		}
	}
	return nil
}

// Stop persists the spool and closes every sink
func (r *Reporter) Stop() error {
	if r.spool != nil {
		r.spool.Stop()
	}

	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", sink.Name(), err))
		}
	}

	r.logger.Info("Reporter stopped")
	return errors.Join(errs...)
}

// Report writes samples to every sink, resending spooled samples first. A sink
// failure never stops the other sinks; the returned error joins all sink errors.
func (r *Reporter) Report(ctx context.Context, samples []collector.Sample) (*ReportResult, error) {
	// a cycle owns the spool until it is done
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	result := &ReportResult{Samples: len(samples)}

	var errs []error
	failed := 0
	attempted := 0
	for _, sink := range r.sinks {
		sr := r.reportToSink(ctx, sink, samples)
		result.Sinks = append(result.Sinks, sr)
		if sr.Attempts > 0 {
			attempted++
		}
		if sr.Error != nil {
			failed++
			errs = append(errs, fmt.Errorf("%s: %w", sr.Sink, sr.Error))
		}
	}

	result.Duration = time.Since(start)
	switch {
	case attempted == 0:
		result.Status = StatusEmpty
	case failed == 0:
		result.Status = StatusSuccess
	case failed == len(r.sinks):
		result.Status = StatusFailed
	default:
		result.Status = StatusPartial
	}

	err := errors.Join(errs...)
	r.updateMetrics(func(m *ReporterMetrics) {
		m.totalReports++
		m.lastReportTime = time.Now()
		for _, sr := range result.Sinks {
			m.samplesWritten += int64(sr.Written)
			m.samplesSpooled += int64(sr.Spooled)
			if sr.Attempts > 1 {
				m.retryAttempts += int64(sr.Attempts - 1)
			}
		}
		if err != nil {
			m.failedReports++
			m.lastError = err.Error()
		} else {
			m.successReports++
		}
	})

	return result, err
}

func (r *Reporter) reportToSink(ctx context.Context, sink Sink, samples []collector.Sample) SinkResult {
	sr := SinkResult{Sink: sink.Name()}

	var spooled []collector.Sample
	if r.spool != nil {
		spooled = r.spool.Peek(sink.Name())
	}
	sr.Resent = len(spooled)

	pending := make([]collector.Sample, 0, len(spooled)+len(samples))
	pending = append(pending, spooled...)
	pending = append(pending, samples...)

	if len(pending) == 0 {
		return sr
	}

	err := r.writeWithRetry(ctx, sink, pending, &sr)
	if err == nil {
		sr.Written = len(pending)
		if r.spool != nil {
			r.spool.Ack(sink.Name(), spooled)
		}
		if sr.Resent > 0 {
			r.logger.Info("Spooled samples re-sent",
				zap.String("sink", sink.Name()),
				zap.Int("samples", sr.Resent))
		}
		return sr
	}

	sr.Error = err
	if r.spool != nil {
		added, evicted := r.spool.Add(sink.Name(), pending, err)
		sr.Spooled = added
		r.updateMetrics(func(m *ReporterMetrics) {
			m.samplesEvicted += int64(evicted)
		})
	}

	r.logger.Error("Failed to write samples",
		zap.String("sink", sink.Name()),
		zap.Int("samples", len(pending)),
		zap.Int("spooled", sr.Spooled),
		zap.Error(err))
	return sr
}

// writeWithRetry writes with a linear backoff between attempts
func (r *Reporter) writeWithRetry(ctx context.Context, sink Sink, samples []collector.Sample, sr *SinkResult) error {
	maxRetries := r.options.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * r.options.RetryDelay
			r.logger.Debug("Retrying write",
				zap.String("sink", sink.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("write canceled after %d attempts: %w", attempt, lastErr)
			}
		}

		sr.Attempts++
		err := sink.Write(ctx, samples)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < maxRetries {
			r.logger.Warn("Write attempt failed, will retry",
				zap.String("sink", sink.Name()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetMetrics returns current reporting metrics
func (r *Reporter) GetMetrics() MetricsSnapshot {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	return MetricsSnapshot{
		TotalReports:   r.metrics.totalReports,
		SuccessReports: r.metrics.successReports,
		FailedReports:  r.metrics.failedReports,
		RetryAttempts:  r.metrics.retryAttempts,
		SamplesWritten: r.metrics.samplesWritten,
		SamplesSpooled: r.metrics.samplesSpooled,
		SamplesEvicted: r.metrics.samplesEvicted,
		LastReportTime: r.metrics.lastReportTime,
		LastError:      r.metrics.lastError,
	}
}

// Pending returns the number of spooled samples waiting for the next report
func (r *Reporter) Pending() int {
	if r.spool == nil {
		return 0
	}
	return r.spool.Len()
}

// GetSpoolStats returns spool statistics; the zero value when spooling is off
func (r *Reporter) GetSpoolStats() SpoolStats {
	if r.spool == nil {
		return SpoolStats{}
	}
	return r.spool.GetStats()
}

// updateMetrics safely updates metrics
func (r *Reporter) updateMetrics(update func(*ReporterMetrics)) {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()
	update(r.metrics)
}
