package reporter

import (
	"context"

	"github.com/kubejarvis/easee-status/internal/collector"
)

// Sink is a destination for samples
type Sink interface {
	// Name identifies the sink in logs, metrics and the spool
	Name() string

	// Write stores every sample or returns an error; partial writes are retried as a whole.
	Write(ctx context.Context, samples []collector.Sample) error

	// Close releases the sink's connections
	Close() error
}
