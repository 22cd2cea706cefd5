package collector

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Sample is a single value bound for the sinks
type Sample struct {
	Measurement string            `json:"measurement"`
	Tags        map[string]string `json:"tags"`
	Value       float64           `json:"value"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Key identifies the sample's series and instant.
func (s Sample) Key() string {
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(s.Measurement)
	for _, k := range keys {
		sb.WriteByte(',')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(s.Tags[k])
	}
	sb.WriteByte('@')
	sb.WriteString(s.Timestamp.UTC().Format(time.RFC3339Nano))
	return sb.String()
}

// Result represents the result of a collection operation
type Result struct {
	Collector string
	Samples   []Sample
	Skipped   bool
	Reason    string
	Duration  time.Duration
}

// Collector defines the interface for all sample collectors
type Collector interface {
	// Name returns the collector's unique identifier
	Name() string

	// Collect performs the collection
	Collect(ctx context.Context) (*Result, error)

	// Timeout returns the recommended timeout for this collector
	Timeout() time.Duration
}

// Registry manages collector registration and lookup
type Registry interface {
	// Register adds a new collector to the registry
	Register(collector Collector) error

	// Get retrieves a collector by name
	Get(name string) (Collector, error)

	// List returns all registered collectors ordered by name
	List() []Collector
}

// collectorRegistry implements the Registry interface
type collectorRegistry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewRegistry creates a new collector registry
func NewRegistry() Registry {
	return &collectorRegistry{
		collectors: make(map[string]Collector),
	}
}

// Register adds a new collector to the registry
func (r *collectorRegistry) Register(collector Collector) error {
	if collector == nil {
		return errors.New("collector cannot be nil")
	}

	name := collector.Name()
	if name == "" {
		return errors.New("collector name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.collectors[name]; exists {
		return errors.New("collector already registered: " + name)
	}

	r.collectors[name] = collector
	return nil
}

// Get retrieves a collector by name
func (r *collectorRegistry) Get(name string) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	collector, exists := r.collectors[name]
	if !exists {
		return nil, errors.New("collector not found: " + name)
	}

	return collector, nil
}

// List returns all registered collectors ordered by name
func (r *collectorRegistry) List() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Collector, 0, len(r.collectors))
	for _, collector := range r.collectors {
		list = append(list, collector)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })

	return list
}
