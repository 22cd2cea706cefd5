package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/collector"
)

const spoolFile = "spool.json"

// SpoolEntry is a sample that a sink failed to write
type SpoolEntry struct {
	Sink      string           `json:"sink"`
	Sample    collector.Sample `json:"sample"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	LastTry   time.Time        `json:"last_try"`
	CreatedAt time.Time        `json:"created_at"`
}

// SpoolStats contains spool statistics
type SpoolStats struct {
	Size        int
	PerSink     map[string]int
	Expired     int
	Evicted     int64
	Oldest      time.Time
	LastCleanup time.Time
}

// Spool keeps failed samples per sink with an age and entry-count bound, and
// persists them to disk across restarts.
type Spool struct {
	dir         string
	maxEntries  int
	maxAge      time.Duration
	cleanupFreq time.Duration
	entries     map[string]*SpoolEntry
	evicted     int64
	lastCleanup time.Time
	mutex       sync.RWMutex
	logger      *zap.Logger
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	now         func() time.Time
}

// NewSpool creates a spool. A maxEntries of zero disables spooling.
func NewSpool(dir string, maxEntries int, maxAge time.Duration, logger *zap.Logger) *Spool {
	return &Spool{
		dir:         dir,
		maxEntries:  maxEntries,
		maxAge:      maxAge,
		cleanupFreq: 5 * time.Minute,
		entries:     make(map[string]*SpoolEntry),
		logger:      logger.With(zap.String("module", "spool")),
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
}

// Start loads persisted entries and starts the background cleanup routine
func (s *Spool) Start(ctx context.Context) error {
	s.logger.Info("Starting spool",
		zap.String("dir", s.dir),
		zap.Int("max_entries", s.maxEntries),
		zap.Duration("max_age", s.maxAge))

	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return fmt.Errorf("failed to create spool directory: %w", err)
		}
		if err := s.load(); err != nil {
			s.logger.Warn("Failed to load persisted spool", zap.Error(err))
		}
	}

	s.wg.Add(1)
	go s.cleanupRoutine(ctx)

	return nil
}

// Stop stops the cleanup routine and persists the spool to disk
func (s *Spool) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()

	if err := s.persist(); err != nil {
		s.logger.Error("Failed to persist spool", zap.Error(err))
	}

	s.logger.Info("Spool stopped", zap.Int("entries", s.Len()))
}

func entryID(sink string, sample collector.Sample) string {
	return sink + "|" + sample.Key()
}

// Add spools samples that sink failed to write. Samples already spooled keep
// their age and count one more attempt. It returns the number of new entries and
// the number of entries evicted to respect the entry bound.
func (s *Spool) Add(sink string, samples []collector.Sample, cause error) (added, evicted int) {
	if s.maxEntries == 0 || len(samples) == 0 {
		return 0, 0
	}

	now := s.now()
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, sample := range samples {
		id := entryID(sink, sample)
		if existing, ok := s.entries[id]; ok {
			existing.Attempts++
			existing.LastTry = now
			existing.LastError = lastErr
			existing.Sample = sample
			continue
		}
		s.entries[id] = &SpoolEntry{
			Sink:      sink,
			Sample:    sample,
			Attempts:  1,
			LastError: lastErr,
			LastTry:   now,
			CreatedAt: now,
		}
		added++
	}

	return added, s.enforceLimit()
}

// Peek returns the spooled samples of sink, oldest first, without removing
// them. Expired entries are dropped.
func (s *Spool) Peek(sink string) []collector.Sample {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	var pending []*SpoolEntry
	for id, entry := range s.entries {
		if entry.Sink != sink {
			continue
		}
		if s.expired(entry, now) {
			delete(s.entries, id)
			s.evicted++
			continue
		}
		pending = append(pending, entry)
	}

	sortEntries(pending)

	samples := make([]collector.Sample, 0, len(pending))
	for _, entry := range pending {
		samples = append(samples, entry.Sample)
	}
	return samples
}

// Ack removes samples that sink has written
func (s *Spool) Ack(sink string, samples []collector.Sample) {
	if len(samples) == 0 {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, sample := range samples {
		delete(s.entries, entryID(sink, sample))
	}
}

// Len returns the number of spooled entries
func (s *Spool) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

// GetStats returns spool statistics
func (s *Spool) GetStats() SpoolStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := SpoolStats{
		Size:        len(s.entries),
		PerSink:     make(map[string]int),
		Evicted:     s.evicted,
		LastCleanup: s.lastCleanup,
	}

	now := s.now()
	for _, entry := range s.entries {
		stats.PerSink[entry.Sink]++
		if s.expired(entry, now) {
			stats.Expired++
		}
		if stats.Oldest.IsZero() || entry.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = entry.CreatedAt
		}
	}

	return stats
}

// Clear removes all entries from the spool
func (s *Spool) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries = make(map[string]*SpoolEntry)
}

func (s *Spool) expired(entry *SpoolEntry, now time.Time) bool {
	return s.maxAge > 0 && now.Sub(entry.CreatedAt) > s.maxAge
}

// cleanupRoutine periodically drops expired entries
func (s *Spool) cleanupRoutine(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

// cleanup removes expired entries and enforces the entry bound
func (s *Spool) cleanup() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	now := s.now()

	for id, entry := range s.entries {
		if s.expired(entry, now) {
			delete(s.entries, id)
			removed++
		}
	}
	s.evicted += int64(removed)

	removed += s.enforceLimit()
	s.lastCleanup = now

	if removed > 0 {
		s.logger.Debug("Spool cleanup completed",
			zap.Int("removed_entries", removed),
			zap.Int("remaining_entries", len(s.entries)))
	}
}

// enforceLimit evicts the oldest entries until the bound holds. Callers hold the lock.
func (s *Spool) enforceLimit() int {
	if s.maxEntries < 0 || len(s.entries) <= s.maxEntries {
		return 0
	}

	entries := make([]*SpoolEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sortEntries(entries)

	excess := len(entries) - s.maxEntries
	for _, entry := range entries[:excess] {
		delete(s.entries, entryID(entry.Sink, entry.Sample))
	}
	s.evicted += int64(excess)

	s.logger.Warn("Spool full, evicted oldest entries",
		zap.Int("evicted", excess),
		zap.Int("max_entries", s.maxEntries))
	return excess
}

// sortEntries orders entries oldest first, then by sample time.
func sortEntries(entries []*SpoolEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		if !entries[i].Sample.Timestamp.Equal(entries[j].Sample.Timestamp) {
			return entries[i].Sample.Timestamp.Before(entries[j].Sample.Timestamp)
		}
		return entryID(entries[i].Sink, entries[i].Sample) < entryID(entries[j].Sink, entries[j].Sample)
	})
}

type persistedSpool struct {
	Entries   []*SpoolEntry `json:"entries"`
	Timestamp time.Time     `json:"timestamp"`
}

// persist saves the spool to disk
func (s *Spool) persist() error {
	if s.dir == "" {
		return nil
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	file := filepath.Join(s.dir, spoolFile)

	if len(s.entries) == 0 {
		_ = os.Remove(file)
		return nil
	}

	entries := make([]*SpoolEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sortEntries(entries)

	data, err := json.MarshalIndent(persistedSpool{Entries: entries, Timestamp: s.now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal spool: %w", err)
	}

	tempFile := file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write spool file: %w", err)
	}

	if err := os.Rename(tempFile, file); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename spool file: %w", err)
	}

	s.logger.Debug("Spool persisted to disk",
		zap.String("file", file),
		zap.Int("entries", len(entries)))

	return nil
}

// load reads the persisted spool, skipping expired entries
func (s *Spool) load() error {
	file := filepath.Join(s.dir, spoolFile)

	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read spool file: %w", err)
	}

	var persisted persistedSpool
	if err := json.Unmarshal(data, &persisted); err != nil {
		return fmt.Errorf("failed to unmarshal spool: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	loaded := 0
	for _, entry := range persisted.Entries {
		if entry == nil || s.expired(entry, now) {
			continue
		}
		s.entries[entryID(entry.Sink, entry.Sample)] = entry
		loaded++
	}
	s.enforceLimit()

	s.logger.Info("Spool loaded from disk",
		zap.Int("loaded_entries", loaded),
		zap.Int("total_entries", len(persisted.Entries)))

	return nil
}
