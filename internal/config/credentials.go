package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Credentials Easee account login
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CredentialSourceEnv is reported by Source when USERNAME and PASSWORD are both set.
const CredentialSourceEnv = "env"

// CredentialStore resolves the Easee account credentials. USERNAME/PASSWORD take precedence;
// otherwise the credentials file is read on first use and cached until it changes on disk.
type CredentialStore struct {
	mu        sync.RWMutex
	env       *Credentials
	filePath  string
	cached    *Credentials
	watcher   *fsnotify.Watcher
	callbacks []func()
	debounce  time.Duration
	logger    *zap.Logger
}

// NewCredentialStore creates a store for the given Easee settings
func NewCredentialStore(cfg EaseeConfig, logger *zap.Logger) *CredentialStore {
	s := &CredentialStore{
		filePath: cfg.CredentialsFile,
		debounce: 500 * time.Millisecond,
		logger:   logger,
	}
	if cfg.Username != "" && cfg.Password != "" {
		s.env = &Credentials{Username: cfg.Username, Password: cfg.Password}
	}
	return s
}

// Source returns "env" or the credentials file path.
func (s *CredentialStore) Source() string {
	if s.env != nil {
		return CredentialSourceEnv
	}
	return s.filePath
}

// Get returns the current credentials.
func (s *CredentialStore) Get() (Credentials, error) {
	if s.env != nil {
		return *s.env, nil
	}

	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	creds, err := ReadCredentialsFile(s.filePath)
	if err != nil {
		return Credentials{}, err
	}

	s.mu.Lock()
	s.cached = creds
	s.mu.Unlock()

	s.logger.Info("Credentials loaded from file", zap.String("path", s.filePath))
	return *creds, nil
}

// Invalidate drops the cached file credentials so the next Get re-reads the file.
func (s *CredentialStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Subscribe registers a callback run after the credentials file changed.
func (s *CredentialStore) Subscribe(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// Watch starts watching the directory holding the credentials file. Mounted secrets are
// usually replaced through a symlink swap, so the directory is watched rather than the file.
// It is a no-op when the credentials come from the environment.
func (s *CredentialStore) Watch(ctx context.Context) error {
	if s.env != nil || s.filePath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch credentials directory %s: %w", dir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	s.logger.Debug("Watching credentials file", zap.String("path", s.filePath))
	go s.handleFileChanges(ctx, watcher)
	return nil
}

func (s *CredentialStore) handleFileChanges(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// coalesce bursts from editors and atomic writers
			debounce = time.After(s.debounce)
		case <-debounce:
			debounce = nil
			s.Invalidate()
			s.logger.Info("Credentials file changed", zap.String("path", s.filePath))
			s.notifySubscribers()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("Credentials watcher error", zap.Error(err))
		}
	}
}

func (s *CredentialStore) notifySubscribers() {
	s.mu.RLock()
	callbacks := make([]func(), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.RUnlock()

	for _, callback := range callbacks {
		callback()
	}
}

// Close stops the watcher
func (s *CredentialStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

// ReadCredentialsFile parses a YAML (or JSON) file with username and password keys.
func ReadCredentialsFile(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeFile, "CREDENTIALS_FILE", "cannot be read", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, NewErrorWithCause(ErrorTypeFormat, "CREDENTIALS_FILE", "is not valid YAML or JSON", err)
	}

	if creds.Username == "" || creds.Password == "" {
		return nil, NewErrorWithField(ErrorTypeValidation, "CREDENTIALS_FILE", "must contain username and password", path)
	}

	return &creds, nil
}
