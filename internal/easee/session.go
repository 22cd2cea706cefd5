package easee

import (
	"sync"
	"time"
)

// SessionState describes what the next request has to do before it can be sent.
type SessionState int

const (
	SessionEmpty   SessionState = iota // no token, login required
	SessionValid                       // token can be reused
	SessionExpired                     // token expired, refresh required
)

func (s SessionState) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionExpired:
		return "expired"
	default:
		return "empty"
	}
}

// Session holds the API tokens shared by every request of a Client.
type Session struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	now          func() time.Time
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{now: time.Now}
}

// State reports whether the session is empty, valid or expired.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.accessToken == "" {
		return SessionEmpty
	}
	if s.now().Before(s.expiresAt) {
		return SessionValid
	}
	return SessionExpired
}

// AccessToken returns the current access token, which may be empty.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// ExpiresAt returns the expiry instant of the access token.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

func (s *Session) tokens() (access, refresh string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, s.refreshToken
}

func (s *Session) set(t tokenResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = *t.AccessToken
	s.refreshToken = *t.RefreshToken
	s.expiresAt = s.now().Add(time.Duration(*t.ExpiresIn) * time.Second)
}

// Clear forgets the tokens so the next request logs in again.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
}
