package service

import (
	"sync"
	"time"
)

// Authentication methods recorded on a Session.
const (
	MethodToken    = "token"
	MethodPassword = "password"
)

// AuthResult is the outcome of one authentication step. A result with Done unset is
// pending: the next credential check for the same username consumes it.
type AuthResult struct {
	UserID   int64
	Username string
	Method   string
	At       time.Time
	Done     bool
}

func (r AuthResult) completed() AuthResult {
	r.Done = true
	return r
}

// Session is request or login scoped authentication state. The zero value is ready to use
// and every method is safe on a nil receiver.
type Session struct {
	mu     sync.Mutex
	result *AuthResult
}

// NewSession returns an empty session.
func NewSession() *Session { return &Session{} }

// Current returns the completed authentication, if any.
func (s *Session) Current() (AuthResult, bool) {
	if s == nil {
		return AuthResult{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil || !s.result.Done {
		return AuthResult{}, false
	}
	return *s.result, true
}

func (s *Session) set(r AuthResult) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = &r
}

// take removes and returns a pending result.
func (s *Session) take() (AuthResult, bool) {
	if s == nil {
		return AuthResult{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil || s.result.Done {
		return AuthResult{}, false
	}
	r := *s.result
	s.result = nil
	return r, true
}

func (s *Session) clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = nil
}
