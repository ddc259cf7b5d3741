// Package session manages per-execution auth sessions and their token
// lifecycle. Concurrent refreshes of one session are serialized: exactly one
// caller refreshes, the rest fail with ErrConflictingRefresh.
package session

import (
	"sync"
	"time"
)

// Session is one authenticated client session bound to an execution.
type Session struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	UserID      string    `json:"user_id"`
	Token       string    `json:"token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`

	mu         sync.Mutex
	refreshing bool
}

// Expired reports whether the session token is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.ExpiresAt)
}

// Clone creates a safe copy of the session for reading.
func (s *Session) Clone() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Session{
		ID:          s.ID,
		ExecutionID: s.ExecutionID,
		UserID:      s.UserID,
		Token:       s.Token,
		IssuedAt:    s.IssuedAt,
		ExpiresAt:   s.ExpiresAt,
		RefreshedAt: s.RefreshedAt,
	}
}

// beginRefresh claims the refresh slot. Returns false when another refresh
// is already in flight.
func (s *Session) beginRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshing {
		return false
	}
	s.refreshing = true
	return true
}

// completeRefresh installs the new token and releases the refresh slot.
func (s *Session) completeRefresh(token string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.Token = token
	s.RefreshedAt = now
	s.ExpiresAt = now.Add(ttl)
	s.refreshing = false
}

// abortRefresh releases the refresh slot without changing the token.
func (s *Session) abortRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing = false
}
