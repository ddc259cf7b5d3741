package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrConflictingRefresh is returned when another refresh of the same session
// is already in flight. The caller should retry with the token the winning
// refresh installed.
var ErrConflictingRefresh = errors.New("conflicting session refresh in progress")

// ErrTokenMismatch is returned by Validate when the presented token does not
// match the session's current token.
var ErrTokenMismatch = errors.New("session token mismatch")

// NotFoundError indicates an unknown session ID.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// IsNotFound reports whether err is a session NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// TokenFunc mints a new session token. It may block (e.g. a call to an
// external identity provider) and must honor ctx cancellation.
type TokenFunc func(ctx context.Context) (string, error)

func defaultTokenFunc(context.Context) (string, error) {
	return uuid.New().String(), nil
}

// Manager manages sessions in memory.
type Manager struct {
	ttl      time.Duration
	mintFn   TokenFunc
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenFunc replaces the built-in token minting.
func WithTokenFunc(fn TokenFunc) Option {
	return func(m *Manager) { m.mintFn = fn }
}

// NewManager creates a session manager issuing tokens valid for ttl.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		ttl:      ttl,
		mintFn:   defaultTokenFunc,
		logger:   slog.With("component", "session_manager"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create issues a new session for the execution.
func (m *Manager) Create(ctx context.Context, executionID, userID string) (*Session, error) {
	token, err := m.mintFn(ctx)
	if err != nil {
		return nil, fmt.Errorf("minting session token: %w", err)
	}

	now := time.Now()
	session := &Session{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		UserID:      userID,
		Token:       token,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.logger.Debug("Session created",
		"session_id", session.ID, "execution_id", executionID, "user_id", userID)
	return session, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, &NotFoundError{SessionID: sessionID}
	}
	return session, nil
}

// Refresh replaces the session's token. When refreshes race on the same
// session, exactly one performs the mint; the rest return
// ErrConflictingRefresh without touching the token.
func (m *Manager) Refresh(ctx context.Context, sessionID string) (string, error) {
	session, err := m.Get(sessionID)
	if err != nil {
		return "", err
	}

	if !session.beginRefresh() {
		return "", ErrConflictingRefresh
	}

	token, err := m.mintFn(ctx)
	if err != nil {
		session.abortRefresh()
		return "", fmt.Errorf("minting session token: %w", err)
	}

	session.completeRefresh(token, m.ttl)
	m.logger.Debug("Session refreshed", "session_id", sessionID)
	return token, nil
}

// Validate checks that token is the session's current, unexpired token and
// returns the owning user ID.
func (m *Manager) Validate(sessionID, token string) (string, error) {
	session, err := m.Get(sessionID)
	if err != nil {
		return "", err
	}

	snapshot := session.Clone()
	if snapshot.Token != token || time.Now().After(snapshot.ExpiresAt) {
		return "", ErrTokenMismatch
	}
	return snapshot.UserID, nil
}

// Delete removes a session.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return &NotFoundError{SessionID: sessionID}
	}
	delete(m.sessions, sessionID)
	return nil
}

// DeleteByExecution removes every session bound to the execution. Returns
// the number removed.
func (m *Manager) DeleteByExecution(executionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.ExecutionID == executionID {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
