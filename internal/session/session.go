// Package session tracks short-lived conversational sessions.
//
// A user has at most one active session at a time. Each message extends
// the session's expiry by the configured timeout; a session that sees no
// activity for that long expires and the next message opens a new one.
// Sessions are deactivated, never deleted, so their turns remain
// queryable.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is the idle period after which a session expires.
const DefaultTimeout = 5 * time.Minute

// ErrConflict is returned by [Repository.CreateSession] when the user
// already has an active session.
var ErrConflict = errors.New("user already has an active session")

// Session is one conversational session for a user.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Active       bool      `json:"active"`
}

// New returns an active session for userID that expires timeout after
// now.
func New(userID string, now time.Time, timeout time.Duration) *Session {
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(timeout),
		Active:       true,
	}
}

// Expired reports whether the session's expiry is at or before now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Touch records activity at now and pushes expiry out by timeout.
func (s *Session) Touch(now time.Time, timeout time.Duration) {
	s.LastActivity = now
	s.ExpiresAt = now.Add(timeout)
}

// ShortID returns the first eight characters of the session id, the form
// used in logs and response metadata.
func (s *Session) ShortID() string {
	return ShortID(s.ID)
}

// ShortID truncates a session id to eight characters.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Repository is the persistence the manager needs. Lookups return a nil
// session and nil error when nothing matches. CreateSession deactivates
// the user's expired sessions and returns [ErrConflict] if an unexpired
// active one remains.
type Repository interface {
	GetActiveSession(ctx context.Context, userID string, now time.Time) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	// UpdateSession writes the activity and expiry of an active session.
	// It reports false when no active session has that id.
	UpdateSession(ctx context.Context, s *Session) (bool, error)
	// DeactivateSession marks a session inactive. It reports false when
	// the session does not exist.
	DeactivateSession(ctx context.Context, id string) (bool, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// Manager implements the session lifecycle over a [Repository].
type Manager struct {
	repo   Repository
	logger *slog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewManager creates a session manager.
func NewManager(repo Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateActiveSession returns the user's active, unexpired session
// with its expiry extended, or creates a new one. A non-positive timeout
// uses [DefaultTimeout].
func (m *Manager) GetOrCreateActiveSession(ctx context.Context, userID string, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := m.now()

	existing, err := m.repo.GetActiveSession(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Touch(now, timeout)
		ok, err := m.repo.UpdateSession(ctx, existing)
		if err != nil {
			return nil, err
		}
		if ok {
			m.logger.Debug("session resumed", "user_id", userID, "session_id", existing.ShortID())
			return existing, nil
		}
		// Ended between the lookup and the update.
	}

	s := New(userID, now, timeout)
	err = m.repo.CreateSession(ctx, s)
	if errors.Is(err, ErrConflict) {
		// A concurrent request for the same user won the insert.
		existing, err = m.repo.GetActiveSession(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrConflict
		}
		m.logger.Debug("session joined after conflict", "user_id", userID, "session_id", existing.ShortID())
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	m.logger.Info("session created", "user_id", userID, "session_id", s.ShortID())
	return s, nil
}

// UpdateActivity extends an active session's expiry. It reports false
// when the session does not exist or has already ended.
func (m *Manager) UpdateActivity(ctx context.Context, sessionID string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Session{ID: sessionID}
	s.Touch(m.now(), timeout)

	ok, err := m.repo.UpdateSession(ctx, s)
	if err != nil {
		return false, err
	}
	if !ok {
		m.logger.Warn("session not found or ended", "session_id", ShortID(sessionID))
	}
	return ok, nil
}

// EndSession deactivates a session. Ending an already ended session
// succeeds; it reports false only when the session does not exist.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (bool, error) {
	ok, err := m.repo.DeactivateSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		m.logger.Warn("cannot end session, not found", "session_id", ShortID(sessionID))
		return false, nil
	}
	m.logger.Info("session ended", "session_id", ShortID(sessionID))
	return true, nil
}

// CleanupExpired deactivates every active session whose expiry has
// passed and returns how many were changed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.repo.DeactivateExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("expired sessions cleaned up", "count", n)
	}
	return n, nil
}

// IsExpired reports whether a session is past its expiry. A missing
// session counts as expired.
func (m *Manager) IsExpired(ctx context.Context, sessionID string) (bool, error) {
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if s == nil {
		return true, nil
	}
	return s.Expired(m.now()), nil
}

// Get returns a session by id, or nil when it does not exist.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.repo.GetSession(ctx, sessionID)
}
