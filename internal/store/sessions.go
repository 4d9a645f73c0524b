package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/switchboard/internal/session"
)

const sessionColumns = "id, user_id, created_at, last_activity, expires_at, active"

// GetActiveSession returns the user's active session that has not
// expired at now, or nil.
func (s *Store) GetActiveSession(ctx context.Context, userID string, now time.Time) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND active = 1 AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		userID, formatTime(now),
	)
	sess, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return sess, nil
}

// GetSession returns a session by id, or nil.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// CreateSession inserts a new session. Expired sessions still flagged
// active for the same user are deactivated first; if an unexpired one
// remains the insert fails with [session.ErrConflict].
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET active = 0
			 WHERE user_id = ? AND active = 1 AND expires_at <= ?`,
			sess.UserID, formatTime(sess.CreatedAt),
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.UserID,
			formatTime(sess.CreatedAt), formatTime(sess.LastActivity), formatTime(sess.ExpiresAt),
			boolInt(sess.Active),
		)
		if isUniqueViolation(err) {
			return session.ErrConflict
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSession writes activity and expiry of an active session. It
// never changes the active flag, so a concurrently ended session stays
// ended and false is returned.
func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) (bool, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity = ?, expires_at = ? WHERE id = ? AND active = 1`,
			formatTime(sess.LastActivity), formatTime(sess.ExpiresAt), sess.ID,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update session %s: %w", session.ShortID(sess.ID), err)
	}
	return n > 0, nil
}

// DeactivateSession marks a session inactive. Deactivating an inactive
// session succeeds; false means no such session.
func (s *Store) DeactivateSession(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sessions SET active = 0 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("deactivate session %s: %w", session.ShortID(id), err)
	}
	return n > 0, nil
}

// DeactivateExpired marks every active session whose expiry is at or
// before now as inactive.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	var count int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET active = 0 WHERE active = 1 AND expires_at <= ?`,
			formatTime(now),
		)
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate expired sessions: %w", err)
	}
	return int(count), nil
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var (
		sess                       session.Session
		created, activity, expires string
		active                     int
	)
	err := row.Scan(&sess.ID, &sess.UserID, &created, &activity, &expires, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Active = active != 0
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sess.LastActivity, err = parseTime(activity); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	return &sess, nil
}
