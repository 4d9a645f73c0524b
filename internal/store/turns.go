package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Turn is one message and the reply it produced.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	AgentUsed string    `json:"agent_used"`
	CreatedAt time.Time `json:"created_at"`
}

const turnColumns = "id, session_id, user_id, message, response, agent_used, created_at"

// AppendTurn records a turn. ID and CreatedAt are filled in when empty.
func (s *Store) AppendTurn(ctx context.Context, t *Turn) error {
	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		t.ID = id.String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO turns (`+turnColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.SessionID, t.UserID, t.Message, t.Response, t.AgentUsed, formatTime(t.CreatedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// QueryRecentTurns returns up to limit turns for a session, newest first.
func (s *Store) QueryRecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns
		 WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t       Turn
			created string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserID, &t.Message, &t.Response, &t.AgentUsed, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// CountTurns returns how many turns a session holds.
func (s *Store) CountTurns(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}
