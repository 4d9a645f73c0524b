package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is a registered account. Key is the public identifier clients
// send with each message; ID is internal.
type User struct {
	ID           string    `json:"id"`
	Key          string    `json:"user_key"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

const userColumns = "id, user_key, username, password_hash, active, created_at"

// passwordDigest keeps bcrypt input under its 72 byte limit so long and
// multibyte passwords hash in full.
func passwordDigest(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// CreateUser registers a user with a bcrypt-hashed password. An empty key
// gets a random UUID. Returns [ErrUserExists] when the username or key is
// taken.
func (s *Store) CreateUser(ctx context.Context, username, password, key string) (*User, error) {
	if username == "" || password == "" {
		return nil, errors.New("create user: username and password are required")
	}
	if key == "" {
		key = uuid.NewString()
	}

	hash, err := bcrypt.GenerateFromPassword(passwordDigest(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	now := time.Now().UTC()
	u := &User{
		ID:           id.String(),
		Key:          key,
		Username:     username,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    now,
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE username = ? OR user_key = ?`,
			username, key,
		).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrUserExists
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Key, u.Username, u.PasswordHash, boolInt(u.Active), formatTime(now), formatTime(now),
		)
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, fmt.Errorf("create user %s: %w", username, ErrUserExists)
		}
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}

	s.logger.Info("user created", "username", username, "user_id", u.ID)
	return u, nil
}

// GetUserByUsername returns the user or [ErrNotFound].
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByKey returns the user or [ErrNotFound].
func (s *Store) GetUserByKey(ctx context.Context, key string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_key = ?`, key)
	return scanUser(row)
}

// FindUserID resolves a public user key to the internal id. Inactive
// users do not resolve.
func (s *Store) FindUserID(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE user_key = ? AND active = 1`, key,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	return id, nil
}

// Authenticate checks a username and password and returns the user.
// Unknown users and wrong passwords both return [ErrInvalidCredentials].
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("authentication failed, unknown user", "username", username)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), passwordDigest(password)); err != nil {
		s.logger.Warn("authentication failed, bad password", "username", username)
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u       User
		active  int
		created string
	)
	err := row.Scan(&u.ID, &u.Key, &u.Username, &u.PasswordHash, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Active = active != 0
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}
