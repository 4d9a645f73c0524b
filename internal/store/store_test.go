package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/switchboard/internal/session"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	u, err := s.CreateUser(ctx, "leo", "s3cret", "user_leo")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Key != "user_leo" || u.ID == "" {
		t.Errorf("user = %+v", u)
	}
	if u.PasswordHash == "s3cret" {
		t.Error("password stored in clear")
	}

	got, err := s.Authenticate(ctx, "leo", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("authenticated id = %s, want %s", got.ID, u.ID)
	}

	if _, err := s.Authenticate(ctx, "leo", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := s.Authenticate(ctx, "nobody", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestCreateUser_LongPasswords(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "100 ascii characters", username: "long", password: strings.Repeat("a", 100)},
		{name: "multibyte over 72 bytes", username: "accents", password: strings.Repeat("ação", 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateUser(ctx, tt.username, tt.password, ""); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			if _, err := s.Authenticate(ctx, tt.username, tt.password); err != nil {
				t.Errorf("Authenticate: %v", err)
			}
			// Passwords sharing the first 72 bytes must not match.
			if _, err := s.Authenticate(ctx, tt.username, tt.password[:len(tt.password)-1]+"!"); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("altered password err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if _, err := s.CreateUser(ctx, "leo", "pw", "user_leo"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name, username, key string
	}{
		{name: "same username", username: "leo", key: "other"},
		{name: "same key", username: "leonardo", key: "user_leo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateUser(ctx, tt.username, "pw", tt.key)
			if !errors.Is(err, ErrUserExists) {
				t.Errorf("err = %v, want ErrUserExists", err)
			}
		})
	}
}

func TestCreateUser_GeneratedKey(t *testing.T) {
	s := setupTestStore(t)
	u, err := s.CreateUser(context.Background(), "ana", "pw", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Key) != 36 {
		t.Errorf("generated key = %q, want uuid", u.Key)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.CreateUser(context.Background(), "", "pw", ""); err == nil {
		t.Error("empty username should fail")
	}
	if _, err := s.CreateUser(context.Background(), "x", "", ""); err == nil {
		t.Error("empty password should fail")
	}
}

func TestFindUserID(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	u, _ := s.CreateUser(ctx, "leo", "pw", "user_leo")

	id, err := s.FindUserID(ctx, "user_leo")
	if err != nil {
		t.Fatalf("FindUserID: %v", err)
	}
	if id != u.ID {
		t.Errorf("id = %s, want %s", id, u.ID)
	}

	if _, err := s.FindUserID(ctx, "user_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key err = %v, want ErrNotFound", err)
	}

	got, err := s.GetUserByKey(ctx, "user_leo")
	if err != nil || got.Username != "leo" {
		t.Errorf("GetUserByKey = %+v, %v", got, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sess := session.New("u1", now, 5*time.Minute)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetActiveSession(ctx, "u1", now.Add(time.Minute))
	if err != nil || got == nil {
		t.Fatalf("GetActiveSession = %v, %v", got, err)
	}
	if got.ID != sess.ID || !got.ExpiresAt.Equal(sess.ExpiresAt) || !got.Active {
		t.Errorf("round trip mismatch: %+v vs %+v", got, sess)
	}

	if got, _ := s.GetActiveSession(ctx, "u1", now.Add(6*time.Minute)); got != nil {
		t.Error("expired session should not be returned as active")
	}
	if got, _ := s.GetActiveSession(ctx, "u2", now); got != nil {
		t.Error("other user should have no session")
	}

	sess.Touch(now.Add(3*time.Minute), 5*time.Minute)
	if ok, err := s.UpdateSession(ctx, sess); err != nil || !ok {
		t.Fatalf("UpdateSession = %v, %v", ok, err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if !got.ExpiresAt.Equal(now.Add(8 * time.Minute)) {
		t.Errorf("ExpiresAt = %v after touch", got.ExpiresAt)
	}

	if got, _ := s.GetSession(ctx, "missing"); got != nil {
		t.Error("missing session should be nil")
	}
	if ok, err := s.UpdateSession(ctx, &session.Session{ID: "missing"}); err != nil || ok {
		t.Errorf("update missing = %v, %v; want false, nil", ok, err)
	}
}

func TestUpdateSession_KeepsEndedSessionEnded(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sess := session.New("u1", now, 5*time.Minute)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// A stale copy read before the session was ended.
	stale := *sess
	for i := 0; i < 2; i++ {
		if ok, err := s.DeactivateSession(ctx, sess.ID); err != nil || !ok {
			t.Fatalf("DeactivateSession #%d = %v, %v", i+1, ok, err)
		}
	}

	stale.Touch(now.Add(time.Minute), 5*time.Minute)
	ok, err := s.UpdateSession(ctx, &stale)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("UpdateSession reported success on an ended session")
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if got.Active {
		t.Error("ended session was reactivated")
	}
	if !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want unchanged %v", got.ExpiresAt, sess.ExpiresAt)
	}

	if ok, err := s.DeactivateSession(ctx, "missing"); err != nil || ok {
		t.Errorf("DeactivateSession(missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestCreateSession_OneActivePerUser(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := session.New("u1", now, 5*time.Minute)
	if err := s.CreateSession(ctx, first); err != nil {
		t.Fatal(err)
	}

	dup := session.New("u1", now.Add(time.Minute), 5*time.Minute)
	if err := s.CreateSession(ctx, dup); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("second active session err = %v, want ErrConflict", err)
	}

	// Once the first has expired, creating a new one retires it.
	later := session.New("u1", now.Add(10*time.Minute), 5*time.Minute)
	if err := s.CreateSession(ctx, later); err != nil {
		t.Fatalf("CreateSession after expiry: %v", err)
	}
	old, _ := s.GetSession(ctx, first.ID)
	if old.Active {
		t.Error("expired session should have been deactivated")
	}
}

func TestDeactivateExpired(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, timeout := range []time.Duration{time.Minute, 2 * time.Minute, time.Hour} {
		sess := session.New(fmt.Sprintf("u%d", i), now, timeout)
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.DeactivateExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deactivated = %d, want 2", n)
	}
	n, _ = s.DeactivateExpired(ctx, now.Add(2*time.Minute))
	if n != 0 {
		t.Errorf("second pass = %d, want 0", n)
	}
}

func TestTurns(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		err := s.AppendTurn(ctx, &Turn{
			SessionID: "s1",
			UserID:    "u1",
			Message:   fmt.Sprintf("q%d", i),
			Response:  fmt.Sprintf("a%d", i),
			AgentUsed: "knowledge",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}
	s.AppendTurn(ctx, &Turn{SessionID: "s2", UserID: "u1", Message: "other", Response: "x", AgentUsed: "support"})

	turns, err := s.QueryRecentTurns(ctx, "s1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 5 {
		t.Fatalf("turns = %d, want 5", len(turns))
	}
	if turns[0].Message != "q6" || turns[4].Message != "q2" {
		t.Errorf("order = %s..%s, want newest first q6..q2", turns[0].Message, turns[4].Message)
	}

	n, _ := s.CountTurns(ctx, "s1")
	if n != 7 {
		t.Errorf("CountTurns = %d, want 7", n)
	}

	none, err := s.QueryRecentTurns(ctx, "empty", 5)
	if err != nil || len(none) != 0 {
		t.Errorf("empty session = %v, %v", none, err)
	}
}

func TestAppendTurn_FillsDefaults(t *testing.T) {
	s := setupTestStore(t)
	turn := &Turn{SessionID: "s1", UserID: "u1", Message: "m", Response: "r", AgentUsed: "knowledge"}
	if err := s.AppendTurn(context.Background(), turn); err != nil {
		t.Fatal(err)
	}
	if turn.ID == "" || turn.CreatedAt.IsZero() {
		t.Errorf("defaults not filled: %+v", turn)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.CreateUser(context.Background(), "leo", "pw", "user_leo"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopen and check the schema migration is idempotent.
	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.FindUserID(context.Background(), "user_leo"); err != nil {
		t.Errorf("user lost across reopen: %v", err)
	}
}
