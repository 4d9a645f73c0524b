package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/nugget/switchboard/internal/orchestrator"
	"github.com/nugget/switchboard/internal/session"
	"github.com/nugget/switchboard/internal/store"
)

// Message length bounds, in characters.
const (
	MinMessageLength = 1
	MaxMessageLength = 2000
)

// UserKeyHeader carries the user key when the body does not.
const UserKeyHeader = "X-User-Key"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message string `json:"message"`
	UserKey string `json:"user_key,omitempty"`
}

// validateMessage enforces the message length bounds.
func validateMessage(msg string) error {
	n := utf8.RuneCountInString(msg)
	switch {
	case strings.TrimSpace(msg) == "" || n < MinMessageLength:
		return errors.New("message is required")
	case n > MaxMessageLength:
		return errors.New("message must be at most 2000 characters")
	}
	return nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleChat runs one message through the pipeline.
// POST /v1/chat {"message": "Qual a taxa do Pix?", "user_key": "user_leo"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserKey == "" {
		req.UserKey = r.Header.Get(UserKeyHeader)
	}
	if req.UserKey == "" {
		s.errorResponse(w, http.StatusUnauthorized, "user_key is required")
		return
	}
	if err := validateMessage(req.Message); err != nil {
		s.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := s.deps.Chat.ProcessMessage(r.Context(), req.Message, req.UserKey)
	if err != nil {
		s.chatError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrUserNotFound):
		s.errorResponse(w, http.StatusNotFound, "user not found")
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		s.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("chat failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to process message")
	}
}

// RegisterRequest is the body of POST /v1/users.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	UserKey  string `json:"user_key,omitempty"`
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,50}$`)

// handleRegister creates an account.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.deps.Accounts == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "accounts not configured")
		return
	}
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(req.Username) {
		s.errorResponse(w, http.StatusUnprocessableEntity, "username must be 3-50 letters, digits or underscores")
		return
	}
	if n := utf8.RuneCountInString(req.Password); n < 6 || n > 100 {
		s.errorResponse(w, http.StatusUnprocessableEntity, "password must be 6-100 characters")
		return
	}

	u, err := s.deps.Accounts.CreateUser(r.Context(), req.Username, req.Password, req.UserKey)
	if errors.Is(err, store.ErrUserExists) {
		s.errorResponse(w, http.StatusConflict, "username or user key already registered")
		return
	}
	if err != nil {
		s.logger.Error("registration failed", "username", req.Username, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "user registration failed")
		return
	}
	s.respondJSON(w, http.StatusCreated, u)
}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the key the client sends with each message.
type LoginResponse struct {
	UserKey   string `json:"user_key"`
	Username  string `json:"username"`
	TokenType string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Accounts == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "accounts not configured")
		return
	}
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.deps.Accounts.Authenticate(r.Context(), strings.ToLower(strings.TrimSpace(req.Username)), req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.errorResponse(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}
	if err != nil {
		s.logger.Error("login failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "login failed")
		return
	}
	s.respondJSON(w, http.StatusOK, LoginResponse{UserKey: u.Key, Username: u.Username, TokenType: "bearer"})
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if s.deps.Sessions == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "sessions not configured")
		return nil, false
	}
	sess, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("session lookup failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "session lookup failed")
		return nil, false
	}
	if sess == nil {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if s.deps.History == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	limit := queryInt(r, "limit", 0)
	entries, err := s.deps.History.GetHistory(r.Context(), sess.ID, limit)
	if err != nil {
		s.logger.Error("history lookup failed", "session_id", sess.ShortID(), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"active":     sess.Active,
		"count":      len(entries),
		"messages":   entries,
	})
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "sessions not configured")
		return
	}
	id := chi.URLParam(r, "id")
	ok, err := s.deps.Sessions.EndSession(r.Context(), id)
	if err != nil {
		s.logger.Error("end session failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "end session failed")
		return
	}
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "ended": true})
}

func (s *Server) handleSessionCleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "sessions not configured")
		return
	}
	n, err := s.deps.Sessions.CleanupExpired(r.Context())
	if err != nil {
		s.logger.Error("session cleanup failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "session cleanup failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deactivated": n})
}

// Router introspection handlers

func (s *Server) handleRouterStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Router.GetStats())
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	decisions := s.deps.Router.GetAuditLog(queryInt(r, "limit", 20))
	s.respondJSON(w, http.StatusOK, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	})
}

func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	decision := s.deps.Router.Explain(chi.URLParam(r, "requestId"))
	if decision == nil {
		s.errorResponse(w, http.StatusNotFound, "decision not found")
		return
	}
	s.respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handleKnowledgeSources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "knowledge store not configured")
		return
	}
	sources, err := s.deps.Knowledge.Sources(r.Context())
	if err != nil {
		s.logger.Error("list sources failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "list sources failed")
		return
	}
	chunks, err := s.deps.Knowledge.Count(r.Context())
	if err != nil {
		s.logger.Error("count chunks failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "count chunks failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(sources),
		"chunks":  chunks,
		"sources": sources,
	})
}

// handleUsage reports token usage over the last ?hours (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}
	hours := queryInt(r, "hours", 24)
	report, err := s.deps.Usage.Report(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		s.logger.Error("usage report failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage report failed")
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// queryInt parses a positive integer query parameter.
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
