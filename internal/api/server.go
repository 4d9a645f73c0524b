// Package api implements the HTTP API: chat, accounts, sessions and
// router introspection, plus a websocket bridge for chat channels.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/switchboard/internal/buildinfo"
	"github.com/nugget/switchboard/internal/connwatch"
	"github.com/nugget/switchboard/internal/history"
	"github.com/nugget/switchboard/internal/knowledge"
	"github.com/nugget/switchboard/internal/orchestrator"
	"github.com/nugget/switchboard/internal/router"
	"github.com/nugget/switchboard/internal/session"
	"github.com/nugget/switchboard/internal/store"
	"github.com/nugget/switchboard/internal/usage"
)

// Chatter runs messages through the pipeline.
type Chatter interface {
	ProcessMessage(ctx context.Context, message, userKey string) (*orchestrator.Response, error)
}

// Accounts registers and authenticates users.
type Accounts interface {
	CreateUser(ctx context.Context, username, password, key string) (*store.User, error)
	Authenticate(ctx context.Context, username, password string) (*store.User, error)
}

// Sessions exposes session lifecycle operations.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	EndSession(ctx context.Context, sessionID string) (bool, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// HistoryReader returns the turns of a session.
type HistoryReader interface {
	GetHistory(ctx context.Context, sessionID string, limitPairs int) ([]history.Entry, error)
}

// RouterInspector exposes routing decisions.
type RouterInspector interface {
	GetStats() router.Stats
	GetAuditLog(limit int) []router.Decision
	Explain(requestID string) *router.Decision
}

// KnowledgeIndex lists what has been ingested.
type KnowledgeIndex interface {
	Sources(ctx context.Context) ([]knowledge.SourceInfo, error)
	Count(ctx context.Context) (int, error)
}

// UsageReporter aggregates model token usage.
type UsageReporter interface {
	Report(ctx context.Context, window time.Duration) (*usage.Report, error)
}

// HealthReporter summarizes dependency reachability.
type HealthReporter interface {
	Summary() string
	Status() []connwatch.Status
}

// Deps are the server's collaborators. Chat is required; the rest are
// optional and their endpoints answer 503 when absent.
type Deps struct {
	Chat      Chatter
	Accounts  Accounts
	Sessions  Sessions
	History   HistoryReader
	Router    RouterInspector
	Knowledge KnowledgeIndex
	Usage     UsageReporter
	Health    HealthReporter
}

// Server is the HTTP API server.
type Server struct {
	address string
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a server listening on address (host:port).
func NewServer(address string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		deps:    deps,
		logger:  logger.With("component", "api"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/version", s.handleVersion)

		v1.Post("/chat", s.handleChat)
		v1.Get("/chat/ws", s.handleChatWebsocket)

		v1.Post("/users", s.handleRegister)
		v1.Post("/auth/login", s.handleLogin)

		v1.Route("/sessions", func(sr chi.Router) {
			sr.Post("/cleanup", s.handleSessionCleanup)
			sr.Get("/{id}", s.handleSessionGet)
			sr.Get("/{id}/history", s.handleSessionHistory)
			sr.Post("/{id}/end", s.handleSessionEnd)
		})

		v1.Route("/router", func(rr chi.Router) {
			rr.Get("/stats", s.handleRouterStats)
			rr.Get("/audit", s.handleRouterAudit)
			rr.Get("/explain/{requestId}", s.handleRouterExplain)
		})

		v1.Get("/knowledge/sources", s.handleKnowledgeSources)
		v1.Get("/usage", s.handleUsage)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
	}
	s.logger.Info("starting API server", "address", s.address)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, v, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"name":    "Switchboard",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, buildinfo.RuntimeInfo())
}

// handleHealth answers 503 only when a required dependency is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Health == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"status": connwatch.Healthy})
		return
	}
	summary := s.deps.Health.Summary()
	code := http.StatusOK
	if summary == connwatch.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, map[string]any{
		"status":   summary,
		"services": s.deps.Health.Status(),
	})
}
