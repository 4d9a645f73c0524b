// Package orchestrator runs one chat message through the pipeline:
// guardrails, routing, responder dispatch, escalation on failure and
// persistence of the finished turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/switchboard/internal/escalation"
	"github.com/nugget/switchboard/internal/guardrails"
	"github.com/nugget/switchboard/internal/responder"
	"github.com/nugget/switchboard/internal/router"
	"github.com/nugget/switchboard/internal/session"
	"github.com/nugget/switchboard/internal/store"
)

// Errors returned by ProcessMessage.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmptyMessage = errors.New("message is empty")
)

// Agent labels reported for outcomes that no responder produced.
const (
	AgentGuardrails = "guardrails"
	AgentError      = "error"
	AgentEscalation = "slack_escalation"
)

// User-facing texts for outcomes that never reach a responder.
const (
	blockedPrefix = "Desculpe, não posso processar esta mensagem. Motivo: "
	routeFailText = "Desculpe, ocorreu um erro ao processar sua mensagem. Por favor, tente novamente."
)

// State is a pipeline stage. GUARDED and ROUTE_FAILED end a request
// without persistence; PERSISTED is the normal end.
type State string

const (
	StateGuarded     State = "GUARDED"
	StateRouting     State = "ROUTING"
	StateRouteFailed State = "ROUTE_FAILED"
	StateDispatched  State = "DISPATCHED"
	StateEscalated   State = "ESCALATED"
	StatePersisted   State = "PERSISTED"
)

// Response is the result of one message.
type Response struct {
	Response   string         `json:"response"`
	AgentUsed  string         `json:"agent_used"`
	Confidence *string        `json:"confidence"`
	Metadata   map[string]any `json:"metadata"`
}

// UserResolver maps a public user key to the internal id. Unknown keys
// return an error wrapping [store.ErrNotFound].
type UserResolver interface {
	FindUserID(ctx context.Context, key string) (string, error)
}

// TurnWriter persists finished turns.
type TurnWriter interface {
	AppendTurn(ctx context.Context, t *store.Turn) error
}

// Sessions is the session lifecycle the pipeline drives.
type Sessions interface {
	GetOrCreateActiveSession(ctx context.Context, userID string, timeout time.Duration) (*session.Session, error)
	UpdateActivity(ctx context.Context, sessionID string, timeout time.Duration) (bool, error)
}

// HistorySource renders prior turns for prompts.
type HistorySource interface {
	FormatForPrompt(ctx context.Context, sessionID string, limitPairs int) (string, error)
}

// Guard evaluates message safety.
type Guard interface {
	Evaluate(message string) guardrails.Verdict
}

// Classifier routes messages and records how the route worked out.
type Classifier interface {
	Classify(ctx context.Context, message string) (router.Label, *router.Decision, error)
	RecordOutcome(requestID, agent string, success bool)
}

// Escalator hands conversations to human support.
type Escalator interface {
	Escalate(ctx context.Context, req escalation.Request) escalation.Outcome
}

// Deps are the collaborators of an Orchestrator. All are required.
type Deps struct {
	Users      UserResolver
	Turns      TurnWriter
	Sessions   Sessions
	History    HistorySource
	Guardrails Guard
	Router     Classifier
	Responders *responder.Registry
	Escalation Escalator
}

// Config tunes the pipeline.
type Config struct {
	SessionTimeout time.Duration // default session.DefaultTimeout
	HistoryPairs   int           // 0 uses the history source's default
}

// Orchestrator runs the message pipeline. It is safe for concurrent use
// by multiple requests.
type Orchestrator struct {
	deps   Deps
	config Config
	logger *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = session.DefaultTimeout
	}
	return &Orchestrator{
		deps:   deps,
		config: cfg,
		logger: logger.With("component", "orchestrator"),
	}
}

// pipeline carries one request through the stages.
type pipeline struct {
	message string
	userKey string
	userID  string
	session *session.Session
	history string
	state   State
	logger  *slog.Logger
}

func (p *pipeline) enter(s State) {
	p.state = s
	p.logger.Debug("pipeline state", "state", s)
}

// ProcessMessage runs message from the user identified by userKey
// through the pipeline. Errors are returned only for unknown users and
// infrastructure failures before routing; blocked messages, routing
// failures and responder failures all produce a Response.
func (o *Orchestrator) ProcessMessage(ctx context.Context, message, userKey string) (*Response, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	userID, err := o.deps.Users.FindUserID(ctx, userKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userKey)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	sess, err := o.deps.Sessions.GetOrCreateActiveSession(ctx, userID, o.config.SessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	p := &pipeline{
		message: message,
		userKey: userKey,
		userID:  userID,
		session: sess,
		logger:  o.logger.With("user_id", userID, "session_id", sess.ShortID()),
	}
	p.logger.Info("processing message", "preview", preview(message, 100))

	p.history, err = o.deps.History.FormatForPrompt(ctx, sess.ID, o.config.HistoryPairs)
	if err != nil {
		p.logger.Warn("history unavailable, continuing without it", "error", err)
		p.history = ""
	}

	if verdict := o.deps.Guardrails.Evaluate(message); !verdict.Allowed {
		p.enter(StateGuarded)
		return o.finish(p, &Response{
			Response:  blockedPrefix + verdict.Reason,
			AgentUsed: AgentGuardrails,
			Metadata: map[string]any{
				"blocked":  true,
				"reason":   verdict.Reason,
				"severity": string(verdict.Severity),
			},
		}), nil
	}

	p.enter(StateRouting)
	label, decision, err := o.deps.Router.Classify(ctx, message)
	if err != nil {
		p.enter(StateRouteFailed)
		p.logger.Error("routing failed", "error", err)
		return o.finish(p, &Response{
			Response:  routeFailText,
			AgentUsed: AgentError,
			Metadata:  map[string]any{"error": err.Error()},
		}), nil
	}
	requestID := ""
	if decision != nil {
		requestID = decision.RequestID
	}
	confidence := router.ConfidenceHigh

	var resp *Response
	if label == router.LabelEscalate {
		p.enter(StateEscalated)
		out := o.deps.Escalation.Escalate(ctx, escalation.Request{
			Message: message,
			UserKey: userKey,
			Reason:  escalation.ReasonUserRequest,
			History: p.history,
		})
		o.deps.Router.RecordOutcome(requestID, AgentEscalation, true)
		resp = &Response{Response: out.ResponseText, AgentUsed: AgentEscalation, Metadata: out.Metadata}
	} else {
		p.enter(StateDispatched)
		r := o.deps.Responders.Lookup(label)
		result := respond(ctx, r, responder.Request{
			Message: message,
			UserKey: userKey,
			History: p.history,
			Label:   label,
		})
		o.deps.Router.RecordOutcome(requestID, r.Name(), result.Success)

		if result.Success {
			resp = &Response{Response: result.Text, AgentUsed: r.Name(), Metadata: result.Metadata}
		} else {
			p.enter(StateEscalated)
			p.logger.Error("responder failed, escalating", "responder", r.Name(), "error", result.Err)
			out := o.deps.Escalation.Escalate(ctx, escalation.Request{
				Message: message,
				UserKey: userKey,
				Reason:  escalation.ReasonTechnicalFailure,
				History: p.history,
				Aux:     map[string]any{"original_error": errorText(result.Err)},
			})
			resp = &Response{Response: out.ResponseText, AgentUsed: AgentEscalation, Metadata: out.Metadata}
		}
	}
	resp.Confidence = &confidence

	o.persist(ctx, p, resp)
	return o.finish(p, resp), nil
}

// persist records the turn and extends the session. Failures are logged;
// the caller still gets its answer.
func (o *Orchestrator) persist(ctx context.Context, p *pipeline, resp *Response) {
	err := o.deps.Turns.AppendTurn(ctx, &store.Turn{
		SessionID: p.session.ID,
		UserID:    p.userID,
		Message:   p.message,
		Response:  resp.Response,
		AgentUsed: resp.AgentUsed,
	})
	if err != nil {
		p.logger.Error("failed to save turn", "error", err)
		return
	}
	if _, err := o.deps.Sessions.UpdateActivity(ctx, p.session.ID, o.config.SessionTimeout); err != nil {
		p.logger.Warn("failed to extend session", "error", err)
	}
	p.enter(StatePersisted)
}

func (o *Orchestrator) finish(p *pipeline, resp *Response) *Response {
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	resp.Metadata["session_id"] = p.session.ShortID()
	resp.Metadata["pipeline_state"] = string(p.state)
	p.logger.Info("message processed", "agent_used", resp.AgentUsed, "state", p.state)
	return resp
}

// respond calls r and turns a panic into a failed result.
func respond(ctx context.Context, r responder.Responder, req responder.Request) (res responder.Result) {
	defer func() {
		if v := recover(); v != nil {
			res = responder.Result{
				Err:      fmt.Errorf("responder %s panicked: %v", r.Name(), v),
				Metadata: map[string]any{},
			}
		}
	}()
	res = r.Respond(ctx, req)
	if !res.Success && res.Err == nil {
		res.Err = fmt.Errorf("responder %s reported failure", r.Name())
	}
	return res
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
