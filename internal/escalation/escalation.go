// Package escalation hands conversations over to human support. It
// mints tickets, suppresses repeated escalations from the same user and
// notifies the support channel in the background.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Reason identifies why a conversation was escalated.
type Reason string

const (
	ReasonComplexIssue     Reason = "complex_issue"
	ReasonUserFrustrated   Reason = "user_frustrated"
	ReasonBlockedAccount   Reason = "blocked_account"
	ReasonHighValue        Reason = "high_value"
	ReasonCompliance       Reason = "compliance"
	ReasonTechnicalFailure Reason = "technical_failure"
	ReasonUserRequest      Reason = "user_request"
)

var reasonDescriptions = map[Reason]string{
	ReasonComplexIssue:     "Issue requires human expertise",
	ReasonUserFrustrated:   "User appears frustrated or unsatisfied",
	ReasonBlockedAccount:   "Account blocked - requires manual review",
	ReasonHighValue:        "High-value transaction requires approval",
	ReasonCompliance:       "Compliance or regulatory issue detected",
	ReasonTechnicalFailure: "Technical failure in automated systems",
	ReasonUserRequest:      "User asked to talk to a human",
}

// Describe returns the human-readable description of r.
func (r Reason) Describe() string {
	if d, ok := reasonDescriptions[r]; ok {
		return d
	}
	return "Unknown reason"
}

// Request is one escalation.
type Request struct {
	Message string
	UserKey string
	Reason  Reason // empty means complex_issue

	// History is the formatted conversation block, possibly empty.
	History string

	// Aux carries extra context for the support team, such as the
	// original_error of a failed responder.
	Aux map[string]any
}

// Outcome is what the user sees after an escalation.
type Outcome struct {
	ResponseText string
	TicketID     string

	// Escalated is false when the request was folded into an earlier
	// ticket from the same user.
	Escalated bool

	Metadata map[string]any
}

// Ticket is the notice delivered to human support.
type Ticket struct {
	ID        string         `json:"ticket_id"`
	UserKey   string         `json:"user_key"`
	Reason    Reason         `json:"reason"`
	Message   string         `json:"message"`
	History   string         `json:"history,omitempty"`
	Aux       map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers tickets to a human support channel.
type Notifier interface {
	Notify(ctx context.Context, t Ticket) error
}

// mocker is implemented by notifiers that do not reach a real channel.
type mocker interface {
	Mocked() bool
}

// DefaultChannel is the support channel named in escalation metadata.
const DefaultChannel = "#support-escalations"

// notifyTimeout bounds one background delivery.
const notifyTimeout = 30 * time.Second

// Config tunes a Handler.
type Config struct {
	Cooldown   time.Duration
	MaxEntries int
	MaxAge     time.Duration
	Channel    string
}

// Handler produces human-handoff responses.
type Handler struct {
	cache    *Cache
	notifier Notifier
	channel  string
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewHandler creates a handler. A nil notifier logs tickets instead of
// delivering them.
func NewHandler(cfg Config, notifier Notifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "escalation")
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	return &Handler{
		cache:    NewCache(cfg.Cooldown, cfg.MaxEntries, cfg.MaxAge),
		notifier: notifier,
		channel:  cfg.Channel,
		logger:   logger,
		now:      time.Now,
	}
}

// Cache returns the handler's dedup cache.
func (h *Handler) Cache() *Cache { return h.cache }

// Escalate hands req to human support. A repeat within the cooldown
// returns the earlier ticket and sends nothing. Otherwise a new ticket
// is recorded and the notifier runs in the background; delivery
// failures are logged and never reach the caller.
func (h *Handler) Escalate(ctx context.Context, req Request) Outcome {
	if req.Reason == "" {
		req.Reason = ReasonComplexIssue
	}
	now := h.now()

	rec, fresh := h.cache.Claim(req.UserKey, TicketID(req.UserKey, now), now)
	md := map[string]any{
		"escalated":     fresh,
		"ticket_id":     rec.TicketID,
		"reason":        string(req.Reason),
		"slack_channel": h.channel,
		"mocked":        isMocked(h.notifier),
		"duplicate":     !fresh,
	}

	if !fresh {
		h.logger.Info("duplicate escalation suppressed",
			"user_key", req.UserKey,
			"ticket_id", rec.TicketID,
			"age", now.Sub(rec.CreatedAt).Round(time.Second),
		)
		return Outcome{
			ResponseText: duplicateResponse(rec.TicketID),
			TicketID:     rec.TicketID,
			Escalated:    false,
			Metadata:     md,
		}
	}

	h.logger.Warn("escalating to human support",
		"user_key", req.UserKey,
		"ticket_id", rec.TicketID,
		"reason", req.Reason.Describe(),
		"message", truncate(req.Message, 100),
	)

	ticket := Ticket{
		ID:        rec.TicketID,
		UserKey:   req.UserKey,
		Reason:    req.Reason,
		Message:   req.Message,
		History:   req.History,
		Aux:       req.Aux,
		CreatedAt: now,
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := h.notifier.Notify(nctx, ticket); err != nil {
			h.logger.Error("escalation notification failed", "ticket_id", ticket.ID, "error", err)
		}
	}()

	return Outcome{
		ResponseText: ticketResponse(rec.TicketID),
		TicketID:     rec.TicketID,
		Escalated:    true,
		Metadata:     md,
	}
}

// Wait blocks until background notifications have finished.
func (h *Handler) Wait() { h.wg.Wait() }

// TicketID builds SUP-<YYYYMMDDHHMMSS>-<first 8 characters of userKey>.
func TicketID(userKey string, at time.Time) string {
	return fmt.Sprintf("SUP-%s-%s", at.Format("20060102150405"), truncateRunes(userKey, 8))
}

func ticketResponse(ticketID string) string {
	return "Entendi sua solicitação. Para garantir o melhor atendimento, estou encaminhando seu caso para nossa equipe de suporte especializada.\n\n" +
		"📋 **Número do ticket:** " + ticketID + "\n" +
		"⏱️ **Tempo estimado de resposta:** 1-2 horas\n\n" +
		"Nossa equipe entrará em contato em breve. Obrigado pela paciência!"
}

func duplicateResponse(ticketID string) string {
	return "Sua solicitação já foi encaminhada para nossa equipe de suporte especializada.\n\n" +
		"📋 **Número do ticket:** " + ticketID + "\n" +
		"⏱️ **Tempo estimado de resposta:** 1-2 horas\n\n" +
		"Não é necessário abrir um novo chamado. Nossa equipe entrará em contato em breve. Obrigado pela paciência!"
}

// FormatNotice renders t as the markdown notice sent to support staff.
func FormatNotice(t Ticket) string {
	var b strings.Builder
	b.WriteString("🚨 **Support Escalation** 🚨\n\n")
	fmt.Fprintf(&b, "**Ticket ID:** %s\n", t.ID)
	fmt.Fprintf(&b, "**User Key:** %s\n", t.UserKey)
	fmt.Fprintf(&b, "**Reason:** %s\n", t.Reason.Describe())
	fmt.Fprintf(&b, "**Timestamp:** %s\n\n", t.CreatedAt.Format(time.RFC3339))
	b.WriteString("**User Message:**\n")
	b.WriteString(t.Message)
	b.WriteString("\n\n")
	if t.History != "" {
		b.WriteString("**Conversation:**\n")
		b.WriteString(t.History)
		b.WriteString("\n\n")
	}
	if len(t.Aux) > 0 {
		b.WriteString("**Metadata:**\n")
		keys := make([]string, 0, len(t.Aux))
		for k := range t.Aux {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, t.Aux[k])
		}
		b.WriteString("\n")
	}
	b.WriteString("**Action Required:**\nPlease review and respond to this escalation within 1 hour.\n\n")
	b.WriteString("---\n_Escalated by: Switchboard_\n")
	return b.String()
}

func isMocked(n Notifier) bool {
	if m, ok := n.(mocker); ok {
		return m.Mocked()
	}
	return false
}

func truncate(s string, n int) string {
	if t := truncateRunes(s, n); len(t) < len(s) {
		return t + "..."
	}
	return s
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
