// Package router classifies user messages into intent labels.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/switchboard/internal/llm"
)

// Label is an intent class.
type Label string

// The closed set of labels.
const (
	LabelKnowledge Label = "KNOWLEDGE"
	LabelSupport   Label = "SUPPORT"
	LabelEscalate  Label = "ESCALATE"
	LabelGeneral   Label = "GENERAL"
)

// Labels lists every valid label.
var Labels = []Label{LabelKnowledge, LabelSupport, LabelEscalate, LabelGeneral}

// Valid reports whether l is in the closed set.
func (l Label) Valid() bool {
	switch l {
	case LabelKnowledge, LabelSupport, LabelEscalate, LabelGeneral:
		return true
	}
	return false
}

// ErrRoutingFailed is returned when the classifier could not be reached
// or returned an error. It is distinct from a GENERAL classification.
var ErrRoutingFailed = errors.New("routing failed")

// Confidence reported for every successful classification.
const ConfidenceHigh = "high"

// Decision records how a message was classified.
type Decision struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Input analysis
	QueryLength int   `json:"query_length"`
	KeywordHint Label `json:"keyword_hint,omitempty"`

	// Classifier exchange
	Model      string `json:"model"`
	RawReply   string `json:"raw_reply,omitempty"`
	Coerced    bool   `json:"coerced,omitempty"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	TokensUsed int    `json:"tokens_used,omitempty"`

	// Outcome
	Label      Label  `json:"label,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Reasoning  string `json:"reasoning"`

	// Post-dispatch (filled in later)
	Agent   string `json:"agent,omitempty"`
	Success *bool  `json:"success,omitempty"`
}

// Config holds router configuration.
type Config struct {
	Model       string // Classifier model name
	MaxAuditLog int    // How many decisions to keep in memory
}

// Stats tracks routing statistics.
type Stats struct {
	TotalRequests  int64           `json:"total_requests"`
	LabelCounts    map[Label]int64 `json:"label_counts"`
	Anomalies      int64           `json:"anomalies"`
	Failures       int64           `json:"failures"`
	HintAgreements int64           `json:"hint_agreements"`
	AvgLatencyMs   int64           `json:"avg_latency_ms"`
}

// Router classifies messages with an LLM.
type Router struct {
	logger *slog.Logger
	client llm.Client
	config Config

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// NewRouter creates a router that classifies through client.
func NewRouter(logger *slog.Logger, client llm.Client, config Config) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 1000
	}
	return &Router{
		logger:   logger,
		client:   client,
		config:   config,
		auditLog: make([]Decision, 0, config.MaxAuditLog),
		stats: Stats{
			LabelCounts: make(map[Label]int64),
		},
	}
}

// Classify asks the classifier model for a label. Replies outside the
// closed set become GENERAL. A failed model call returns an error
// wrapping [ErrRoutingFailed].
func (r *Router) Classify(ctx context.Context, message string) (Label, *Decision, error) {
	decision := &Decision{
		RequestID:   generateRequestID(),
		Timestamp:   time.Now(),
		QueryLength: len(message),
		KeywordHint: detectHint(message),
		Model:       r.config.Model,
	}

	start := time.Now()
	resp, err := r.client.Chat(ctx, llm.Request{
		Model:       r.config.Model,
		Messages:    []llm.Message{llm.UserMessage(BuildPrompt(message))},
		Temperature: llm.Temperature(0),
		MaxTokens:   10,
	})
	decision.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		decision.Error = err.Error()
		decision.Reasoning = "Classifier call failed."
		r.recordDecision(*decision)
		r.logger.Error("routing failed", "request_id", decision.RequestID, "error", err)
		return "", decision, fmt.Errorf("%w: %w", ErrRoutingFailed, err)
	}

	decision.TokensUsed = resp.InputTokens + resp.OutputTokens
	decision.RawReply = resp.Message.Content
	label := Label(strings.ToUpper(strings.TrimSpace(resp.Message.Content)))

	if !label.Valid() {
		r.logger.Warn("routing anomaly, defaulting to GENERAL",
			"request_id", decision.RequestID,
			"reply", resp.Message.Content,
		)
		decision.Coerced = true
		decision.Reasoning = fmt.Sprintf("Reply %q outside label set, coerced to %s.", strings.TrimSpace(resp.Message.Content), LabelGeneral)
		label = LabelGeneral
	} else {
		decision.Reasoning = "Classified as " + string(label) + "."
	}
	if decision.KeywordHint != "" {
		decision.Reasoning += " Keyword hint: " + string(decision.KeywordHint) + "."
	}

	decision.Label = label
	decision.Confidence = ConfidenceHigh
	r.recordDecision(*decision)

	r.logger.Info("message routed",
		"request_id", decision.RequestID,
		"label", label,
		"latency_ms", decision.LatencyMs,
	)
	return label, decision, nil
}

// detectHint guesses a label from vocabulary alone. It is recorded for
// audit and never overrides the classifier.
func detectHint(query string) Label {
	q := strings.ToLower(query)

	containsAny := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("human", "humano", "atendente", "ticket", "escalate", "talk to someone", "support agent"):
		return LabelEscalate
	case containsAny("my account", "minha conta", "my transfer", "my transaction", "minhas transações", "failed", "blocked", "bloquead"):
		return LabelSupport
	case containsAny("pix", "fee", "taxa", "maquininha", "tap to pay", "infinitepay", "pdv"):
		return LabelKnowledge
	default:
		return ""
	}
}

// RecordOutcome updates a decision with the dispatch result.
func (r *Router) RecordOutcome(requestID, agent string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			r.auditLog[i].Agent = agent
			r.auditLog[i].Success = &success
			break
		}
	}
}

// recordDecision adds a decision to the audit log.
func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Trim if over capacity
	if len(r.auditLog) >= r.config.MaxAuditLog {
		r.auditLog = r.auditLog[1:]
	}

	r.auditLog = append(r.auditLog, d)

	r.stats.TotalRequests++
	r.stats.AvgLatencyMs += (d.LatencyMs - r.stats.AvgLatencyMs) / r.stats.TotalRequests
	switch {
	case d.Error != "":
		r.stats.Failures++
		return
	case d.Coerced:
		r.stats.Anomalies++
	}
	r.stats.LabelCounts[d.Label]++
	if d.KeywordHint != "" && d.KeywordHint == d.Label {
		r.stats.HintAgreements++
	}
}

// GetAuditLog returns recent routing decisions.
func (r *Router) GetAuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}

	// Return most recent
	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// GetStats returns a snapshot of routing statistics.
func (r *Router) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.stats
	s.LabelCounts = make(map[Label]int64, len(r.stats.LabelCounts))
	for k, v := range r.stats.LabelCounts {
		s.LabelCounts[k] = v
	}
	return s
}

// Explain returns details about why a specific decision was made.
func (r *Router) Explain(requestID string) *Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			d := r.auditLog[i]
			return &d
		}
	}
	return nil
}

var requestSeq atomic.Uint64

func generateRequestID() string {
	return fmt.Sprintf("%s-%04d", time.Now().Format("20060102-150405.000"), requestSeq.Add(1)%10000)
}
