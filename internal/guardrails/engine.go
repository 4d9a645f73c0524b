// Package guardrails screens inbound chat messages before any model call.
//
// Checks run in a fixed order and the first match wins: blocked terms,
// prompt injection phrases, spam heuristics, then an informational
// off-topic flag for long messages with no domain vocabulary. Matching is
// case-insensitive substring containment, so a blocked term inside an
// unrelated longer word still trips the filter.
package guardrails

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Severity ranks how serious a verdict is.
type Severity string

// Severity tiers.
const (
	SeverityNone   Severity = ""
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Verdict reasons.
const (
	ReasonBlockedContent = "Message contains inappropriate or illegal content"
	ReasonInjection      = "Message appears to contain prompt injection attempt"
	ReasonSpam           = "Message appears to be spam"
	ReasonOffTopic       = "Message is off-topic but allowed"
)

// Thresholds.
const (
	// MaxMessageLength is the length in characters above which a
	// message is treated as spam.
	MaxMessageLength = 2000

	// RepeatThreshold is the run length of a single punctuation
	// character that marks a message as spam.
	RepeatThreshold = 10

	// OffTopicLength is the length above which a message with no topic
	// terms is flagged.
	OffTopicLength = 100
)

// Verdict is the outcome of evaluating one message.
type Verdict struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Severity Severity `json:"severity,omitempty"`
}

// Flagged reports whether any check fired, including the non-blocking
// off-topic check.
func (v Verdict) Flagged() bool { return v.Severity != SeverityNone }

// Engine evaluates messages against a fixed set of term lists. It holds
// no mutable state and is safe for concurrent use.
type Engine struct {
	blocked   []string
	injection []string
	topics    []string
	logger    *slog.Logger
}

// New creates an engine from the given patterns.
func New(p Patterns, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		blocked:   normalize(p.Blocked),
		injection: normalize(p.Injection),
		topics:    normalize(p.AllowedTopics),
		logger:    logger,
	}
}

// Evaluate runs every check in priority order and returns the first
// verdict that fires, or an unflagged allow.
func (e *Engine) Evaluate(message string) Verdict {
	lower := strings.ToLower(message)
	length := utf8.RuneCountInString(message)

	var v Verdict
	switch {
	case containsAny(lower, e.blocked) != "":
		v = Verdict{Reason: ReasonBlockedContent, Severity: SeverityHigh}
	case containsAny(lower, e.injection) != "":
		v = Verdict{Reason: ReasonInjection, Severity: SeverityHigh}
	case length > MaxMessageLength || hasRepeatedPunct(message, RepeatThreshold):
		v = Verdict{Reason: ReasonSpam, Severity: SeverityMedium}
	case length > OffTopicLength && containsAny(lower, e.topics) == "":
		v = Verdict{Allowed: true, Reason: ReasonOffTopic, Severity: SeverityLow}
	default:
		return Verdict{Allowed: true}
	}

	if v.Allowed {
		e.logger.Debug("guardrail flag", "reason", v.Reason, "severity", v.Severity, "message_len", length)
	} else {
		e.logger.Warn("guardrail block", "reason", v.Reason, "severity", v.Severity, "message_len", length)
	}
	return v
}

// containsAny returns the first term found in s, or "".
func containsAny(s string, terms []string) string {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return t
		}
	}
	return ""
}

// hasRepeatedPunct reports whether a single punctuation rune occurs n or
// more times in a row. '$' counts as punctuation; other symbols such as
// '=' or emoji do not.
func hasRepeatedPunct(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if !unicode.IsPunct(r) && r != '$' {
			run = 0
			prev = 0
			continue
		}
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run >= n {
			return true
		}
	}
	return false
}
