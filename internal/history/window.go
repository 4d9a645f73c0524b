// Package history renders the recent turns of a session as prompt
// context.
package history

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/switchboard/internal/store"
)

// DefaultPairs is how many message/response pairs are included when the
// caller does not specify a limit.
const DefaultPairs = 5

// Prompt block delimiters.
const (
	Header = "[CONVERSATION HISTORY - Use ONLY if relevant to current question]"
	Footer = "[END OF HISTORY]"
)

// Entry is one side of a turn.
type Entry struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// TurnSource returns a session's turns, newest first.
type TurnSource interface {
	QueryRecentTurns(ctx context.Context, sessionID string, limit int) ([]store.Turn, error)
}

// Window reads bounded history for a session.
type Window struct {
	turns  TurnSource
	pairs  int
	logger *slog.Logger
}

// NewWindow creates a history window. pairs is the default limit used
// when callers pass zero; non-positive means [DefaultPairs].
func NewWindow(turns TurnSource, pairs int, logger *slog.Logger) *Window {
	if pairs <= 0 {
		pairs = DefaultPairs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Window{turns: turns, pairs: pairs, logger: logger}
}

// GetHistory returns up to limitPairs of the most recent turns in
// chronological order, each expanded into a user entry followed by an
// assistant entry.
func (w *Window) GetHistory(ctx context.Context, sessionID string, limitPairs int) ([]Entry, error) {
	if limitPairs <= 0 {
		limitPairs = w.pairs
	}
	turns, err := w.turns.QueryRecentTurns(ctx, sessionID, limitPairs)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, 2*len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		entries = append(entries,
			Entry{Role: "user", Content: turns[i].Message},
			Entry{Role: "assistant", Content: turns[i].Response},
		)
	}
	return entries, nil
}

// FormatForPrompt renders the history block, or "" when the session has
// no turns.
func (w *Window) FormatForPrompt(ctx context.Context, sessionID string, limitPairs int) (string, error) {
	entries, err := w.GetHistory(ctx, sessionID, limitPairs)
	if err != nil {
		return "", err
	}
	formatted := Format(entries)
	if formatted != "" {
		w.logger.Debug("history formatted", "pairs", len(entries)/2, "chars", len(formatted))
	}
	return formatted, nil
}

// Format renders entries between [Header] and [Footer].
func Format(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(Header)
	for _, e := range entries {
		sb.WriteString("\n")
		sb.WriteString(roleLabel(e.Role))
		sb.WriteString(": ")
		sb.WriteString(e.Content)
	}
	sb.WriteString("\n")
	sb.WriteString(Footer)
	return sb.String()
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	}
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
