package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/support"
	"github.com/nugget/switchboard/internal/tools"
)

// SupportState tracks the two-step tool protocol.
type SupportState string

const (
	// StateAwaitingTools: the first reply has been requested with tools
	// enabled.
	StateAwaitingTools SupportState = "AWAITING_TOOLS"

	// StateToolsResolved: every requested tool has run and the results
	// are ready for the second call.
	StateToolsResolved SupportState = "TOOLS_RESOLVED"

	// StateAnswered: a final answer exists.
	StateAnswered SupportState = "ANSWERED"
)

// SupportConfig tunes the support responder.
type SupportConfig struct {
	Model       string
	Temperature float64 // default 0.3
	MaxTokens   int     // default 1500
}

// Support answers account questions with the help of backend lookups
// exposed to the model as tools.
type Support struct {
	llm    llm.Client
	tools  *tools.Registry
	config SupportConfig
	logger *slog.Logger
}

// NewSupport creates the support responder. reg must already hold the
// support tools.
func NewSupport(logger *slog.Logger, client llm.Client, reg *tools.Registry, cfg SupportConfig) *Support {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	return &Support{
		llm:    client,
		tools:  reg,
		config: cfg,
		logger: logger.With("responder", "support"),
	}
}

// Name implements Responder.
func (s *Support) Name() string { return "support" }

// toolOutcome is one executed tool call.
type toolOutcome struct {
	Name   string
	Result string
}

// Respond implements Responder. The first call offers the tools; if the
// model asks for none, its reply is the answer. Otherwise each tool runs
// against the caller's account and a second call, without tools, turns
// the results into the answer.
func (s *Support) Respond(ctx context.Context, req Request) Result {
	state := StateAwaitingTools
	system := BuildSupportPrompt(req.History, req.UserKey, req.Message)

	first, err := s.llm.Chat(ctx, llm.Request{
		Model:       s.config.Model,
		Messages:    []llm.Message{llm.SystemMessage(system), llm.UserMessage(req.Message)},
		Tools:       s.tools.List(),
		Temperature: llm.Temperature(s.config.Temperature),
		MaxTokens:   s.config.MaxTokens,
	})
	if err != nil {
		return failure(fmt.Errorf("support llm: %w", err), map[string]any{"state": string(state)})
	}

	calls := first.Message.ToolCalls
	if len(calls) == 0 {
		state = StateAnswered
		text := strings.TrimSpace(first.Message.Content)
		if text == "" {
			return failure(errors.New("support llm: empty reply"), map[string]any{"state": string(state)})
		}
		s.logger.Info("answered without tools")
		return success(text, map[string]any{
			"tools_used": []string{},
			"tool_count": 0,
			"state":      string(state),
		})
	}

	s.logger.Info("model requested tools", "count", len(calls))
	toolCtx := support.WithUserKey(ctx, req.UserKey)
	outcomes := make([]toolOutcome, 0, len(calls))
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Function.Name)
		out, err := s.tools.Execute(toolCtx, call.Function.Name, call.Function.Arguments)
		if err != nil {
			s.logger.Warn("tool failed", "tool", call.Function.Name, "error", err)
			out = fmt.Sprintf(`{"error": %q}`, err.Error())
		}
		outcomes = append(outcomes, toolOutcome{Name: call.Function.Name, Result: out})
	}
	state = StateToolsResolved

	second, err := s.llm.Chat(ctx, llm.Request{
		Model: s.config.Model,
		Messages: []llm.Message{
			llm.SystemMessage(system),
			llm.UserMessage(buildToolFollowUp(formatOutcomes(outcomes))),
		},
		Temperature: llm.Temperature(s.config.Temperature),
		MaxTokens:   s.config.MaxTokens,
	})
	if err != nil {
		return failure(fmt.Errorf("support llm after tools: %w", err), map[string]any{
			"state":      string(state),
			"tools_used": names,
		})
	}

	text := strings.TrimSpace(second.Message.Content)
	if text == "" {
		return failure(errors.New("support llm: empty reply after tools"), map[string]any{
			"state":      string(state),
			"tools_used": names,
		})
	}
	state = StateAnswered

	return success(text, map[string]any{
		"tools_used": names,
		"tool_count": len(names),
		"state":      string(state),
	})
}

func formatOutcomes(outcomes []toolOutcome) string {
	var b strings.Builder
	for i, o := range outcomes {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(o.Name)
		b.WriteString(": ")
		b.WriteString(o.Result)
	}
	return b.String()
}
