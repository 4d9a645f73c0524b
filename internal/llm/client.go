// Package llm provides the language model clients used by the router and
// responders. Providers speak different wire formats; this package
// normalizes them to [Message], [ToolCall] and [ChatResponse].
package llm

import (
	"context"
	"errors"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// ErrNoProvider is returned when no client is configured for a model.
var ErrNoProvider = errors.New("no provider configured")

// Client is the interface that all LLM providers implement.
type Client interface {
	// Chat sends a single non-streaming completion request.
	Chat(ctx context.Context, req Request) (*ChatResponse, error)

	// Ping checks that the provider is reachable.
	Ping(ctx context.Context) error
}

// Request is a provider-neutral completion request.
type Request struct {
	Model    string
	Messages []Message

	// Tools are function definitions in OpenAI format:
	// {"type": "function", "function": {"name", "description", "parameters"}}.
	Tools []map[string]any

	// Temperature is nil for the provider default.
	Temperature *float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// Temperature returns a pointer suitable for [Request.Temperature].
func Temperature(v float64) *float64 { return &v }

// Message is a single chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model        string
	Message      Message
	InputTokens  int
	OutputTokens int
}

// SystemMessage returns a system-role message.
func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }

// UserMessage returns a user-role message.
func UserMessage(content string) Message { return Message{Role: "user", Content: content} }

// AssistantMessage returns an assistant-role message.
func AssistantMessage(content string) Message { return Message{Role: "assistant", Content: content} }
