package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ArkConfig configures the Volcengine Ark provider.
type ArkConfig struct {
	APIKey  string
	BaseURL string
	Region  string
	Model   string
}

// generator is the part of an eino chat model the Ark client uses.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ArkClient adapts an eino Ark chat model to [Client].
type ArkClient struct {
	model  generator
	name   string
	logger *slog.Logger
}

// NewArkClient builds an Ark-backed client through eino-ext.
func NewArkClient(ctx context.Context, cfg ArkConfig, logger *slog.Logger) (*ArkClient, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, errors.New("ark: api key and model are required")
	}
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Region:  cfg.Region,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("ark: create chat model: %w", err)
	}
	return newArkClient(cm, cfg.Model, logger), nil
}

func newArkClient(g generator, name string, logger *slog.Logger) *ArkClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArkClient{model: g, name: name, logger: logger.With("provider", "ark")}
}

// Chat sends the request through the eino model. The model name in req
// is informational; Ark binds the endpoint at construction.
func (c *ArkClient) Chat(ctx context.Context, req Request) (*ChatResponse, error) {
	msgs, err := toEinoMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	var opts []model.Option
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if tools := toEinoTools(req.Tools); len(tools) > 0 {
		opts = append(opts, model.WithTools(tools))
	}

	out, err := c.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("ark: generate: %w", err)
	}

	resp := &ChatResponse{
		Model:   c.name,
		Message: fromEinoMessage(out),
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		resp.InputTokens = out.ResponseMeta.Usage.PromptTokens
		resp.OutputTokens = out.ResponseMeta.Usage.CompletionTokens
	}

	c.logger.Debug("response received",
		"model", c.name,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Message.ToolCalls),
	)
	return resp, nil
}

// Ping sends a minimal generation request.
func (c *ArkClient) Ping(ctx context.Context) error {
	_, err := c.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}, model.WithMaxTokens(1))
	if err != nil {
		return fmt.Errorf("ark ping: %w", err)
	}
	return nil
}

func toEinoMessages(messages []Message) ([]*schema.Message, error) {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, schema.SystemMessage(m.Content))
		case "user":
			out = append(out, schema.UserMessage(m.Content))
		case "assistant":
			var calls []schema.ToolCall
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Function.Arguments)
				if err != nil {
					return nil, fmt.Errorf("ark: encode arguments for %s: %w", tc.Function.Name, err)
				}
				calls = append(calls, schema.ToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: tc.Function.Name, Arguments: string(args)},
				})
			}
			out = append(out, schema.AssistantMessage(m.Content, calls))
		case "tool":
			out = append(out, schema.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, fmt.Errorf("ark: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func fromEinoMessage(m *schema.Message) Message {
	msg := Message{Role: "assistant", Content: m.Content}
	for _, tc := range m.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:       tc.ID,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	return msg
}

// toEinoTools converts OpenAI-format tool definitions with flat object
// parameters into eino tool descriptors.
func toEinoTools(tools []map[string]any) []*schema.ToolInfo {
	var infos []*schema.ToolInfo
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)

		params := map[string]*schema.ParameterInfo{}
		spec, _ := fn["parameters"].(map[string]any)
		required := map[string]bool{}
		switch req := spec["required"].(type) {
		case []string:
			for _, r := range req {
				required[r] = true
			}
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		}
		props, _ := spec["properties"].(map[string]any)
		for pname, raw := range props {
			p, _ := raw.(map[string]any)
			typ, _ := p["type"].(string)
			pdesc, _ := p["description"].(string)
			params[pname] = &schema.ParameterInfo{
				Type:     schema.DataType(typ),
				Desc:     pdesc,
				Required: required[pname],
			}
		}

		infos = append(infos, &schema.ToolInfo{
			Name:        name,
			Desc:        desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}
