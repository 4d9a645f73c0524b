package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/llm"
)

// Recorder persists usage records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Meter is an [llm.Client] that records the token usage of every
// successful call made through it.
type Meter struct {
	next     llm.Client
	recorder Recorder
	stage    string
	pricing  map[string]config.PricingEntry
	logger   *slog.Logger
}

// NewMeter wraps next. Calls are tagged with stage.
func NewMeter(next llm.Client, recorder Recorder, stage string, pricing map[string]config.PricingEntry, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		next:     next,
		recorder: recorder,
		stage:    stage,
		pricing:  pricing,
		logger:   logger.With("component", "usage", "stage", stage),
	}
}

// Chat forwards req and records the response's token counts. A failed
// write is logged and never fails the call.
func (m *Meter) Chat(ctx context.Context, req llm.Request) (*llm.ChatResponse, error) {
	resp, err := m.next.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	rec := Record{
		Timestamp:    time.Now(),
		Stage:        m.stage,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      ComputeCost(model, resp.InputTokens, resp.OutputTokens, m.pricing),
	}
	if rerr := m.recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		m.logger.Warn("failed to record usage", "model", model, "error", rerr)
	}
	return resp, nil
}

// Ping forwards to the wrapped client.
func (m *Meter) Ping(ctx context.Context) error {
	return m.next.Ping(ctx)
}
