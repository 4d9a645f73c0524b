package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/nugget/switchboard/internal/llm"
)

// fakeLLM replies with a fixed string or error and records the request.
type fakeLLM struct {
	reply string
	err   error
	last  llm.Request
	calls int
}

func (f *fakeLLM) Chat(_ context.Context, req llm.Request) (*llm.ChatResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Message: llm.AssistantMessage(f.reply), InputTokens: 300, OutputTokens: 2}, nil
}

func (f *fakeLLM) Ping(context.Context) error { return nil }

func newTestRouter(client llm.Client) *Router {
	return NewRouter(slog.Default(), client, Config{
		Model:       "test-model",
		MaxAuditLog: 10,
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		want        Label
		wantCoerced bool
	}{
		{name: "knowledge", reply: "KNOWLEDGE", want: LabelKnowledge},
		{name: "support", reply: "SUPPORT", want: LabelSupport},
		{name: "escalate", reply: "ESCALATE", want: LabelEscalate},
		{name: "general", reply: "GENERAL", want: LabelGeneral},
		{name: "lowercase with whitespace", reply: "  support\n", want: LabelSupport},
		{name: "unknown word", reply: "BILLING", want: LabelGeneral, wantCoerced: true},
		{name: "sentence", reply: "The answer is KNOWLEDGE", want: LabelGeneral, wantCoerced: true},
		{name: "empty", reply: "", want: LabelGeneral, wantCoerced: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeLLM{reply: tt.reply})
			label, decision, err := r.Classify(context.Background(), "hello")
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if label != tt.want {
				t.Errorf("label = %s, want %s", label, tt.want)
			}
			if decision.Coerced != tt.wantCoerced {
				t.Errorf("Coerced = %v, want %v", decision.Coerced, tt.wantCoerced)
			}
			if decision.Confidence != ConfidenceHigh {
				t.Errorf("Confidence = %q, want high", decision.Confidence)
			}
			if decision.Label != label {
				t.Errorf("decision label = %s, want %s", decision.Label, label)
			}
		})
	}
}

func TestClassify_RequestShape(t *testing.T) {
	f := &fakeLLM{reply: "KNOWLEDGE"}
	r := newTestRouter(f)

	if _, _, err := r.Classify(context.Background(), "What are the Pix fees?"); err != nil {
		t.Fatal(err)
	}
	if f.last.Model != "test-model" {
		t.Errorf("model = %q", f.last.Model)
	}
	if f.last.Temperature == nil || *f.last.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", f.last.Temperature)
	}
	if f.last.MaxTokens != 10 {
		t.Errorf("max tokens = %d, want 10", f.last.MaxTokens)
	}
	if len(f.last.Messages) != 1 || !strings.Contains(f.last.Messages[0].Content, "User message: What are the Pix fees?") {
		t.Errorf("prompt does not carry the message: %+v", f.last.Messages)
	}
	if len(f.last.Tools) != 0 {
		t.Error("classifier must not offer tools")
	}
}

func TestClassify_Failure(t *testing.T) {
	r := newTestRouter(&fakeLLM{err: errors.New("connection refused")})

	label, decision, err := r.Classify(context.Background(), "hello")
	if !errors.Is(err, ErrRoutingFailed) {
		t.Fatalf("err = %v, want ErrRoutingFailed", err)
	}
	if label != "" {
		t.Errorf("label on failure = %q, want empty (not GENERAL)", label)
	}
	if decision == nil || decision.Error == "" {
		t.Errorf("decision should record the error: %+v", decision)
	}

	stats := r.GetStats()
	if stats.Failures != 1 || stats.TotalRequests != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LabelCounts[LabelGeneral] != 0 {
		t.Error("failure must not count as GENERAL")
	}
}

func TestDetectHint(t *testing.T) {
	tests := []struct {
		query string
		want  Label
	}{
		{query: "I want to talk to a human", want: LabelEscalate},
		{query: "Quero falar com um atendente", want: LabelEscalate},
		{query: "Why is my account blocked?", want: LabelSupport},
		{query: "My transfer failed", want: LabelSupport},
		{query: "What are the Pix fees?", want: LabelKnowledge},
		{query: "Como funciona a maquininha?", want: LabelKnowledge},
		{query: "Tell me a joke", want: ""},
	}
	for _, tt := range tests {
		if got := detectHint(tt.query); got != tt.want {
			t.Errorf("detectHint(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestAuditLog(t *testing.T) {
	f := &fakeLLM{reply: "SUPPORT"}
	r := newTestRouter(f)

	var ids []string
	for i := 0; i < 12; i++ {
		_, d, err := r.Classify(context.Background(), "my transfer failed")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.RequestID)
	}

	all := r.GetAuditLog(0)
	if len(all) != 10 {
		t.Fatalf("audit log size = %d, want capped at 10", len(all))
	}
	if all[len(all)-1].RequestID != ids[len(ids)-1] {
		t.Error("newest decision should be last")
	}

	recent := r.GetAuditLog(3)
	if len(recent) != 3 || recent[2].RequestID != ids[11] {
		t.Errorf("GetAuditLog(3) = %d entries", len(recent))
	}

	if r.Explain(ids[0]) != nil {
		t.Error("trimmed decision should not be explainable")
	}
	d := r.Explain(ids[11])
	if d == nil || d.Label != LabelSupport {
		t.Fatalf("Explain = %+v", d)
	}

	r.RecordOutcome(ids[11], "support", true)
	d = r.Explain(ids[11])
	if d.Agent != "support" || d.Success == nil || !*d.Success {
		t.Errorf("outcome not recorded: %+v", d)
	}

	stats := r.GetStats()
	if stats.TotalRequests != 12 || stats.LabelCounts[LabelSupport] != 12 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.HintAgreements != 12 {
		t.Errorf("hint agreements = %d, want 12", stats.HintAgreements)
	}
}

func TestGetStats_Snapshot(t *testing.T) {
	r := newTestRouter(&fakeLLM{reply: "KNOWLEDGE"})
	r.Classify(context.Background(), "pix")

	s := r.GetStats()
	s.LabelCounts[LabelKnowledge] = 99

	if got := r.GetStats().LabelCounts[LabelKnowledge]; got != 1 {
		t.Errorf("stats mutated through snapshot: %d", got)
	}
}

func TestRequestIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := generateRequestID()
		if seen[id] {
			t.Fatalf("duplicate request id %s", id)
		}
		seen[id] = true
	}
}

func TestLabelValid(t *testing.T) {
	for _, l := range Labels {
		if !l.Valid() {
			t.Errorf("%s should be valid", l)
		}
	}
	if Label("OTHER").Valid() {
		t.Error("OTHER should be invalid")
	}
}
