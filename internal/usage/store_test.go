package usage

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/llm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func testPricing() map[string]config.PricingEntry {
	return map[string]config.PricingEntry{
		"claude-sonnet-4-20250514": {InputPerMillion: 3, OutputPerMillion: 15},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputeCost(t *testing.T) {
	tests := []struct {
		model string
		in    int
		out   int
		want  float64
	}{
		{"claude-sonnet-4-20250514", 1_000_000, 0, 3},
		{"claude-sonnet-4-20250514", 2000, 1000, 0.021},
		{"qwen3:4b", 5000, 5000, 0},
	}
	for _, tt := range tests {
		if got := ComputeCost(tt.model, tt.in, tt.out, testPricing()); !approx(got, tt.want) {
			t.Errorf("ComputeCost(%s, %d, %d) = %v, want %v", tt.model, tt.in, tt.out, got, tt.want)
		}
	}
}

func TestRecordAndSummaries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []Record{
		{Timestamp: now, Stage: "router", Model: "qwen3:4b", InputTokens: 120, OutputTokens: 2},
		{Timestamp: now, Stage: "knowledge", Model: "claude-sonnet-4-20250514", InputTokens: 2000, OutputTokens: 1000, CostUSD: 0.021},
		{Timestamp: now, Stage: "router", Model: "qwen3:4b", InputTokens: 80, OutputTokens: 3},
		{Timestamp: now.Add(-48 * time.Hour), Stage: "support", Model: "qwen3:4b", InputTokens: 999, OutputTokens: 999},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start, end := now.Add(-time.Hour), now.Add(time.Hour)
	sum, err := s.Summary(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Calls != 3 || sum.InputTokens != 2200 || sum.OutputTokens != 1005 || !approx(sum.CostUSD, 0.021) {
		t.Errorf("Summary = %+v", sum)
	}

	byStage, err := s.SummaryByStage(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(byStage) != 2 || byStage["router"].Calls != 2 || byStage["knowledge"].Calls != 1 {
		t.Errorf("by stage = %v", byStage)
	}
	if _, ok := byStage["support"]; ok {
		t.Error("record outside the window was counted")
	}

	byModel, err := s.SummaryByModel(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if byModel["qwen3:4b"].InputTokens != 200 {
		t.Errorf("by model = %v", byModel)
	}

	report, err := s.Report(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total.Calls != 3 || len(report.ByStage) != 2 {
		t.Errorf("report = %+v", report)
	}
}

type stubLLM struct {
	resp *llm.ChatResponse
	err  error
}

func (s stubLLM) Chat(context.Context, llm.Request) (*llm.ChatResponse, error) { return s.resp, s.err }
func (s stubLLM) Ping(context.Context) error { return s.err }

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, Record) error {
	f.calls++
	return errors.New("disk full")
}

func TestMeter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := NewMeter(stubLLM{resp: &llm.ChatResponse{
		Model:        "claude-sonnet-4-20250514",
		Message:      llm.AssistantMessage("KNOWLEDGE"),
		InputTokens:  2000,
		OutputTokens: 1000,
	}}, s, "router", testPricing(), nil)

	resp, err := m.Chat(ctx, llm.Request{Model: "ignored"})
	if err != nil || resp.Message.Content != "KNOWLEDGE" {
		t.Fatalf("Chat = %+v, %v", resp, err)
	}

	byStage, err := s.SummaryByStage(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	got := byStage["router"]
	if got == nil || got.Calls != 1 || !approx(got.CostUSD, 0.021) {
		t.Errorf("router usage = %+v", got)
	}
}

func TestMeter_FallsBackToRequestModel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := NewMeter(stubLLM{resp: &llm.ChatResponse{InputTokens: 10}}, s, "support", nil, nil)
	if _, err := m.Chat(ctx, llm.Request{Model: "qwen3:4b"}); err != nil {
		t.Fatal(err)
	}
	byModel, err := s.SummaryByModel(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if byModel["qwen3:4b"] == nil {
		t.Errorf("by model = %v", byModel)
	}
}

func TestMeter_Errors(t *testing.T) {
	rec := &failingRecorder{}

	m := NewMeter(stubLLM{err: errors.New("timeout")}, rec, "knowledge", nil, nil)
	if _, err := m.Chat(context.Background(), llm.Request{}); err == nil {
		t.Error("expected provider error to propagate")
	}
	if rec.calls != 0 {
		t.Errorf("failed call was recorded %d times", rec.calls)
	}
	if err := m.Ping(context.Background()); err == nil {
		t.Error("expected Ping to forward the error")
	}

	m = NewMeter(stubLLM{resp: &llm.ChatResponse{Message: llm.AssistantMessage("ok")}}, rec, "knowledge", nil, nil)
	resp, err := m.Chat(context.Background(), llm.Request{})
	if err != nil || resp.Message.Content != "ok" {
		t.Errorf("recording failure leaked into the call: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("recorder calls = %d, want 1", rec.calls)
	}
}
