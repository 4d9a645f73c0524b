package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu      sync.Mutex
	tickets []Ticket
	err     error
}

func (r *recordingNotifier) Notify(_ context.Context, t Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets = append(r.tickets, t)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestHandler(n Notifier) (*Handler, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)}
	h := NewHandler(Config{}, n, nil)
	h.now = clock.now
	return h, clock
}

func TestTicketID(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		key  string
		want string
	}{
		{"user_leonardo", "SUP-20250102030405-user_leo"},
		{"u1", "SUP-20250102030405-u1"},
		{"joãozinho_99", "SUP-20250102030405-joãozinh"},
	}
	for _, tt := range tests {
		if got := TicketID(tt.key, at); got != tt.want {
			t.Errorf("TicketID(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestEscalate_Dedup(t *testing.T) {
	n := &recordingNotifier{}
	h, clock := newTestHandler(n)
	ctx := context.Background()

	first := h.Escalate(ctx, Request{Message: "quero falar com um humano", UserKey: "user_leo", Reason: ReasonUserRequest})
	if !first.Escalated || first.TicketID != "SUP-20250314092653-user_leo" {
		t.Fatalf("first = %+v", first)
	}
	if !strings.Contains(first.ResponseText, first.TicketID) || !strings.Contains(first.ResponseText, "1-2 horas") {
		t.Errorf("first response = %q", first.ResponseText)
	}

	clock.advance(4 * time.Minute)
	second := h.Escalate(ctx, Request{Message: "e aí?", UserKey: "user_leo", Reason: ReasonUserRequest})
	if second.Escalated || second.TicketID != first.TicketID {
		t.Fatalf("second = %+v", second)
	}
	if !strings.Contains(second.ResponseText, "já foi encaminhada") {
		t.Errorf("second response = %q", second.ResponseText)
	}
	if second.Metadata["duplicate"] != true || second.Metadata["escalated"] != false {
		t.Errorf("second metadata = %v", second.Metadata)
	}

	other := h.Escalate(ctx, Request{Message: "help", UserKey: "user_luiz"})
	if !other.Escalated {
		t.Error("another user's escalation must not be suppressed")
	}

	clock.advance(2 * time.Minute)
	third := h.Escalate(ctx, Request{Message: "ainda nada", UserKey: "user_leo"})
	if !third.Escalated || third.TicketID == first.TicketID {
		t.Fatalf("third = %+v", third)
	}

	h.Wait()
	if got := n.count(); got != 3 {
		t.Errorf("notifications = %d, want 3", got)
	}
}

func TestEscalate_Metadata(t *testing.T) {
	h, _ := newTestHandler(nil)
	out := h.Escalate(context.Background(), Request{Message: "x", UserKey: "user_test"})
	h.Wait()

	want := map[string]any{
		"escalated":     true,
		"ticket_id":     out.TicketID,
		"reason":        "complex_issue",
		"slack_channel": "#support-escalations",
		"mocked":        true,
		"duplicate":     false,
	}
	for k, v := range want {
		if out.Metadata[k] != v {
			t.Errorf("metadata[%s] = %v, want %v", k, out.Metadata[k], v)
		}
	}

	live, _ := newTestHandler(&recordingNotifier{})
	out = live.Escalate(context.Background(), Request{Message: "x", UserKey: "user_test"})
	live.Wait()
	if out.Metadata["mocked"] != false {
		t.Error("a real notifier must not report mocked")
	}
}

func TestEscalate_NotifierFailure(t *testing.T) {
	n := &recordingNotifier{err: errors.New("channel_not_found")}
	h, _ := newTestHandler(n)

	ctx, cancel := context.WithCancel(context.Background())
	out := h.Escalate(ctx, Request{
		Message: "tudo quebrado",
		UserKey: "user_blocked",
		Reason:  ReasonTechnicalFailure,
		History: "User: oi\nAssistant: olá",
		Aux:     map[string]any{"original_error": "support llm: timeout"},
	})
	cancel()
	h.Wait()

	if !out.Escalated {
		t.Fatal("delivery failure must not undo the escalation")
	}
	if n.count() != 1 {
		t.Fatalf("notifications = %d", n.count())
	}
	tk := n.tickets[0]
	if tk.Reason != ReasonTechnicalFailure || tk.Aux["original_error"] != "support llm: timeout" || tk.History == "" {
		t.Errorf("ticket = %+v", tk)
	}
}

func TestCache_Eviction(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute, 2, time.Hour)

	c.Claim("a", "A", t0)
	c.Claim("b", "B", t0.Add(30*time.Minute))
	if c.Len() != 2 {
		t.Fatalf("Len = %d", c.Len())
	}

	// Over the bound: only records older than an hour go.
	c.Claim("c", "C", t0.Add(90*time.Minute))
	if c.Len() != 2 {
		t.Errorf("Len after eviction = %d, want 2", c.Len())
	}
	if _, ok := c.Lookup("a", t0.Add(90*time.Minute)); ok {
		t.Error("a should be gone")
	}

	// Nothing old enough: the cache grows past the bound.
	c.Claim("d", "D", t0.Add(90*time.Minute))
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestCache_ClaimCooldown(t *testing.T) {
	t0 := time.Now()
	c := NewCache(0, 0, 0)

	if rec, fresh := c.Claim("u", "T1", t0); !fresh || rec.TicketID != "T1" {
		t.Fatalf("first claim = %+v %v", rec, fresh)
	}
	if rec, fresh := c.Claim("u", "T2", t0.Add(DefaultCooldown-time.Second)); fresh || rec.TicketID != "T1" {
		t.Errorf("claim inside cooldown = %+v %v", rec, fresh)
	}
	if rec, fresh := c.Claim("u", "T3", t0.Add(DefaultCooldown)); !fresh || rec.TicketID != "T3" {
		t.Errorf("claim at cooldown = %+v %v", rec, fresh)
	}
}

func TestFormatNotice(t *testing.T) {
	notice := FormatNotice(Ticket{
		ID:        "SUP-1-u",
		UserKey:   "user_leo",
		Reason:    ReasonBlockedAccount,
		Message:   "minha conta",
		Aux:       map[string]any{"z": 1, "a": "x"},
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	for _, want := range []string{
		"**Ticket ID:** SUP-1-u",
		"**Reason:** Account blocked - requires manual review",
		"**User Message:**\nminha conta",
		"- a: x\n- z: 1",
	} {
		if !strings.Contains(notice, want) {
			t.Errorf("notice missing %q:\n%s", want, notice)
		}
	}
	if strings.Contains(notice, "**Conversation:**") {
		t.Error("empty history must be omitted")
	}
	if Reason("bogus").Describe() != "Unknown reason" {
		t.Error("unknown reason description")
	}
}

func TestMultiNotifier(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("boom")}
	m := NewMultiNotifier(ok, nil, bad)
	if m.Len() != 2 {
		t.Fatalf("Len = %d", m.Len())
	}
	err := m.Notify(context.Background(), Ticket{ID: "T"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v", err)
	}
	if ok.count() != 1 || bad.count() != 1 {
		t.Error("every notifier must be called")
	}
	if m.Mocked() {
		t.Error("recording notifiers are not mocked")
	}
	if !NewMultiNotifier(NewLogNotifier(nil)).Mocked() {
		t.Error("log-only multi notifier is mocked")
	}
}

func TestMQTTNotifier_NotStarted(t *testing.T) {
	n := NewMQTTNotifier(mqttTestConfig(), nil)
	if err := n.Notify(context.Background(), Ticket{ID: "T"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := n.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}

func TestEncodeTicket(t *testing.T) {
	data, err := EncodeTicket(Ticket{ID: "SUP-1", UserKey: "u", Reason: ReasonCompliance, Message: "m"})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["ticket_id"] != "SUP-1" || got["reason"] != "compliance" ||
		got["reason_description"] != "Compliance or regulatory issue detected" {
		t.Errorf("payload = %s", data)
	}
	if _, ok := got["history"]; ok {
		t.Error("empty history must be omitted")
	}
}
