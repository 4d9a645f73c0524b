package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	name    string
	results []Result
	err     error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	return m.results, m.err
}

func TestManagerSearch(t *testing.T) {
	mgr := NewManager("mock", nil)
	mgr.Register(&mockProvider{
		name: "mock",
		results: []Result{
			{Title: "Test", URL: "https://example.com", Snippet: "A test result"},
		},
	})

	results, err := mgr.Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Test" {
		t.Errorf("expected title 'Test', got %q", results[0].Title)
	}
}

func TestManagerSearchWith(t *testing.T) {
	mgr := NewManager("primary", nil)
	mgr.Register(&mockProvider{name: "primary", results: []Result{{Title: "Primary"}}})
	mgr.Register(&mockProvider{name: "secondary", results: []Result{{Title: "Secondary"}}})

	results, err := mgr.SearchWith(context.Background(), "secondary", "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Title != "Secondary" {
		t.Errorf("expected 'Secondary', got %q", results[0].Title)
	}

	if got := mgr.Providers(); len(got) != 2 || got[0] != "primary" || got[1] != "secondary" {
		t.Errorf("Providers = %v", got)
	}
}

func TestManagerUnconfigured(t *testing.T) {
	mgr := NewManager("missing", nil)
	if mgr.Configured() {
		t.Error("empty manager should not be configured")
	}
	if _, err := mgr.Search(context.Background(), "test", Options{}); err == nil {
		t.Fatal("expected error for missing provider")
	}

	mgr.Register(&mockProvider{name: "other"})
	if mgr.Configured() {
		t.Error("manager without its primary should not be configured")
	}
	mgr.Register(&mockProvider{name: "missing"})
	if !mgr.Configured() {
		t.Error("manager with primary should be configured")
	}
}

func TestManagerProviderError(t *testing.T) {
	mgr := NewManager("broken", nil)
	mgr.Register(&mockProvider{name: "broken", err: errors.New("quota exceeded")})

	if _, err := mgr.Search(context.Background(), "test", Options{}); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

func TestFormatContext(t *testing.T) {
	results := []Result{
		{Title: "A", Snippet: "Pix is instant."},
		{Title: "B", Snippet: "Fees vary."},
	}
	if got := FormatContext(results); got != "1. Pix is instant.\n\n2. Fees vary." {
		t.Errorf("FormatContext = %q", got)
	}
	if got := FormatContext(nil); got != NoResultsText {
		t.Errorf("FormatContext(nil) = %q", got)
	}
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		{Title: "First", URL: "https://a.com", Snippet: "Snippet A"},
		{Title: "Second", URL: "https://b.com"},
	}
	want := "1. First\n   https://a.com\n   Snippet A\n\n2. Second\n   https://b.com"
	if got := FormatResults(results); got != want {
		t.Errorf("FormatResults = %q", got)
	}
	if got := FormatResults(nil); got != "No results found." {
		t.Errorf("expected 'No results found.', got %q", got)
	}
	if got := URLs(results); len(got) != 2 || got[1] != "https://b.com" {
		t.Errorf("URLs = %v", got)
	}
}

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tvly-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Query != "taxas pix" || req.MaxResults != 3 || req.SearchDepth != "basic" || req.APIKey != "tvly-test" {
			t.Errorf("request body = %+v", req)
		}
		json.NewEncoder(w).Encode(tavilyResponse{
			Query: req.Query,
			Results: []tavilyResult{
				{Title: "Pix", URL: "https://example.com/pix", Content: "Pix is free.", Score: 0.9},
				{Title: "Taxas", URL: "https://example.com/taxas", Content: "Fees table.", Score: 0.7},
				{Title: "Blog", URL: "https://example.com/blog", Content: "News.", Score: 0.5},
				{Title: "Extra", URL: "https://example.com/extra", Content: "Ignored.", Score: 0.1},
			},
		})
	}))
	defer srv.Close()

	tv := NewTavily(TavilyConfig{APIKey: "tvly-test", BaseURL: srv.URL + "/"}, nil)
	results, err := tv.Search(context.Background(), "taxas pix", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Snippet != "Pix is free." || results[0].Score != 0.9 {
		t.Errorf("first result = %+v", results[0])
	}
}

func TestTavilySearch_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	tv := NewTavily(TavilyConfig{APIKey: "bad", BaseURL: srv.URL}, nil)
	_, err := tv.Search(context.Background(), "x", Options{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want HTTP 401", err)
	}
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/res/v1/web/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Error("missing subscription token")
		}
		q := r.URL.Query()
		if q.Get("q") != "maquininha" || q.Get("count") != "2" || q.Get("search_lang") != "pt" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"web":{"results":[{"title":"Maquininha","url":"https://example.com/m","description":"Card reader."}]}}`))
	}))
	defer srv.Close()

	b := NewBrave(BraveConfig{APIKey: "brave-key", BaseURL: srv.URL}, nil)
	results, err := b.Search(context.Background(), "maquininha", Options{Count: 2, Language: "pt"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Snippet != "Card reader." {
		t.Errorf("results = %+v", results)
	}
}
