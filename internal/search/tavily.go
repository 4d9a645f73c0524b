package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/switchboard/internal/httpkit"
)

const (
	tavilyDefaultBaseURL = "https://api.tavily.com"

	// DefaultTavilyResults matches the fallback depth used by the
	// knowledge responder.
	DefaultTavilyResults = 3
)

// Tavily implements the Provider interface for the Tavily search API.
type Tavily struct {
	apiKey     string
	baseURL    string
	depth      string
	httpClient *http.Client
	logger     *slog.Logger
}

// TavilyConfig holds configuration for the Tavily provider.
type TavilyConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	SearchDepth string `yaml:"search_depth"` // basic (default) or advanced
}

// Configured reports whether a Tavily API key is set.
func (c TavilyConfig) Configured() bool {
	return c.APIKey != ""
}

// NewTavily creates a Tavily provider.
func NewTavily(cfg TavilyConfig, logger *slog.Logger) *Tavily {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = tavilyDefaultBaseURL
	}
	depth := cfg.SearchDepth
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		depth:   depth,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(20*time.Second),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count == 0 {
		count = DefaultTavilyResults
	}

	req, err := httpkit.NewJSONRequest(ctx, http.MethodPost, t.baseURL+"/search", tavilyRequest{
		APIKey:      t.apiKey,
		Query:       query,
		MaxResults:  count,
		SearchDepth: t.depth,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}

	var tr tavilyResponse
	if err := httpkit.DecodeJSON(resp, &tr); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	results := make([]Result, 0, len(tr.Results))
	for i, r := range tr.Results {
		if i >= count {
			break
		}
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
		})
	}
	return results, nil
}
