package knowledge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/switchboard/internal/httpkit"
)

// DefaultFetchTimeout is the HTTP request timeout for fetching pages.
const DefaultFetchTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// Page is a fetched document reduced to plain text.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads web pages and extracts their readable text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher. client may be nil.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = httpkit.NewClient(
			httpkit.WithTimeout(DefaultFetchTimeout),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithLogger(logger),
		)
	}
	return &Fetcher{
		client:   client,
		maxBytes: DefaultMaxBytes,
		logger:   logger.With("component", "fetch"),
	}
}

// Fetch downloads rawURL and extracts its text. HTML pages lose their
// script, style, navigation, header and footer content. Markdown is
// rendered to text. A page without a title is named after the last
// segment of its URL path.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown,text/plain;q=0.9,*/*;q=0.7")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, f.maxBytes)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	page := &Page{
		URL:         rawURL,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(contentType):
		page.Title, page.Content = ExtractHTML(string(body))
	case isMarkdown(contentType, rawURL):
		page.Title, page.Content = ExtractMarkdown(body)
	case utf8.Valid(body):
		page.Content = cleanWhitespace(string(body))
	default:
		return nil, fmt.Errorf("fetch %s: binary content (%s)", rawURL, contentType)
	}

	if page.Title == "" {
		page.Title = titleFromURL(rawURL)
	}

	f.logger.Debug("page fetched", "url", rawURL, "title", page.Title, "chars", len(page.Content))
	return page, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isMarkdown(ct, rawURL string) bool {
	if strings.Contains(strings.ToLower(ct), "markdown") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return ext == ".md" || ext == ".markdown"
}

// titleFromURL returns the last non-empty path segment, or the host.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if seg := path.Base(strings.TrimRight(u.Path, "/")); seg != "" && seg != "." && seg != "/" {
		return seg
	}
	return u.Host
}
