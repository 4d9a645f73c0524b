package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nugget/switchboard/internal/knowledge"
	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/router"
	"github.com/nugget/switchboard/internal/search"
)

// Context source types reported in the source_type metadata key.
const (
	SourceNone           = "none"
	SourceRAG            = "rag"
	SourceTavilyFallback = "tavily_fallback"
	SourceTavily         = "tavily"
)

// maxSmallTalkWords bounds how long a purely conversational message may
// be before it is treated as a real question.
const maxSmallTalkWords = 6

var smallTalkWords = map[string]bool{
	"oi": true, "olá": true, "ola": true, "hi": true, "hello": true, "hey": true,
	"bom": true, "boa": true, "dia": true, "tarde": true, "noite": true,
	"good": true, "morning": true, "afternoon": true, "evening": true,
	"thanks": true, "thank": true, "you": true, "obrigado": true, "obrigada": true,
	"valeu": true, "tchau": true, "bye": true, "tudo": true, "bem": true,
	"how": true, "are": true, "ok": true, "okay": true,
}

// isSmallTalk reports whether message is only greetings, thanks or
// farewells.
func isSmallTalk(message string) bool {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 || len(words) > maxSmallTalkWords {
		return false
	}
	for _, w := range words {
		if !smallTalkWords[w] {
			return false
		}
	}
	return true
}

// WebSearcher runs web searches. *search.Manager satisfies it.
type WebSearcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// KnowledgeConfig tunes the knowledge responder.
type KnowledgeConfig struct {
	Model       string
	TopK        int     // retrieval depth, default 3
	WebResults  int     // web results, default 3
	Temperature float64 // default 0.3
	MaxTokens   int     // default 1000
}

func (c *KnowledgeConfig) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.WebResults <= 0 {
		c.WebResults = search.DefaultTavilyResults
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
}

// Knowledge answers product and general questions from retrieved
// documents or web search results.
type Knowledge struct {
	llm       llm.Client
	retriever knowledge.Retriever
	web       WebSearcher
	config    KnowledgeConfig
	logger    *slog.Logger
}

// NewKnowledge creates the knowledge responder. retriever and web may be
// nil; a missing source contributes no context.
func NewKnowledge(logger *slog.Logger, client llm.Client, retriever knowledge.Retriever, web WebSearcher, cfg KnowledgeConfig) *Knowledge {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Knowledge{
		llm:       client,
		retriever: retriever,
		web:       web,
		config:    cfg,
		logger:    logger.With("responder", "knowledge"),
	}
}

// Name implements Responder.
func (k *Knowledge) Name() string { return "knowledge" }

// Respond implements Responder.
func (k *Knowledge) Respond(ctx context.Context, req Request) Result {
	start := time.Now()

	contextText, sourceType, sources, err := k.gatherContext(ctx, req)
	if err != nil {
		k.logger.Error("context lookup failed", "source_type", sourceType, "error", err)
		return failure(err, map[string]any{"source_type": sourceType})
	}

	prompt := BuildKnowledgePrompt(contextText, req.History, req.Message)
	resp, err := k.llm.Chat(ctx, llm.Request{
		Model:       k.config.Model,
		Messages:    []llm.Message{llm.UserMessage(prompt)},
		Temperature: llm.Temperature(k.config.Temperature),
		MaxTokens:   k.config.MaxTokens,
	})
	if err != nil {
		return failure(fmt.Errorf("knowledge llm: %w", err), map[string]any{"source_type": sourceType})
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return failure(errors.New("knowledge llm: empty reply"), map[string]any{"source_type": sourceType})
	}

	k.logger.Info("knowledge answer ready",
		"source_type", sourceType,
		"context_length", utf8.RuneCountInString(contextText),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	md := map[string]any{
		"source_type":    sourceType,
		"context_length": utf8.RuneCountInString(contextText),
	}
	if len(sources) > 0 {
		md["sources"] = sources
	}
	return success(text, md)
}

// gatherContext picks the context source. Small talk skips lookup.
// KNOWLEDGE tries retrieval first and falls back to the web when
// retrieval finds nothing; every other label goes to the web directly.
func (k *Knowledge) gatherContext(ctx context.Context, req Request) (string, string, []string, error) {
	if isSmallTalk(req.Message) {
		k.logger.Debug("small talk, skipping lookup")
		return "", SourceNone, nil, nil
	}

	if req.Label == router.LabelKnowledge && k.retriever != nil {
		docs, err := k.retriever.Search(ctx, req.Message, k.config.TopK)
		if err != nil {
			k.logger.Warn("retrieval failed, falling back to web search", "error", err)
		}
		if len(docs) > 0 {
			k.logger.Debug("using retrieved context", "documents", len(docs))
			return knowledge.FormatContext(docs), SourceRAG, knowledge.DocumentSources(docs), nil
		}
		text, urls, err := k.searchWeb(ctx, req.Message)
		return text, SourceTavilyFallback, urls, err
	}

	text, urls, err := k.searchWeb(ctx, req.Message)
	return text, SourceTavily, urls, err
}

func (k *Knowledge) searchWeb(ctx context.Context, query string) (string, []string, error) {
	if k.web == nil {
		return search.NoResultsText, nil, nil
	}
	results, err := k.web.Search(ctx, query, search.Options{Count: k.config.WebResults})
	if err != nil {
		return "", nil, fmt.Errorf("web search: %w", err)
	}
	if len(results) > k.config.WebResults {
		results = results[:k.config.WebResults]
	}
	return search.FormatContext(results), search.URLs(results), nil
}
