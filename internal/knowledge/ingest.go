package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SeedURLs are the product pages ingested by default.
var SeedURLs = []string{
	"https://www.infinitepay.io",
	"https://www.infinitepay.io/maquininha",
	"https://www.infinitepay.io/maquininha-celular",
	"https://www.infinitepay.io/tap-to-pay",
	"https://www.infinitepay.io/pdv",
	"https://www.infinitepay.io/receba-na-hora",
	"https://www.infinitepay.io/gestao-de-cobranca-2",
	"https://www.infinitepay.io/gestao-de-cobranca",
	"https://www.infinitepay.io/link-de-pagamento",
	"https://www.infinitepay.io/loja-online",
	"https://www.infinitepay.io/boleto",
	"https://www.infinitepay.io/conta-digital",
	"https://www.infinitepay.io/conta-pj",
	"https://www.infinitepay.io/pix",
	"https://www.infinitepay.io/pix-parcelado",
	"https://www.infinitepay.io/emprestimo",
	"https://www.infinitepay.io/cartao",
	"https://www.infinitepay.io/rendimento",
}

// webSourceLabel tags chunks scraped from the product website.
const webSourceLabel = "infinitepay_website"

// Ingester turns files and web pages into stored knowledge chunks.
type Ingester struct {
	store    *Store
	embedder Embedder
	fetcher  *Fetcher
	chunker  *Chunker
	logger   *slog.Logger
}

// NewIngester creates an ingester. embedder may be nil, in which case
// chunks are stored for lexical search only.
func NewIngester(store *Store, embedder Embedder, fetcher *Fetcher, chunker *Chunker, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	if fetcher == nil {
		fetcher = NewFetcher(nil, logger)
	}
	return &Ingester{
		store:    store,
		embedder: embedder,
		fetcher:  fetcher,
		chunker:  chunker,
		logger:   logger.With("component", "ingest"),
	}
}

// Ingest dispatches to IngestURL or IngestFile based on the source's
// shape and returns the number of chunks stored.
func (in *Ingester) Ingest(ctx context.Context, source string) (int, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return in.IngestURL(ctx, source)
	}
	return in.IngestFile(ctx, source)
}

// IngestURL fetches a page and replaces its stored chunks.
func (in *Ingester) IngestURL(ctx context.Context, rawURL string) (int, error) {
	page, err := in.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	if page.Content == "" {
		return 0, fmt.Errorf("ingest %s: no content", rawURL)
	}
	return in.IngestText(ctx, page.URL, page.Title, page.Content, map[string]string{
		"url":    page.URL,
		"title":  page.Title,
		"source": webSourceLabel,
	})
}

// IngestFile reads a markdown, HTML or plain-text file and replaces its
// stored chunks.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	var title, content string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		title, content = ExtractMarkdown(data)
	case ".html", ".htm":
		title, content = ExtractHTML(string(data))
	default:
		content = cleanWhitespace(string(data))
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return in.IngestText(ctx, abs, title, content, map[string]string{
		"path":   abs,
		"title":  title,
		"source": "file",
	})
}

// IngestText chunks content and stores it under source, replacing what
// was there. Embedding failures are logged and the chunk is kept for
// lexical search.
func (in *Ingester) IngestText(ctx context.Context, source, title, content string, meta map[string]string) (int, error) {
	chunks := in.chunker.Chunk(content, meta)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("ingest %s: no chunks long enough to keep", source)
	}

	var vectors [][]float32
	if in.embedder != nil {
		vectors = make([][]float32, len(chunks))
		failed := 0
		for i, c := range chunks {
			vec, err := in.embedder.Generate(ctx, c.Text)
			if err != nil {
				failed++
				in.logger.Warn("embedding failed, storing chunk without vector",
					"source", source, "chunk", i, "error", err)
				continue
			}
			vectors[i] = vec
		}
		if failed == len(chunks) {
			vectors = nil
		}
	}

	n, err := in.store.ReplaceSource(ctx, source, title, chunks, vectors)
	if err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	in.logger.Info("source ingested", "source", source, "title", title, "chunks", n)
	return n, nil
}

// IngestAll ingests every source, continuing past failures. It returns
// the total chunks stored and the sources that failed.
func (in *Ingester) IngestAll(ctx context.Context, sources []string) (int, map[string]error) {
	total := 0
	failed := make(map[string]error)
	for _, src := range sources {
		if ctx.Err() != nil {
			failed[src] = ctx.Err()
			continue
		}
		n, err := in.Ingest(ctx, src)
		if err != nil {
			in.logger.Warn("ingest failed", "source", src, "error", err)
			failed[src] = err
			continue
		}
		total += n
	}
	in.logger.Info("ingest complete", "sources", len(sources), "failed", len(failed), "chunks", total)
	return total, failed
}
