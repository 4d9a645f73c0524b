// Package knowledge stores chunked reference documents and retrieves the
// passages most relevant to a question.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/nugget/switchboard/internal/embeddings"
)

const timeFormat = time.RFC3339Nano

// DefaultMinScore is the lowest cosine similarity a semantic match may
// have and still be returned.
const DefaultMinScore = 0.3

// likeScanLimit bounds the rows scored by the LIKE fallback.
const likeScanLimit = 200

// Document is a retrieved passage with its relevance score.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Source returns the document's origin URL or path, if recorded.
func (d Document) Source() string {
	if u := d.Metadata["url"]; u != "" {
		return u
	}
	return d.Metadata["source"]
}

// Chunk is a unit of text ready to be stored.
type Chunk struct {
	Text     string
	Metadata map[string]string
}

// Retriever finds documents relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// SourceInfo summarizes one ingested source.
type SourceInfo struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Chunks    int       `json:"chunks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps knowledge chunks in SQLite. Lexical search uses FTS5 when
// the driver supports it and LIKE otherwise. When an embedder is
// configured, searches try semantic similarity first.
type Store struct {
	db         *sql.DB
	embedder   Embedder
	minScore   float64
	ftsEnabled bool
	logger     *slog.Logger
}

// NewStore wraps db and creates the knowledge tables. embedder may be nil.
func NewStore(db *sql.DB, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:       db,
		embedder: embedder,
		minScore: DefaultMinScore,
		logger:   logger.With("component", "knowledge"),
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SetMinScore changes the semantic similarity cutoff.
func (s *Store) SetMinScore(v float64) { s.minScore = v }

// FTSEnabled reports whether full-text search is available.
func (s *Store) FTSEnabled() bool { return s.ftsEnabled }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_source ON knowledge_chunks(source);
	`)
	if err != nil {
		return err
	}

	s.tryEnableFTS()
	return nil
}

// tryEnableFTS creates the FTS5 virtual table for full-text search.
// Falls back to LIKE-based search when FTS5 is not available.
func (s *Store) tryEnableFTS() {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
			content,
			title,
			content='knowledge_chunks',
			content_rowid='rowid'
		)
	`)
	if err != nil {
		s.logger.Warn("FTS5 not available for knowledge, using LIKE fallback", "error", err)
		return
	}
	s.ftsEnabled = true

	if _, err := s.db.Exec(`INSERT INTO knowledge_fts(knowledge_fts) VALUES('rebuild')`); err != nil {
		s.logger.Warn("failed to rebuild knowledge FTS index", "error", err)
		s.ftsEnabled = false
	}
}

func (s *Store) rebuildFTS(ctx context.Context) {
	if !s.ftsEnabled {
		return
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO knowledge_fts(knowledge_fts) VALUES('rebuild')`); err != nil {
		s.logger.Warn("failed to rebuild knowledge FTS index", "error", err)
	}
}

// ReplaceSource atomically swaps every chunk stored for source with
// chunks. vectors, when non-nil, must be parallel to chunks; a nil entry
// stores the chunk without an embedding.
func (s *Store) ReplaceSource(ctx context.Context, source, title string, chunks []Chunk, vectors [][]float32) (int, error) {
	if source == "" {
		return 0, fmt.Errorf("replace source: empty source")
	}
	if vectors != nil && len(vectors) != len(chunks) {
		return 0, fmt.Errorf("replace source: %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE source = ?`, source); err != nil {
		return 0, fmt.Errorf("delete source: %w", err)
	}

	now := time.Now().UTC().Format(timeFormat)
	for i, c := range chunks {
		md, err := json.Marshal(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode metadata: %w", err)
		}
		var blob []byte
		if vectors != nil {
			blob = encodeEmbedding(vectors[i])
		}
		id, err := uuid.NewV7()
		if err != nil {
			return 0, fmt.Errorf("generate id: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO knowledge_chunks (id, source, title, chunk_index, total_chunks, content, metadata, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id.String(), source, title, i, len(chunks), c.Text, string(md), blob, now)
		if err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.rebuildFTS(ctx)
	s.logger.Info("knowledge source replaced", "source", source, "chunks", len(chunks))
	return len(chunks), nil
}

// DeleteSource removes every chunk of source.
func (s *Store) DeleteSource(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("delete source: %w", err)
	}
	n, _ := res.RowsAffected()
	s.rebuildFTS(ctx)
	return int(n), nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Sources lists ingested sources with their chunk counts.
func (s *Store) Sources(ctx context.Context) ([]SourceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, MAX(title), COUNT(*), MAX(created_at)
		FROM knowledge_chunks
		GROUP BY source
		ORDER BY source
	`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []SourceInfo
	for rows.Next() {
		var (
			info    SourceInfo
			updated string
		)
		if err := rows.Scan(&info.Source, &info.Title, &info.Chunks, &updated); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		info.UpdatedAt, _ = time.Parse(timeFormat, updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Search returns up to topK documents relevant to query, best first.
// Semantic matches are preferred; lexical search covers the case where
// no embedder is configured or nothing clears the similarity cutoff.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		topK = 3
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if s.embedder != nil {
		docs, err := s.searchSemantic(ctx, query, topK)
		if err != nil {
			s.logger.Warn("semantic search failed, using lexical search", "error", err)
		} else if len(docs) > 0 {
			return docs, nil
		}
	}

	if s.ftsEnabled {
		docs, err := s.searchFTS(ctx, query, topK)
		if err == nil {
			return docs, nil
		}
		s.logger.Warn("FTS5 search failed, falling back to LIKE", "error", err, "query", query)
	}
	return s.searchLIKE(ctx, query, topK)
}

func (s *Store) searchSemantic(ctx context.Context, query string, topK int) ([]Document, error) {
	vec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, title, metadata, embedding
		FROM knowledge_chunks
		WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d    Document
			blob []byte
		)
		if err := s.scanDocument(rows, &d, &blob); err != nil {
			return nil, err
		}
		score := float64(embeddings.CosineSimilarity(vec, decodeEmbedding(blob)))
		if score < s.minScore {
			continue
		}
		d.Score = score
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}

func (s *Store) searchFTS(ctx context.Context, query string, topK int) ([]Document, error) {
	match := sanitizeFTS5Query(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.source, c.title, c.metadata, bm25(knowledge_fts) AS score
		FROM knowledge_fts
		JOIN knowledge_chunks c ON knowledge_fts.rowid = c.rowid
		WHERE knowledge_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, match, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d    Document
			rank float64
		)
		if err := s.scanDocument(rows, &d, &rank); err != nil {
			return nil, err
		}
		// bm25 is lower-is-better and negative for matches.
		d.Score = -rank
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) searchLIKE(ctx context.Context, query string, topK int) ([]Document, error) {
	words := queryTerms(query)
	if len(words) == 0 {
		return nil, nil
	}

	conds := make([]string, len(words))
	args := make([]any, 0, len(words)+1)
	for i, w := range words {
		conds[i] = "content LIKE ?"
		args = append(args, "%"+w+"%")
	}
	args = append(args, likeScanLimit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, title, metadata, 0
		FROM knowledge_chunks
		WHERE `+strings.Join(conds, " OR ")+`
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("like search: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d    Document
			zero int
		)
		if err := s.scanDocument(rows, &d, &zero); err != nil {
			return nil, err
		}
		lower := strings.ToLower(d.Text)
		hits := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		d.Score = float64(hits) / float64(len(words))
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}

// scanDocument reads the shared document columns plus one trailing
// column into extra.
func (s *Store) scanDocument(rows *sql.Rows, d *Document, extra any) error {
	var (
		source, title string
		md            sql.NullString
	)
	if err := rows.Scan(&d.ID, &d.Text, &source, &title, &md, extra); err != nil {
		return fmt.Errorf("scan chunk: %w", err)
	}
	d.Metadata = map[string]string{}
	if md.Valid && md.String != "" {
		if err := json.Unmarshal([]byte(md.String), &d.Metadata); err != nil {
			s.logger.Debug("ignoring malformed chunk metadata", "id", d.ID, "error", err)
		}
	}
	if d.Metadata["source"] == "" {
		d.Metadata["source"] = source
	}
	if d.Metadata["title"] == "" && title != "" {
		d.Metadata["title"] = title
	}
	return nil
}

// FormatContext joins document texts into a prompt context block.
func FormatContext(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Text)
	}
	return strings.Join(parts, "\n\n")
}

// DocumentSources returns the distinct origins of docs in order.
func DocumentSources(docs []Document) []string {
	seen := make(map[string]bool, len(docs))
	var out []string
	for _, d := range docs {
		src := d.Source()
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

// queryTerms lowercases query and keeps its letter/digit words.
func queryTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// sanitizeFTS5Query quotes each term so FTS5 operators in user input are
// treated as literals, and ORs them so partial matches still rank.
func sanitizeFTS5Query(query string) string {
	words := queryTerms(query)
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, " OR ")
}

// --- embedding helpers ---

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	result := make([]float32, len(data)/4)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return result
}
