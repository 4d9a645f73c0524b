package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// keywordEmbedder maps texts onto two axes: pix and card.
type keywordEmbedder struct {
	err   error
	calls int
}

func (e *keywordEmbedder) Generate(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	lower := strings.ToLower(text)
	var v [2]float32
	if strings.Contains(lower, "pix") {
		v[0] = 1
	}
	if strings.Contains(lower, "card") {
		v[1] = 1
	}
	return v[:], nil
}

func newTestStore(t *testing.T, embedder Embedder) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, embedder, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

var testChunks = []Chunk{
	{Text: "Pix transfers are instant and free for customers at any time of day.", Metadata: map[string]string{"url": "https://example.com/pix"}},
	{Text: "The maquininha card reader charges a small fee per card transaction.", Metadata: map[string]string{"url": "https://example.com/maquininha"}},
	{Text: "Digital accounts earn interest every business day automatically.", Metadata: map[string]string{"url": "https://example.com/conta"}},
}

func TestReplaceSource(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	n, err := s.ReplaceSource(ctx, "site", "Site", testChunks, nil)
	if err != nil || n != 3 {
		t.Fatalf("ReplaceSource = %d, %v", n, err)
	}

	if _, err := s.ReplaceSource(ctx, "site", "Site", testChunks[:1], nil); err != nil {
		t.Fatal(err)
	}
	count, err := s.Count(ctx)
	if err != nil || count != 1 {
		t.Errorf("Count after replace = %d, %v", count, err)
	}

	if _, err := s.ReplaceSource(ctx, "other", "Other", testChunks[1:], nil); err != nil {
		t.Fatal(err)
	}
	sources, err := s.Sources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 || sources[0].Source != "other" || sources[0].Chunks != 2 {
		t.Errorf("Sources = %+v", sources)
	}

	deleted, err := s.DeleteSource(ctx, "other")
	if err != nil || deleted != 2 {
		t.Errorf("DeleteSource = %d, %v", deleted, err)
	}
}

func TestReplaceSource_Validation(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.ReplaceSource(ctx, "", "", testChunks, nil); err == nil {
		t.Error("expected error for empty source")
	}
	if _, err := s.ReplaceSource(ctx, "site", "", testChunks, make([][]float32, 1)); err == nil {
		t.Error("expected error for mismatched vectors")
	}
}

func TestSearch_Lexical(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	if _, err := s.ReplaceSource(ctx, "site", "Site", testChunks, nil); err != nil {
		t.Fatal(err)
	}

	docs, err := s.Search(ctx, "Are pix transfers instant?", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("expected results")
	}
	if !strings.HasPrefix(docs[0].Text, "Pix transfers") {
		t.Errorf("top result = %q", docs[0].Text)
	}
	if docs[0].Source() != "https://example.com/pix" {
		t.Errorf("Source() = %q", docs[0].Source())
	}

	docs, err = s.Search(ctx, "zzzqqq", 3)
	if err != nil || len(docs) != 0 {
		t.Errorf("no-match search = %d docs, %v", len(docs), err)
	}

	docs, err = s.Search(ctx, "   ", 3)
	if err != nil || docs != nil {
		t.Errorf("blank search = %v, %v", docs, err)
	}
}

func TestSearch_LIKEFallback(t *testing.T) {
	s := newTestStore(t, nil)
	s.ftsEnabled = false
	ctx := context.Background()
	if _, err := s.ReplaceSource(ctx, "site", "Site", testChunks, nil); err != nil {
		t.Fatal(err)
	}

	docs, err := s.Search(ctx, "card fee", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || !strings.Contains(docs[0].Text, "maquininha") {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].Score != 1 {
		t.Errorf("score = %v, want 1 (both terms)", docs[0].Score)
	}
}

func TestSearch_Semantic(t *testing.T) {
	emb := &keywordEmbedder{}
	s := newTestStore(t, emb)
	ctx := context.Background()

	vectors := make([][]float32, len(testChunks))
	for i, c := range testChunks {
		vectors[i], _ = emb.Generate(ctx, c.Text)
	}
	if _, err := s.ReplaceSource(ctx, "site", "Site", testChunks, vectors); err != nil {
		t.Fatal(err)
	}

	docs, err := s.Search(ctx, "tell me about PIX", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Metadata["url"] != "https://example.com/pix" {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].Score < 0.99 {
		t.Errorf("score = %v, want ~1", docs[0].Score)
	}
}

func TestSearch_SemanticErrorFallsBack(t *testing.T) {
	emb := &keywordEmbedder{err: errors.New("ollama down")}
	s := newTestStore(t, emb)
	ctx := context.Background()
	if _, err := s.ReplaceSource(ctx, "site", "Site", testChunks, nil); err != nil {
		t.Fatal(err)
	}

	docs, err := s.Search(ctx, "interest", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || !strings.Contains(docs[0].Text, "interest") {
		t.Errorf("docs = %+v", docs)
	}
	if emb.calls != 1 {
		t.Errorf("embedder calls = %d, want 1", emb.calls)
	}
}

func TestSanitizeFTS5Query(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "pix fees", want: `"pix" OR "fees"`},
		{in: `taxa "OR" NEAR(x)?`, want: `"taxa" OR "or" OR "near" OR "x"`},
		{in: "cartão", want: `"cartão"`},
		{in: "?!", want: ""},
	}
	for _, tt := range tests {
		if got := sanitizeFTS5Query(tt.in); got != tt.want {
			t.Errorf("sanitizeFTS5Query(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmbeddingEncoding(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	out := decodeEmbedding(encodeEmbedding(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if encodeEmbedding(nil) != nil {
		t.Error("nil vector should encode to nil")
	}
}

func TestFormatContextAndSources(t *testing.T) {
	docs := []Document{
		{Text: "one", Metadata: map[string]string{"url": "https://a"}},
		{Text: "two", Metadata: map[string]string{"source": "/docs/b.md"}},
		{Text: "three", Metadata: map[string]string{"url": "https://a"}},
	}
	if got := FormatContext(docs); got != "one\n\ntwo\n\nthree" {
		t.Errorf("FormatContext = %q", got)
	}
	got := DocumentSources(docs)
	if len(got) != 2 || got[0] != "https://a" || got[1] != "/docs/b.md" {
		t.Errorf("DocumentSources = %v", got)
	}
}
