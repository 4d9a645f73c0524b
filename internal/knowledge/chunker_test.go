package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func TestSplit_ShortText(t *testing.T) {
	c := NewChunker(0, -1)
	got := c.Split("Pix is instant.")
	if len(got) != 1 || got[0] != "Pix is instant." {
		t.Errorf("Split = %q", got)
	}
}

func TestSplit_Paragraphs(t *testing.T) {
	para := strings.Repeat("A maquininha aceita cartões de crédito e débito. ", 4)
	text := strings.Join([]string{para, para, para, para, para}, "\n\n")

	c := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	got := c.Split(text)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}

	for i, chunk := range got {
		if n := runeLen(chunk); n > DefaultChunkSize+DefaultChunkOverlap {
			t.Errorf("chunk %d has %d chars", i, n)
		}
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if i > 0 && !strings.HasPrefix(chunk, lastRunes(got[i-1], DefaultChunkOverlap)) {
			t.Errorf("chunk %d does not start with the tail of chunk %d", i, i-1)
		}
	}
}

func TestSplit_NoSeparators(t *testing.T) {
	c := NewChunker(500, 50)
	got := c.Split(strings.Repeat("a", 1200))

	want := []int{500, 500, 300}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i, n := range want {
		if len(got[i]) != n {
			t.Errorf("chunk %d length = %d, want %d", i, len(got[i]), n)
		}
	}
}

func TestNewChunker_OverlapClamp(t *testing.T) {
	c := NewChunker(100, 200)
	if c.overlap != 10 {
		t.Errorf("overlap = %d, want 10", c.overlap)
	}
}

func TestChunk_Metadata(t *testing.T) {
	text := strings.Repeat("Taxas do Pix parcelado variam conforme o número de parcelas escolhido. ", 20)

	c := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	chunks := c.Chunk(text, map[string]string{"url": "https://example.com/pix"})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		if ch.Metadata["url"] != "https://example.com/pix" {
			t.Errorf("chunk %d lost url metadata", i)
		}
		if ch.Metadata["total_chunks"] == "" || ch.Metadata["chunk_id"] == "" {
			t.Errorf("chunk %d missing position metadata: %v", i, ch.Metadata)
		}
		if ch.Text != strings.TrimSpace(ch.Text) {
			t.Errorf("chunk %d not trimmed", i)
		}
	}
	if chunks[0].Metadata["chunk_id"] != "0" {
		t.Errorf("first chunk_id = %q", chunks[0].Metadata["chunk_id"])
	}
}

func TestChunk_DropsShortFragments(t *testing.T) {
	c := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	if got := c.Chunk("   Too short to keep.   ", nil); len(got) != 0 {
		t.Errorf("expected no chunks, got %d", len(got))
	}
}
