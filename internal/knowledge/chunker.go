package knowledge

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Chunking defaults.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50

	// MinChunkLength drops fragments too short to be useful context.
	MinChunkLength = 50
)

// separators are tried in order; the first that yields more than one
// chunk wins.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", ", ", " "}

// Chunker splits text into overlapping, size-bounded chunks. Sizes are
// measured in characters, not bytes.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive values use the defaults and
// an overlap that is not smaller than size is reduced to a tenth of it.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text and returns the chunks long enough to keep, each
// with meta copied and chunk_id/total_chunks added.
func (c *Chunker) Chunk(text string, meta map[string]string) []Chunk {
	raw := c.Split(text)

	var out []Chunk
	for i, part := range raw {
		part = strings.TrimSpace(part)
		if runeLen(part) < MinChunkLength {
			continue
		}
		md := make(map[string]string, len(meta)+2)
		for k, v := range meta {
			md[k] = v
		}
		md["chunk_id"] = strconv.Itoa(i)
		md["total_chunks"] = strconv.Itoa(len(raw))
		out = append(out, Chunk{Text: part, Metadata: md})
	}
	return out
}

// Split returns the raw chunks before trimming and length filtering.
func (c *Chunker) Split(text string) []string {
	if runeLen(text) <= c.size {
		return []string{text}
	}

	for _, sep := range separators {
		if !strings.Contains(text, sep) {
			continue
		}

		var (
			chunks  []string
			current string
		)
		for _, part := range strings.Split(text, sep) {
			if runeLen(current)+runeLen(part)+runeLen(sep) <= c.size {
				current += part + sep
				continue
			}
			if current != "" {
				chunks = append(chunks, current)
			}
			if runeLen(part) > c.size {
				sub := c.splitByChars(part)
				if len(sub) == 0 {
					current = ""
					continue
				}
				chunks = append(chunks, sub[:len(sub)-1]...)
				current = sub[len(sub)-1]
			} else {
				current = part + sep
			}
		}
		if current != "" {
			chunks = append(chunks, current)
		}

		if len(chunks) > 1 {
			return c.addOverlap(chunks)
		}
	}

	return c.splitByChars(text)
}

// splitByChars cuts text into size-long windows advancing by
// size-overlap characters.
func (c *Chunker) splitByChars(text string) []string {
	runes := []rune(text)
	step := c.size - c.overlap

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := min(i+c.size, len(runes))
		chunk := string(runes[i:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// addOverlap prefixes each chunk after the first with the tail of the
// chunk before it.
func (c *Chunker) addOverlap(chunks []string) []string {
	if c.overlap == 0 || len(chunks) <= 1 {
		return chunks
	}

	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := prev
		if len(prev) >= c.overlap {
			tail = prev[len(prev)-c.overlap:]
		}
		out[i] = string(tail) + chunks[i]
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
