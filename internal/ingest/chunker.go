package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunker splits text into overlapping word windows.
type Chunker struct {
	size    int
	overlap int
	maxLen  int
}

// NewChunker creates a chunker with the given size and overlap in words.
// Chunks longer than maxLen runes are truncated; maxLen <= 0 disables the cap.
func NewChunker(size, overlap, maxLen int) *Chunker {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap, maxLen: maxLen}
}

// Split returns the chunk texts for text in order. Whitespace runs collapse
// to single spaces.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.size - c.overlap
	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + c.size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, c.capLength(strings.Join(words[i:end], " ")))
		if end == len(words) {
			break
		}
	}
	return chunks
}

func (c *Chunker) capLength(s string) string {
	if c.maxLen <= 0 || utf8.RuneCountInString(s) <= c.maxLen {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:c.maxLen]))
}
