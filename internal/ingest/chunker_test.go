package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestChunker_Split(t *testing.T) {
	c := NewChunker(3, 1, 0)
	got := c.Split("one two  three\nfour five six seven")
	assert.Equal(t, []string{
		"one two three",
		"three four five",
		"five six seven",
	}, got)
}

func TestChunker_SplitShortText(t *testing.T) {
	c := NewChunker(200, 20, 0)
	assert.Equal(t, []string{"just a few words"}, c.Split("  just a few   words "))
}

func TestChunker_SplitEmpty(t *testing.T) {
	assert.Nil(t, NewChunker(5, 1, 0).Split("   \n\t  "))
}

func TestChunker_InvalidOverlapIgnored(t *testing.T) {
	c := NewChunker(2, 5, 0)
	assert.Equal(t, []string{"a b", "c d", "e"}, c.Split("a b c d e"))
}

func TestChunker_CapsLength(t *testing.T) {
	long := strings.Repeat("é", 50)
	c := NewChunker(2, 0, 10)
	for _, chunk := range c.Split(long + " " + long) {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 10)
	}
}
