// Package extract turns document files into plain text for ingestion.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupported is returned for extensions with no registered format.
var ErrUnsupported = errors.New("unsupported format")

// ErrTooLarge is returned when a file exceeds the extractor's size limit.
var ErrTooLarge = errors.New("file too large")

// ErrMalformed is wrapped by errors from content a format cannot parse.
var ErrMalformed = errors.New("malformed document")

// pageBreak separates PDF pages and spreadsheet sheets in extracted text so the
// chunker sees a paragraph boundary between them.
const pageBreak = "\n\n"

type formatFunc func(content []byte) (string, error)

var formats = map[string]formatFunc{
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".pptx": extractPPTX,
	".xlsx": extractXLSX,
	".odp":  extractODP,
	".ods":  extractODS,
	".odt":  extractCat,
	".rtf":  extractCat,
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxFileSize rejects files larger than n bytes. Zero means no limit.
func WithMaxFileSize(n int64) Option {
	return func(e *Extractor) {
		e.maxSize = n
	}
}

// Extractor extracts plain text from document files.
type Extractor struct {
	maxSize int64
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supports reports whether ext (with leading dot, any case) has a registered format.
func Supports(ext string) bool {
	_, ok := formats[strings.ToLower(ext)]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func Extensions() []string {
	out := make([]string, 0, len(formats))
	for ext := range formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supports(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if e.maxSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("stat file: %w", err)
		}
		if info.Size() > e.maxSize {
			return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
		}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on ext, which includes the
// leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := formats[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return fn(content)
}
