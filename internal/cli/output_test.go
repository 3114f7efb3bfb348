package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/embedgate/internal/cache"
	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/models"
	"github.com/hyperjump/embedgate/internal/provider"
	"github.com/hyperjump/embedgate/internal/ratelimit"
)

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"text", "json"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("compact"); err == nil {
		t.Error("ParseFormat(compact) should fail")
	}
}

func TestWriteEmbedding_JSON(t *testing.T) {
	resp := &gateway.Response{
		Embedding:  []float32{0.1, 0.2},
		Model:      "m",
		Provider:   "mock",
		Dimensions: 2,
		RequestID:  "req-1",
	}
	var buf bytes.Buffer
	if err := WriteEmbedding(&buf, resp, OutputJSON); err != nil {
		t.Fatalf("WriteEmbedding(json): %v", err)
	}
	var decoded gateway.Response
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.RequestID != "req-1" || len(decoded.Embedding) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteEmbedding_text(t *testing.T) {
	tokens := 3
	resp := &gateway.Response{
		Embedding:  make([]float32, 20),
		Model:      "nomic-embed-text",
		Provider:   "ollama",
		Dimensions: 20,
		Tokens:     &tokens,
		Cached:     true,
		RequestID:  "abc",
	}
	var buf bytes.Buffer
	if err := WriteEmbedding(&buf, resp, OutputText); err != nil {
		t.Fatalf("WriteEmbedding(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"ollama", "nomic-embed-text", "dimensions:  20", "cached:      true", "tokens:      3", "(12 more)"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteBatch_text(t *testing.T) {
	resp := &gateway.BatchResponse{
		Embeddings:  [][]float32{{1, 0}, {0, 1}},
		Model:       "m",
		Provider:    "mock",
		Dimensions:  2,
		Count:       2,
		CachedCount: 1,
	}
	var buf bytes.Buffer
	if err := WriteBatch(&buf, resp, OutputText); err != nil {
		t.Fatalf("WriteBatch(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"count:       2 (1 cached)", "[0] [1.0000, 0.0000]", "[1] [0.0000, 1.0000]"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteProviders_text(t *testing.T) {
	resp := &ProvidersResponse{
		DefaultProvider: "ollama",
		Providers: []gateway.ProviderInfo{
			{Name: "ollama", Available: true, DefaultModel: "nomic-embed-text",
				Models: []provider.ModelInfo{{Name: "nomic-embed-text", Dimensions: 768}}},
			{Name: "huggingface", Available: false, DefaultModel: "all-MiniLM-L6-v2"},
		},
	}
	var buf bytes.Buffer
	if err := WriteProviders(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "* ollama") {
		t.Errorf("default provider not marked:\n%s", out)
	}
	if !strings.Contains(out, "unavailable") {
		t.Errorf("unavailable provider not reported:\n%s", out)
	}
	if !strings.Contains(out, "768 dims") {
		t.Errorf("model dims missing:\n%s", out)
	}
}

func TestWriteUsage_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteUsage(&buf, &ratelimit.Usage{Enabled: false}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "disabled") {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	u := &ratelimit.Usage{Enabled: true, Minute: 2, MinuteLimit: 60, MinuteRemaining: 58, Hour: 2, HourLimit: 1000, HourRemaining: 998}
	if err := WriteUsage(&buf, u, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "2/60 (58 remaining)") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteCacheInfo_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCacheInfo(&buf, &gateway.CacheInfo{Enabled: false}, OutputText); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "backend") {
		t.Errorf("disabled cache should only report enabled:\n%s", buf.String())
	}

	buf.Reset()
	info := &gateway.CacheInfo{
		Enabled: true, Backend: "redis", TTLSeconds: 3600, Available: false,
		Stats: &cache.Stats{State: "degraded", Size: 4, LocalSize: 4},
	}
	if err := WriteCacheInfo(&buf, info, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"redis", "3600s", "degraded", "4 (4 local)"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("missing %q:\n%s", sub, buf.String())
		}
	}
}

func TestWriteStatus_text(t *testing.T) {
	docs, chunks := 3, 12
	var buf bytes.Buffer
	s := &StatusResponse{DefaultProvider: "mock", Documents: &docs, Chunks: &chunks, WatchedDirectories: []string{"/data"}}
	if err := WriteStatus(&buf, s, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"documents:         3", "chunks:            12", "/data"} {
		if !strings.Contains(out, sub) {
			t.Errorf("missing %q:\n%s", sub, out)
		}
	}
	if strings.Contains(out, "storage_bytes") {
		t.Errorf("absent storage_bytes should be omitted:\n%s", out)
	}
}

func TestWriteDocument_text(t *testing.T) {
	doc := &DocumentResponse{
		Document: models.Document{ID: "file:abc", Path: "/docs/a.md", Size: 12, ModTime: time.Unix(0, 0).UTC()},
		Chunks: []DocumentChunk{
			{Index: 0, Content: strings.Repeat("x", 300), Provider: "mock", Model: "m", Dimensions: 2, Embedding: []float32{1, 0}},
		},
	}
	var buf bytes.Buffer
	if err := WriteDocument(&buf, doc, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"file:abc", "/docs/a.md", "chunks:      1", "[0] mock/m 2 dims", strings.Repeat("x", 200) + "...", "[1.0000, 0.0000]"} {
		if !strings.Contains(out, sub) {
			t.Errorf("missing %q:\n%s", sub, out)
		}
	}
	if strings.Contains(out, strings.Repeat("x", 201)) {
		t.Error("chunk content should be truncated")
	}
}

func TestWriteDocuments_empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, &DocumentsResponse{}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no documents") {
		t.Errorf("got %q", buf.String())
	}
}

func TestFormatVector(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		n    int
		want string
	}{
		{"empty", nil, 4, "[]"},
		{"short", []float32{1, 2}, 4, "[1.0000, 2.0000]"},
		{"elided", []float32{1, 2, 3}, 1, "[1.0000, ... (2 more)]"},
		{"zero n shows all", []float32{1, 2}, 0, "[1.0000, 2.0000]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatVector(tt.v, tt.n); got != tt.want {
				t.Errorf("FormatVector(%v, %d) = %q, want %q", tt.v, tt.n, got, tt.want)
			}
		})
	}
}

func TestReadTexts(t *testing.T) {
	texts, err := ReadTexts(strings.NewReader("first\n\n  second  \n\nthird"))
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 3 || texts[1] != "second" || texts[2] != "third" {
		t.Errorf("ReadTexts = %q", texts)
	}
}
