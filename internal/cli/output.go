// Package cli provides the HTTP client and output helpers for the embedgate CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/metrics"
	"github.com/hyperjump/embedgate/internal/ratelimit"
	"github.com/hyperjump/embedgate/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

const (
	// previewDims is how many vector components text output shows.
	previewDims = 8
	// previewChars is how much chunk text text output shows.
	previewChars = 200
)

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteEmbedding writes a single embedding response.
func WriteEmbedding(w io.Writer, resp *gateway.Response, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "provider:    %s\n", resp.Provider)
	fmt.Fprintf(w, "model:       %s\n", resp.Model)
	fmt.Fprintf(w, "dimensions:  %d\n", resp.Dimensions)
	fmt.Fprintf(w, "cached:      %t\n", resp.Cached)
	if resp.Tokens != nil {
		fmt.Fprintf(w, "tokens:      %d\n", *resp.Tokens)
	}
	fmt.Fprintf(w, "request_id:  %s\n", resp.RequestID)
	fmt.Fprintf(w, "embedding:   %s\n", FormatVector(resp.Embedding, previewDims))
	return nil
}

// WriteBatch writes a batch embedding response.
func WriteBatch(w io.Writer, resp *gateway.BatchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "provider:    %s\n", resp.Provider)
	fmt.Fprintf(w, "model:       %s\n", resp.Model)
	fmt.Fprintf(w, "dimensions:  %d\n", resp.Dimensions)
	fmt.Fprintf(w, "count:       %d (%d cached)\n", resp.Count, resp.CachedCount)
	if resp.TotalTokens != nil {
		fmt.Fprintf(w, "tokens:      %d\n", *resp.TotalTokens)
	}
	fmt.Fprintf(w, "request_id:  %s\n", resp.RequestID)
	for i, vec := range resp.Embeddings {
		fmt.Fprintf(w, "[%d] %s\n", i, FormatVector(vec, previewDims))
	}
	return nil
}

// WriteProviders writes the provider list.
func WriteProviders(w io.Writer, resp *ProvidersResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	for _, p := range resp.Providers {
		marker := " "
		if p.Name == resp.DefaultProvider {
			marker = "*"
		}
		state := "unavailable"
		if p.Available {
			state = "available"
		}
		fmt.Fprintf(w, "%s %-12s %-12s default_model=%s\n", marker, p.Name, state, p.DefaultModel)
		for _, m := range p.Models {
			fmt.Fprintf(w, "    %s (%d dims)\n", m.Name, m.Dimensions)
		}
	}
	return nil
}

// WriteUsage writes rate limit usage.
func WriteUsage(w io.Writer, u *ratelimit.Usage, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, u)
	}
	if !u.Enabled {
		fmt.Fprintln(w, "rate limiting disabled")
		return nil
	}
	fmt.Fprintf(w, "minute:  %d/%d (%d remaining)\n", u.Minute, u.MinuteLimit, u.MinuteRemaining)
	fmt.Fprintf(w, "hour:    %d/%d (%d remaining)\n", u.Hour, u.HourLimit, u.HourRemaining)
	return nil
}

// WriteHealth writes the health report.
func WriteHealth(w io.Writer, h *HealthResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, h)
	}
	fmt.Fprintf(w, "status:           %s\n", h.Status)
	fmt.Fprintf(w, "version:          %s\n", h.Version)
	fmt.Fprintf(w, "cache_available:  %t\n", h.CacheAvailable)
	names := make([]string, 0, len(h.Providers))
	for name := range h.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "provider %-10s %t\n", name+":", h.Providers[name])
	}
	return nil
}

// WriteStatus writes the server status.
func WriteStatus(w io.Writer, s *StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "default_provider:  %s\n", s.DefaultProvider)
	if s.Documents != nil {
		fmt.Fprintf(w, "documents:         %d   # count of ingested documents\n", *s.Documents)
	}
	if s.Chunks != nil {
		fmt.Fprintf(w, "chunks:            %d   # count of embedded chunks\n", *s.Chunks)
	}
	if s.StorageBytes != nil {
		fmt.Fprintf(w, "storage_bytes:     %d   # database on disk\n", *s.StorageBytes)
	}
	for _, d := range s.WatchedDirectories {
		fmt.Fprintf(w, "watching:          %s\n", d)
	}
	return nil
}

// WriteCacheInfo writes the cache description.
func WriteCacheInfo(w io.Writer, info *gateway.CacheInfo, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, info)
	}
	fmt.Fprintf(w, "enabled:     %t\n", info.Enabled)
	if !info.Enabled {
		return nil
	}
	fmt.Fprintf(w, "backend:     %s\n", info.Backend)
	fmt.Fprintf(w, "ttl:         %ds\n", info.TTLSeconds)
	fmt.Fprintf(w, "available:   %t\n", info.Available)
	if info.Stats != nil {
		fmt.Fprintf(w, "state:       %s\n", info.Stats.State)
		fmt.Fprintf(w, "entries:     %d (%d local)\n", info.Stats.Size, info.Stats.LocalSize)
	}
	return nil
}

// WriteStats writes the gateway counters.
func WriteStats(w io.Writer, s *metrics.Snapshot, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "requests:        %d\n", s.TotalRequests)
	fmt.Fprintf(w, "embeddings:      %d\n", s.TotalEmbeddings)
	fmt.Fprintf(w, "cache_hits:      %d\n", s.CacheHits)
	fmt.Fprintf(w, "cache_misses:    %d\n", s.CacheMisses)
	fmt.Fprintf(w, "cache_hit_rate:  %.2f\n", s.CacheHitRate)
	fmt.Fprintf(w, "fallbacks:       %d\n", s.Fallbacks)
	fmt.Fprintf(w, "errors:          %d\n", s.Errors)
	fmt.Fprintf(w, "uptime_seconds:  %.0f\n", s.UptimeSeconds)
	names := make([]string, 0, len(s.ProviderUsage))
	for name := range s.ProviderUsage {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "provider %-10s %d\n", name+":", s.ProviderUsage[name])
	}
	return nil
}

// WriteDocuments writes a page of documents.
func WriteDocuments(w io.Writer, resp *DocumentsResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	if len(resp.Documents) == 0 {
		fmt.Fprintln(w, "no documents")
		return nil
	}
	for _, d := range resp.Documents {
		fmt.Fprintf(w, "%s  %4d chunks  %s\n", d.ID, d.ChunkCount, d.Path)
	}
	return nil
}

// WriteDocument writes one document and its chunks.
func WriteDocument(w io.Writer, doc *DocumentResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, doc)
	}
	fmt.Fprintf(w, "id:          %s\n", doc.ID)
	fmt.Fprintf(w, "path:        %s\n", doc.Path)
	fmt.Fprintf(w, "size:        %d\n", doc.Size)
	fmt.Fprintf(w, "modified:    %s\n", doc.ModTime.Format(time.RFC3339))
	fmt.Fprintf(w, "updated:     %s\n", doc.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "chunks:      %d\n", len(doc.Chunks))
	for _, c := range doc.Chunks {
		fmt.Fprintf(w, "\n[%d] %s/%s %d dims\n", c.Index, c.Provider, c.Model, c.Dimensions)
		fmt.Fprintln(w, utils.Truncate(c.Content, previewChars))
		if len(c.Embedding) > 0 {
			fmt.Fprintln(w, FormatVector(c.Embedding, previewDims))
		}
	}
	return nil
}

// FormatVector renders the first n components of v, eliding the rest.
func FormatVector(v []float32, n int) string {
	if n <= 0 || n > len(v) {
		n = len(v)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%.4f", v[i])
	}
	s := "[" + strings.Join(parts, ", ")
	if n < len(v) {
		s += fmt.Sprintf(", ... (%d more)", len(v)-n)
	}
	return s + "]"
}
