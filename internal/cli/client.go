package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/metrics"
	"github.com/hyperjump/embedgate/internal/models"
	"github.com/hyperjump/embedgate/internal/ratelimit"
	"github.com/hyperjump/embedgate/internal/server"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// RetryAfter is the Retry-After header of a 429 response, if any.
	RetryAfter string
}

func (e *APIError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("server returned %d: %s (retry after %ss)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// ProvidersResponse is the body of GET /api/v1/providers.
type ProvidersResponse struct {
	DefaultProvider string                 `json:"default_provider"`
	Providers       []gateway.ProviderInfo `json:"providers"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string          `json:"status"`
	Service        string          `json:"service"`
	Version        string          `json:"version"`
	Timestamp      time.Time       `json:"timestamp"`
	CacheAvailable bool            `json:"cache_available"`
	Providers      map[string]bool `json:"providers"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	DefaultProvider    string   `json:"default_provider"`
	Documents          *int     `json:"documents,omitempty"`
	Chunks             *int     `json:"chunks,omitempty"`
	StorageBytes       *int64   `json:"storage_bytes,omitempty"`
	WatchedDirectories []string `json:"watched_directories,omitempty"`
}

// DocumentsResponse is the body of GET /api/v1/documents.
type DocumentsResponse struct {
	Documents []models.Document `json:"documents"`
	Offset    int               `json:"offset"`
	Limit     int               `json:"limit"`
}

// DocumentChunk is one chunk in a DocumentResponse.
type DocumentChunk struct {
	ID         string    `json:"id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentResponse is the body of GET /api/v1/documents/{id}.
type DocumentResponse struct {
	models.Document
	Chunks []DocumentChunk `json:"chunks"`
}

// Client talks to a running embedgate server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. An empty apiKey
// sends no key header.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Embed calls POST /api/v1/embed.
func (c *Client) Embed(ctx context.Context, text, model, providerName string, useCache bool) (*gateway.Response, error) {
	body := map[string]interface{}{
		"text":      text,
		"model":     model,
		"provider":  providerName,
		"use_cache": useCache,
	}
	var out gateway.Response
	if err := c.do(ctx, http.MethodPost, "/api/v1/embed", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EmbedBatch calls POST /api/v1/embed/batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, model, providerName string, useCache bool) (*gateway.BatchResponse, error) {
	body := map[string]interface{}{
		"texts":     texts,
		"model":     model,
		"provider":  providerName,
		"use_cache": useCache,
	}
	var out gateway.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/embed/batch", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Providers calls GET /api/v1/providers.
func (c *Client) Providers(ctx context.Context) (*ProvidersResponse, error) {
	var out ProvidersResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/providers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Usage calls GET /api/v1/usage for the client's key.
func (c *Client) Usage(ctx context.Context) (*ratelimit.Usage, error) {
	var out ratelimit.Usage
	if err := c.do(ctx, http.MethodGet, "/api/v1/usage", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CacheInfo calls GET /api/v1/admin/cache/info.
func (c *Client) CacheInfo(ctx context.Context) (*gateway.CacheInfo, error) {
	var out gateway.CacheInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/cache/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearCache calls POST /api/v1/admin/cache/clear and returns the number of
// removed entries.
func (c *Client) ClearCache(ctx context.Context) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/cache/clear", nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// Stats calls GET /api/v1/admin/stats.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var out metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Documents lists ingested documents. A non-empty path selects the single
// document ingested from it.
func (c *Client) Documents(ctx context.Context, offset, limit int, path string) (*DocumentsResponse, error) {
	q := url.Values{}
	if path != "" {
		q.Set("path", path)
	} else {
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(limit))
	}
	var out DocumentsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Document returns one document with its chunks.
func (c *Client) Document(ctx context.Context, id string, withEmbeddings bool) (*DocumentResponse, error) {
	path := "/api/v1/documents/" + url.PathEscape(id)
	if withEmbeddings {
		path += "?embeddings=true"
	}
	var out DocumentResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchList returns the watched directories.
func (c *Client) WatchList(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/watch/directories", nil, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// WatchAdd adds dir to the watched directories.
func (c *Client) WatchAdd(ctx context.Context, dir string, syncExisting bool) error {
	body := map[string]interface{}{"path": dir, "sync": syncExisting}
	return c.do(ctx, http.MethodPost, "/api/v1/admin/watch/directories", body, nil)
}

// WatchRemove stops watching dir.
func (c *Client) WatchRemove(ctx context.Context, dir string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/admin/watch/directories?path="+url.QueryEscape(dir), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(server.APIKeyHeader, c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter = resp.Header.Get("Retry-After")
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
