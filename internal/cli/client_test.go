package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedgate/internal/cache"
	"github.com/hyperjump/embedgate/internal/config"
	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/metrics"
	"github.com/hyperjump/embedgate/internal/models"
	"github.com/hyperjump/embedgate/internal/provider"
	"github.com/hyperjump/embedgate/internal/ratelimit"
	"github.com/hyperjump/embedgate/internal/server"
	"github.com/hyperjump/embedgate/internal/storage"
)

const (
	testUserKey  = "user-key"
	testAdminKey = "admin-key"
)

func newTestServer(t *testing.T, perMinute int, opts ...server.Option) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Auth.APIKeys = []string{testUserKey, testAdminKey}
	cfg.Auth.AdminKeys = []string{testAdminKey}
	cfg.RateLimit.PerMinute = perMinute

	reg, err := provider.NewRegistry(provider.RegistryConfig{
		Default:         "mock",
		FallbackEnabled: true,
		Timeout:         time.Second,
	}, []provider.Provider{provider.NewMockProvider("mock", 8, "mock-embed")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	gw := gateway.New(
		ratelimit.NewLimiter(ratelimit.Config{Enabled: true, PerMinute: perMinute, PerHour: 1000}),
		cache.New(nil, cache.Config{TTL: time.Hour, MaxLocalEntries: 100}),
		reg,
		gateway.WithMetrics(m),
	)
	opts = append([]server.Option{server.WithMetrics(m)}, opts...)
	srv := server.NewServer(gw, cfg, zap.NewNop(), opts...)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_Embed(t *testing.T) {
	ts := newTestServer(t, 100)
	c := NewClient(ts.URL+"/", testUserKey, 5*time.Second)
	ctx := context.Background()

	resp, err := c.Embed(ctx, "hello world", "", "", true)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if resp.Provider != "mock" || resp.Dimensions != 8 || len(resp.Embedding) != 8 {
		t.Errorf("Embed = %+v", resp)
	}
	if resp.Cached {
		t.Error("first call should not be cached")
	}
	again, err := c.Embed(ctx, "hello world", "", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Cached {
		t.Error("second call should be served from cache")
	}
}

func TestClient_EmbedBatch(t *testing.T) {
	ts := newTestServer(t, 100)
	c := NewClient(ts.URL, testUserKey, 5*time.Second)

	resp, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"}, "", "", false)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if resp.Count != 3 || len(resp.Embeddings) != 3 {
		t.Errorf("EmbedBatch = %+v", resp)
	}
}

func TestClient_errors(t *testing.T) {
	ts := newTestServer(t, 1)
	ctx := context.Background()

	_, err := NewClient(ts.URL, "", time.Second).Providers(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key: err = %v, want 401 APIError", err)
	}

	c := NewClient(ts.URL, testUserKey, time.Second)
	if _, err := c.Embed(ctx, "", "", "", true); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty text: err = %v, want 400", err)
	}
	if _, err := c.Embed(ctx, "one", "", "", true); err != nil {
		t.Fatalf("first embed: %v", err)
	}
	_, err = c.Embed(ctx, "two", "", "", true)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("over limit: err = %v, want 429", err)
	}
	if apiErr.RetryAfter == "" {
		t.Error("429 should carry Retry-After")
	}

	if _, err := c.CacheInfo(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin cache info: err = %v, want 403", err)
	}
}

func TestClient_readEndpoints(t *testing.T) {
	ts := newTestServer(t, 100)
	ctx := context.Background()
	c := NewClient(ts.URL, testAdminKey, 5*time.Second)

	providers, err := c.Providers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if providers.DefaultProvider != "mock" || len(providers.Providers) != 1 {
		t.Errorf("Providers = %+v", providers)
	}

	if _, err := c.Embed(ctx, "count me", "", "", true); err != nil {
		t.Fatal(err)
	}
	usage, err := c.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.Minute != 1 || usage.MinuteLimit != 100 {
		t.Errorf("Usage = %+v", usage)
	}

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" || !health.Providers["mock"] {
		t.Errorf("Health = %+v", health)
	}

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.DefaultProvider != "mock" || status.Documents != nil {
		t.Errorf("Status = %+v", status)
	}

	info, err := c.CacheInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Enabled || info.Backend != "memory" {
		t.Errorf("CacheInfo = %+v", info)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 1 || stats.ProviderUsage["mock"] != 1 {
		t.Errorf("Stats = %+v", stats)
	}

	removed, err := c.ClearCache(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("ClearCache removed %d, want 1", removed)
	}
}

func TestClient_watchDisabled(t *testing.T) {
	ts := newTestServer(t, 100)
	c := NewClient(ts.URL, testAdminKey, time.Second)

	_, err := c.WatchList(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotImplemented {
		t.Fatalf("WatchList without watcher: err = %v, want 501", err)
	}
}

func TestClient_documents(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	doc := &models.Document{ID: models.DocumentID("/docs/readme.md"), Path: "/docs/readme.md", Title: "readme.md", Size: 5, ModTime: time.Unix(1700000000, 0)}
	chunks := []*models.Chunk{{ID: "c0", Content: "hello", Embedding: []float32{0.5, 0.5}, Provider: "mock", Model: "mock-embed", Dimensions: 2}}
	if err := store.ReplaceDocument(ctx, doc, chunks); err != nil {
		t.Fatal(err)
	}

	ts := newTestServer(t, 100, server.WithDocuments(store))
	c := NewClient(ts.URL, testUserKey, 5*time.Second)

	page, err := c.Documents(ctx, 0, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Documents) != 1 || page.Documents[0].Path != "/docs/readme.md" || page.Limit != 10 {
		t.Errorf("Documents = %+v", page)
	}

	byPath, err := c.Documents(ctx, 0, 0, "/docs/readme.md")
	if err != nil {
		t.Fatal(err)
	}
	if len(byPath.Documents) != 1 {
		t.Errorf("Documents(path) = %+v", byPath)
	}

	got, err := c.Document(ctx, doc.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != doc.ID || len(got.Chunks) != 1 || len(got.Chunks[0].Embedding) != 2 {
		t.Errorf("Document = %+v", got)
	}

	_, err = c.Document(ctx, "file:missing", false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("missing document: err = %v, want 404", err)
	}
}
