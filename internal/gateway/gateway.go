// Package gateway turns one embedding request into a rate-limit check, a
// cache lookup, a provider call with failover and a cache write.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/embedgate/internal/cache"
	"github.com/hyperjump/embedgate/internal/metrics"
	"github.com/hyperjump/embedgate/internal/provider"
	"github.com/hyperjump/embedgate/internal/ratelimit"
	"github.com/hyperjump/embedgate/pkg/utils"
)

// Input limits.
const (
	MaxTextLength = 8000
	MaxBatchSize  = 100
)

// ErrInvalidInput is wrapped by every request validation error.
var ErrInvalidInput = errors.New("invalid input")

// Request is a single embedding request.
type Request struct {
	Identity string
	Text     string
	Model    string
	Provider string
	UseCache bool
}

// BatchRequest embeds up to MaxBatchSize texts with one provider/model pair.
type BatchRequest struct {
	Identity string
	Texts    []string
	Model    string
	Provider string
	UseCache bool
}

// Response is the result of Embed.
type Response struct {
	Embedding  []float32      `json:"embedding"`
	Model      string         `json:"model"`
	Provider   string         `json:"provider"`
	Dimensions int            `json:"dimensions"`
	Tokens     *int           `json:"tokens,omitempty"`
	Cached     bool           `json:"cached"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// BatchResponse is the result of EmbedBatch. Embeddings are in input order.
//
// Provider, Model and Dimensions describe the call that served the cache
// misses, or the resolved pair when every text was cached. If that call
// failed over, Metadata carries the fallback markers and Embeddings mixes
// cached vectors from the requested provider with vectors from the fallback,
// which may differ in length.
type BatchResponse struct {
	Embeddings  [][]float32    `json:"embeddings"`
	Model       string         `json:"model"`
	Provider    string         `json:"provider"`
	Dimensions  int            `json:"dimensions"`
	TotalTokens *int           `json:"total_tokens,omitempty"`
	Count       int            `json:"count"`
	CachedCount int            `json:"cached_count"`
	Timestamp   time.Time      `json:"timestamp"`
	RequestID   string         `json:"request_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CacheInfo describes the cache for the admin API.
type CacheInfo struct {
	Enabled    bool         `json:"enabled"`
	Backend    string       `json:"backend"`
	TTLSeconds int          `json:"ttl"`
	Available  bool         `json:"available"`
	Stats      *cache.Stats `json:"stats,omitempty"`
}

// ProviderInfo describes one registered provider.
type ProviderInfo struct {
	Name         string               `json:"name"`
	Available    bool                 `json:"available"`
	Default      bool                 `json:"default"`
	DefaultModel string               `json:"default_model"`
	Models       []provider.ModelInfo `json:"models"`
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = utils.OrNop(l)
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithSingleFlight collapses concurrent cache misses for the same fingerprint
// into one provider call.
func WithSingleFlight(enabled bool) Option {
	return func(g *Gateway) {
		g.singleFlight = enabled
	}
}

// Gateway wires the limiter, cache and registry together. It holds no
// request state of its own.
type Gateway struct {
	limiter  *ratelimit.Limiter
	cache    *cache.TieredCache
	registry *provider.Registry
	metrics  *metrics.Collector
	logger   *zap.Logger

	singleFlight bool
	flights      singleflight.Group
}

// New creates a gateway. A nil cache disables caching for every request.
func New(limiter *ratelimit.Limiter, c *cache.TieredCache, registry *provider.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		limiter:  limiter,
		cache:    c,
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Embed returns the embedding for req.Text, from cache when possible.
func (g *Gateway) Embed(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	text, err := normalizeText(req.Text)
	if err != nil {
		return nil, g.fail("embed", req.Identity, err)
	}
	if err := g.limiter.Check(req.Identity); err != nil {
		return nil, g.fail("embed", req.Identity, err)
	}

	requestID := uuid.NewString()
	useCache := req.UseCache && g.cache != nil

	if useCache {
		p, model, err := g.registry.ResolveModel(req.Provider, req.Model)
		if err != nil {
			return nil, g.fail("embed", req.Identity, err)
		}
		if entry, ok := g.cache.Get(ctx, cache.Fingerprint(p.Name(), model, text)); ok {
			g.metrics.RecordCache(1, 0)
			g.metrics.RecordRequest("embed", 1, time.Since(start))
			g.logger.Info("embedding served",
				zap.String("request_id", requestID),
				zap.String("identity_hash", utils.HashIdentity(req.Identity)),
				zap.String("provider", entry.Provider),
				zap.String("model", entry.Model),
				zap.Bool("cached", true),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()))
			return &Response{
				Embedding:  entry.Vector,
				Model:      entry.Model,
				Provider:   entry.Provider,
				Dimensions: entry.Dimensions,
				Tokens:     entry.Tokens,
				Cached:     true,
				Timestamp:  time.Now().UTC(),
				RequestID:  requestID,
				Metadata:   entry.Metadata,
			}, nil
		}
		g.metrics.RecordCache(0, 1)
	}

	res, err := g.compute(ctx, text, req.Model, req.Provider)
	if err != nil {
		return nil, g.fail("embed", req.Identity, err)
	}

	if useCache {
		g.cache.Put(ctx, cache.Fingerprint(res.Provider, res.Model, text), entryFrom(res))
	}

	g.recordProviderResult(res, 1)
	g.metrics.RecordRequest("embed", 1, time.Since(start))
	g.logger.Info("embedding served",
		zap.String("request_id", requestID),
		zap.String("identity_hash", utils.HashIdentity(req.Identity)),
		zap.String("provider", res.Provider),
		zap.String("model", res.Model),
		zap.Bool("cached", false),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))

	return &Response{
		Embedding:  slices.Clone(res.Vector),
		Model:      res.Model,
		Provider:   res.Provider,
		Dimensions: res.Dimensions,
		Tokens:     res.Tokens,
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID,
		Metadata:   cloneMeta(res.Metadata),
	}, nil
}

// compute calls the registry. With single-flight on, concurrent calls for the
// same resolved fingerprint share one registry call that outlives any single
// caller; each caller still returns when its own ctx is done.
func (g *Gateway) compute(ctx context.Context, text, model, providerName string) (*provider.Result, error) {
	if !g.singleFlight {
		return g.registry.Embed(ctx, text, model, providerName)
	}
	p, resolved, err := g.registry.ResolveModel(providerName, model)
	if err != nil {
		return nil, err
	}
	ch := g.flights.DoChan(cache.Fingerprint(p.Name(), resolved, text), func() (any, error) {
		return g.registry.Embed(context.WithoutCancel(ctx), text, model, providerName)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*provider.Result), nil
	}
}

// EmbedBatch embeds every text with one rate-limit check and one resolved
// provider/model pair. Cache misses go to the registry in a single batch
// call; any failure fails the whole request.
func (g *Gateway) EmbedBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	start := time.Now()
	texts, err := normalizeBatch(req.Texts)
	if err != nil {
		return nil, g.fail("embed_batch", req.Identity, err)
	}
	if err := g.limiter.Check(req.Identity); err != nil {
		return nil, g.fail("embed_batch", req.Identity, err)
	}

	requestID := uuid.NewString()
	p, model, err := g.registry.ResolveModel(req.Provider, req.Model)
	if err != nil {
		return nil, g.fail("embed_batch", req.Identity, err)
	}
	useCache := req.UseCache && g.cache != nil

	vectors := make([][]float32, len(texts))
	tokens := make([]*int, len(texts))
	var missIdx []int
	if useCache {
		for i, text := range texts {
			if entry, ok := g.cache.Get(ctx, cache.Fingerprint(p.Name(), model, text)); ok {
				vectors[i] = entry.Vector
				tokens[i] = entry.Tokens
				continue
			}
			missIdx = append(missIdx, i)
		}
	} else {
		missIdx = make([]int, len(texts))
		for i := range texts {
			missIdx[i] = i
		}
	}

	servedBy, servedModel := p.Name(), model
	servedDims := 0
	var meta map[string]any
	if len(missIdx) > 0 {
		missTexts := make([]string, len(missIdx))
		for j, i := range missIdx {
			missTexts[j] = texts[i]
		}
		results, err := g.registry.EmbedBatch(ctx, missTexts, req.Model, req.Provider)
		if err != nil {
			return nil, g.fail("embed_batch", req.Identity, err)
		}
		for j, res := range results {
			i := missIdx[j]
			vectors[i] = slices.Clone(res.Vector)
			tokens[i] = res.Tokens
			if useCache {
				g.cache.Put(ctx, cache.Fingerprint(res.Provider, res.Model, texts[i]), entryFrom(res))
			}
		}
		first := results[0]
		servedBy, servedModel, servedDims = first.Provider, first.Model, first.Dimensions
		if fb, _ := first.Metadata[provider.MetaFallback].(bool); fb {
			meta = cloneMeta(first.Metadata)
		}
		g.recordProviderResult(first, len(results))
	}

	cached := len(texts) - len(missIdx)
	if useCache {
		g.metrics.RecordCache(cached, len(missIdx))
	}
	g.metrics.RecordRequest("embed_batch", len(texts), time.Since(start))
	g.logger.Info("batch embedding served",
		zap.String("request_id", requestID),
		zap.String("identity_hash", utils.HashIdentity(req.Identity)),
		zap.String("provider", servedBy),
		zap.String("model", servedModel),
		zap.Int("count", len(texts)),
		zap.Int("cached_count", cached),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))

	resp := &BatchResponse{
		Embeddings:  vectors,
		Model:       servedModel,
		Provider:    servedBy,
		TotalTokens: sumTokens(tokens),
		Count:       len(texts),
		CachedCount: cached,
		Timestamp:   time.Now().UTC(),
		RequestID:   requestID,
		Metadata:    meta,
	}
	switch {
	case servedDims > 0:
		resp.Dimensions = servedDims
	case len(vectors) > 0:
		resp.Dimensions = len(vectors[0])
	}
	return resp, nil
}

// CacheInfo reports cache configuration and backend state.
func (g *Gateway) CacheInfo(ctx context.Context) CacheInfo {
	if g.cache == nil {
		return CacheInfo{Enabled: false, Backend: "none"}
	}
	stats := g.cache.Stats(ctx)
	g.metrics.SetCacheAvailable(stats.Available)
	return CacheInfo{
		Enabled:    true,
		Backend:    stats.Backend,
		TTLSeconds: int(g.cache.TTL().Seconds()),
		Available:  stats.Available,
		Stats:      &stats,
	}
}

// ClearCache removes every cached embedding and returns how many were removed.
func (g *Gateway) ClearCache(ctx context.Context) int {
	if g.cache == nil {
		return 0
	}
	n := g.cache.InvalidateAll(ctx)
	g.logger.Info("cache cleared", zap.Int("removed", n))
	return n
}

// Usage returns the rate-limit usage of identity.
func (g *Gateway) Usage(identity string) ratelimit.Usage {
	return g.limiter.Usage(identity)
}

// DefaultProvider returns the name of the default provider.
func (g *Gateway) DefaultProvider() string {
	return g.registry.DefaultName()
}

// ListProviders returns every provider with its current health.
func (g *Gateway) ListProviders(ctx context.Context) []ProviderInfo {
	health := g.registry.HealthCheckAll(ctx)
	providers := g.registry.Providers()
	out := make([]ProviderInfo, len(providers))
	for i, p := range providers {
		out[i] = ProviderInfo{
			Name:         p.Name(),
			Available:    health[p.Name()],
			Default:      p.Name() == g.registry.DefaultName(),
			DefaultModel: p.DefaultModel(),
			Models:       p.Models(),
		}
	}
	return out
}

// ProviderStatus checks one provider.
func (g *Gateway) ProviderStatus(ctx context.Context, name string) (ProviderInfo, error) {
	p, err := g.registry.Resolve(name)
	if err != nil {
		return ProviderInfo{}, err
	}
	ok, err := g.registry.HealthCheck(ctx, name)
	if err != nil {
		return ProviderInfo{}, err
	}
	return ProviderInfo{
		Name:         p.Name(),
		Available:    ok,
		Default:      p.Name() == g.registry.DefaultName(),
		DefaultModel: p.DefaultModel(),
		Models:       p.Models(),
	}, nil
}

// Metrics returns the collector's snapshot.
func (g *Gateway) Metrics() metrics.Snapshot {
	return g.metrics.Snapshot()
}

func (g *Gateway) recordProviderResult(res *provider.Result, n int) {
	g.metrics.RecordProvider(res.Provider, n)
	if primary, ok := res.Metadata[provider.MetaPrimaryProvider].(string); ok {
		g.metrics.RecordFallback(primary, res.Provider)
	}
}

func (g *Gateway) fail(operation, identity string, err error) error {
	kind := ErrorKind(err)
	g.metrics.RecordError(kind)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("identity_hash", utils.HashIdentity(identity)),
		zap.String("kind", kind),
		zap.Error(err),
	}
	switch kind {
	case "rate_limited", "invalid_input", "provider_not_found":
		g.logger.Info("request rejected", fields...)
	default:
		g.logger.Error("request failed", fields...)
	}
	return err
}

// ErrorKind classifies err for metrics and logs.
func ErrorKind(err error) string {
	var (
		allFailed *provider.AllFailedError
		callErr   *provider.CallError
	)
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, provider.ErrNotFound):
		return "provider_not_found"
	case errors.As(err, &allFailed):
		return "all_providers_failed"
	case errors.As(err, &callErr):
		return "provider_failed"
	default:
		return "internal"
	}
}

func normalizeText(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(s); n > MaxTextLength {
		return "", fmt.Errorf("%w: text has %d characters, maximum is %d", ErrInvalidInput, n, MaxTextLength)
	}
	return s, nil
}

func normalizeBatch(texts []string) ([]string, error) {
	if len(texts) == 0 || len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch must contain 1 to %d texts, got %d", ErrInvalidInput, MaxBatchSize, len(texts))
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		s, err := normalizeText(t)
		if err != nil {
			return nil, fmt.Errorf("text at index %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// entryFrom builds the cache entry for res. Fallback stamps describe the
// request that produced the result, not the result, so they are not cached.
func entryFrom(res *provider.Result) cache.Entry {
	meta := cloneMeta(res.Metadata)
	delete(meta, provider.MetaFallback)
	delete(meta, provider.MetaPrimaryProvider)
	delete(meta, provider.MetaPrimaryError)
	if len(meta) == 0 {
		meta = nil
	}
	return cache.Entry{
		Vector:     res.Vector,
		Model:      res.Model,
		Provider:   res.Provider,
		Dimensions: res.Dimensions,
		Tokens:     res.Tokens,
		Metadata:   meta,
	}
}

func cloneMeta(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sumTokens(tokens []*int) *int {
	total, seen := 0, false
	for _, t := range tokens {
		if t != nil {
			total += *t
			seen = true
		}
	}
	if !seen {
		return nil
	}
	return &total
}
