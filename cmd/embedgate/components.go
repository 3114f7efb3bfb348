package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/embedgate/internal/cache"
	"github.com/hyperjump/embedgate/internal/config"
	"github.com/hyperjump/embedgate/internal/extract"
	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/ingest"
	"github.com/hyperjump/embedgate/internal/metrics"
	"github.com/hyperjump/embedgate/internal/provider"
	"github.com/hyperjump/embedgate/internal/ratelimit"
	"github.com/hyperjump/embedgate/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Storage  storage.Store
	Registry *provider.Registry
	Cache    *cache.TieredCache
	Metrics  *metrics.Collector
	Gateway  *gateway.Gateway
	Ingester *ingest.Ingester
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Metrics: metrics.New()}

	reg, err := provider.NewRegistry(provider.RegistryConfig{
		Default:         cfg.Providers.Default,
		FallbackEnabled: cfg.Providers.IsFallbackEnabled(),
		Timeout:         cfg.Providers.Timeout,
	}, buildProviders(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	c.Registry = reg

	c.Cache = buildCache(cfg, logger)
	if c.Cache != nil {
		logger.Info("cache initialized",
			zap.String("backend", cfg.Cache.Backend),
			zap.Duration("ttl", cfg.Cache.TTL))
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:   cfg.RateLimit.IsEnabled(),
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
	})
	c.Gateway = gateway.New(limiter, c.Cache, reg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(c.Metrics),
		gateway.WithSingleFlight(cfg.Cache.SingleFlight),
	)

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	for _, ext := range cfg.Watch.Extensions {
		if !extract.Supports(ext) {
			logger.Warn("watch extension has no extractor and will be skipped",
				zap.String("extension", ext),
				zap.Strings("supported", extract.Extensions()))
		}
	}
	extractor := extract.NewExtractor(extract.WithMaxFileSize(cfg.Watch.MaxFileSize))
	c.Ingester = ingest.New(c.Gateway, store, extractor, ingest.Config{
		Identity:         cfg.Watch.Identity,
		Provider:         cfg.Watch.Provider,
		Model:            cfg.Watch.Model,
		Extensions:       cfg.Watch.Extensions,
		ChunkSize:        cfg.Watch.ChunkSize,
		ChunkOverlap:     cfg.Watch.ChunkOverlap,
		BatchesPerSecond: cfg.Watch.BatchesPerSecond,
		MaxRetry:         cfg.Watch.MaxRetry,
	}, ingest.WithLogger(logger))

	return c, nil
}

// buildProviders constructs the enabled providers in failover order.
func buildProviders(cfg *config.Config) []provider.Provider {
	pc := cfg.Providers
	var providers []provider.Provider
	for _, name := range pc.EnabledNames() {
		switch name {
		case provider.OllamaName:
			providers = append(providers, provider.NewOllamaProvider(
				pc.Ollama.BaseURL, pc.Ollama.DefaultModel, pc.Ollama.Timeout))
		case provider.HuggingFaceName:
			providers = append(providers, provider.NewHuggingFaceProvider(
				pc.HuggingFace.BaseURL, pc.HuggingFace.APIKey, pc.HuggingFace.DefaultModel, pc.HuggingFace.Timeout))
		case provider.MockName:
			providers = append(providers, provider.NewMockProvider(
				provider.MockName, pc.Mock.Dimensions, pc.Mock.DefaultModel))
		}
	}
	return providers
}

// buildCache returns nil when caching is disabled. The memory backend runs
// the tiered cache without a shared store.
func buildCache(cfg *config.Config, logger *zap.Logger) *cache.TieredCache {
	cc := cfg.Cache
	if !cc.IsEnabled() {
		return nil
	}
	var shared cache.SharedStore
	if cc.Backend == config.BackendRedis {
		shared = cache.NewRedisStore(cache.RedisConfig{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			Timeout:  cc.Redis.Timeout,
		})
	}
	return cache.New(shared, cache.Config{
		Namespace:       cc.Namespace,
		TTL:             cc.TTL,
		MaxLocalEntries: cc.MaxLocalEntries,
		Timeout:         cc.Redis.Timeout,
		ProbeInterval:   cc.Redis.ProbeInterval,
	}, cache.WithLogger(logger))
}
