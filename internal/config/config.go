// Package config provides configuration loading and structs for the embedgate server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache backend names.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AuthConfig lists the API keys accepted by the server. An empty APIKeys list disables auth.
type AuthConfig struct {
	APIKeys   []string `yaml:"api_keys"`
	AdminKeys []string `yaml:"admin_keys"`
}

// Enabled reports whether requests must carry an API key.
func (a *AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0
}

// RateLimitConfig holds per-identity sliding window limits.
type RateLimitConfig struct {
	Enabled   *bool `yaml:"enabled"`
	PerMinute int   `yaml:"per_minute"`
	PerHour   int   `yaml:"per_hour"`
}

// IsEnabled returns whether rate limiting is on; defaults to true when unset.
func (r *RateLimitConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// CacheConfig holds tiered cache settings.
type CacheConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	Backend         string        `yaml:"backend"`
	Namespace       string        `yaml:"namespace"`
	TTL             time.Duration `yaml:"ttl"`
	MaxLocalEntries int           `yaml:"max_local_entries"`
	SingleFlight    bool          `yaml:"single_flight"`
	Redis           RedisConfig   `yaml:"redis"`
}

// IsEnabled returns whether caching is on; defaults to true when unset.
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RedisConfig holds the shared cache store connection.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	Timeout       time.Duration `yaml:"timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// ProvidersConfig holds the upstream embedding backends.
type ProvidersConfig struct {
	Default         string            `yaml:"default"`
	FallbackEnabled *bool             `yaml:"fallback_enabled"`
	Timeout         time.Duration     `yaml:"timeout"`
	Ollama          OllamaConfig      `yaml:"ollama"`
	HuggingFace     HuggingFaceConfig `yaml:"huggingface"`
	Mock            MockConfig        `yaml:"mock"`
}

// IsFallbackEnabled returns whether failover is on; defaults to true when unset.
func (p *ProvidersConfig) IsFallbackEnabled() bool {
	return p.FallbackEnabled == nil || *p.FallbackEnabled
}

// OllamaConfig configures the self-hosted Ollama backend.
type OllamaConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// IsEnabled returns whether the Ollama backend is registered; defaults to true when unset.
func (o *OllamaConfig) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// HuggingFaceConfig configures the hosted HuggingFace inference backend.
// The backend is registered only when an API key is present.
type HuggingFaceConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// MockConfig configures the deterministic in-process backend used for development.
type MockConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Dimensions   int    `yaml:"dimensions"`
	DefaultModel string `yaml:"default_model"`
}

// StorageConfig holds the path of the ingestion sink database.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig holds directory ingestion settings.
type WatchConfig struct {
	Directories      []string      `yaml:"directories"`
	Extensions       []string      `yaml:"extensions"`
	Recursive        *bool         `yaml:"recursive"`
	ChunkSize        int           `yaml:"chunk_size"`
	ChunkOverlap     int           `yaml:"chunk_overlap"`
	Identity         string        `yaml:"identity"`
	Provider         string        `yaml:"provider"`
	Model            string        `yaml:"model"`
	BatchesPerSecond float64       `yaml:"batches_per_second"`
	MaxRetry         time.Duration `yaml:"max_retry"`
	MaxFileSize      int64         `yaml:"max_file_size"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled returns whether /metrics is served; defaults to true when unset.
func (m *MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Load reads and parses the config file at path, applies environment overrides,
// expands paths, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML. Secrets loaded from the environment are
// written too, so callers should only save configs they loaded from path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets from the environment so they can stay out of the config file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("EMBEDGATE_API_KEYS"); v != "" {
		cfg.Auth.APIKeys = splitList(v)
	}
	if v := os.Getenv("EMBEDGATE_ADMIN_KEYS"); v != "" {
		cfg.Auth.AdminKeys = splitList(v)
	}
	if v := os.Getenv("HUGGINGFACE_API_KEY"); v != "" {
		cfg.Providers.HuggingFace.APIKey = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
}

// Validate reports configuration that cannot produce a working gateway.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.RateLimit.PerMinute <= 0 || cfg.RateLimit.PerHour <= 0 {
		return fmt.Errorf("rate_limit.per_minute and rate_limit.per_hour must be positive")
	}
	switch cfg.Cache.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown cache.backend %q (want %q or %q)", cfg.Cache.Backend, BackendRedis, BackendMemory)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	names := cfg.Providers.EnabledNames()
	if len(names) == 0 {
		return fmt.Errorf("no embedding provider enabled")
	}
	found := false
	for _, n := range names {
		if n == cfg.Providers.Default {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("providers.default %q is not an enabled provider (enabled: %s)",
			cfg.Providers.Default, strings.Join(names, ", "))
	}
	if cfg.Watch.ChunkOverlap >= cfg.Watch.ChunkSize {
		return fmt.Errorf("watch.chunk_overlap must be smaller than watch.chunk_size")
	}
	if cfg.Watch.MaxFileSize < 0 {
		return fmt.Errorf("watch.max_file_size must not be negative")
	}
	return nil
}

// EnabledNames returns the registered provider names in registration order.
// The order is also the failover preference order.
func (p *ProvidersConfig) EnabledNames() []string {
	var names []string
	if p.Ollama.IsEnabled() {
		names = append(names, "ollama")
	}
	if p.HuggingFace.APIKey != "" {
		names = append(names, "huggingface")
	}
	if p.Mock.Enabled {
		names = append(names, "mock")
	}
	return names
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
