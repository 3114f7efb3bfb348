package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/embedgate/internal/config"
	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/ingest"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after text are moved first",
			args:     []string{"hello world", "-provider", "ollama"},
			expected: []string{"-provider", "ollama", "hello world"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-provider", "ollama", "hello world"},
			expected: []string{"-provider", "ollama", "hello world"},
		},
		{
			name:     "text only returns unchanged",
			args:     []string{"hello world"},
			expected: []string{"hello world"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "--output", "json"},
			expected: []string{"--output", "json", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildText(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"hello"}, "hello"},
		{"multiple words", []string{"hello", "world"}, "hello world"},
		{"single quoted phrase", []string{"hello world"}, "hello world"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildText(tt.args); got != tt.expected {
				t.Errorf("buildText(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestReadTextsFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "texts.txt")
	if err := os.WriteFile(path, []byte("alpha\n\nbeta\n"), 0600); err != nil {
		t.Fatal(err)
	}
	texts, err := readTextsFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(texts, []string{"alpha", "beta"}) {
		t.Errorf("readTextsFrom = %q", texts)
	}
	if _, err := readTextsFrom(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "test.db") {
		t.Errorf("database path = %s, want it relative to the config dir", cfg.Storage.DatabasePath)
	}
}

func TestLoadConfig_invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  default: "mock"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadConfig(configPath); err == nil {
		t.Error("default provider that is not enabled should fail validation")
	}
}

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	disabled := false
	cfg := &config.Config{}
	cfg.Providers.Default = "mock"
	cfg.Providers.Ollama.Enabled = &disabled
	cfg.Providers.Mock.Enabled = true
	cfg.Providers.Mock.Dimensions = 16
	cfg.Cache.Backend = config.BackendMemory
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "embedgate.db")
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestBuildProviders_order(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Providers.HuggingFace.APIKey = "hf-test"
	enabled := true
	cfg.Providers.Ollama.Enabled = &enabled

	providers := buildProviders(cfg)
	var names []string
	for _, p := range providers {
		names = append(names, p.Name())
	}
	if !reflect.DeepEqual(names, []string{"ollama", "huggingface", "mock"}) {
		t.Errorf("provider order = %v", names)
	}
}

func TestBuildCache(t *testing.T) {
	cfg := mockConfig(t)
	c := buildCache(cfg, zap.NewNop())
	if c == nil {
		t.Fatal("memory backend should build a cache")
	}
	if got := c.Stats(context.Background()).Backend; got != config.BackendMemory {
		t.Errorf("backend = %s, want memory", got)
	}

	disabled := false
	cfg.Cache.Enabled = &disabled
	if buildCache(cfg, zap.NewNop()) != nil {
		t.Error("disabled cache should be nil")
	}
}

func TestInitializeComponents_ingestAndEmbed(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Watch.BatchesPerSecond = 0
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	resp, err := c.Gateway.Embed(ctx, gateway.Request{Identity: "cli-test", Text: "hello", UseCache: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "mock" || resp.Dimensions != 16 {
		t.Errorf("Embed = %+v", resp)
	}

	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("a short note about embeddings"), 0600); err != nil {
		t.Fatal(err)
	}
	outcome, err := c.Ingester.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != ingest.OutcomeIngested {
		t.Errorf("outcome = %s, want ingested", outcome)
	}
	n, err := c.Storage.CountDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("documents = %d, want 1", n)
	}
}
