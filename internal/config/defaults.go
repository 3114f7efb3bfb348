package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.RateLimit.PerMinute == 0 {
		cfg.RateLimit.PerMinute = 60
	}
	if cfg.RateLimit.PerHour == 0 {
		cfg.RateLimit.PerHour = 1000
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = BackendRedis
	}
	if cfg.Cache.Namespace == "" {
		cfg.Cache.Namespace = "emb"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Cache.MaxLocalEntries == 0 {
		cfg.Cache.MaxLocalEntries = 10000
	}
	if cfg.Cache.Redis.Addr == "" {
		cfg.Cache.Redis.Addr = "localhost:6379"
	}
	if cfg.Cache.Redis.Timeout == 0 {
		cfg.Cache.Redis.Timeout = 250 * time.Millisecond
	}
	if cfg.Cache.Redis.ProbeInterval == 0 {
		cfg.Cache.Redis.ProbeInterval = 30 * time.Second
	}

	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "ollama"
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = 30 * time.Second
	}
	if cfg.Providers.Ollama.BaseURL == "" {
		cfg.Providers.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Providers.Ollama.DefaultModel == "" {
		cfg.Providers.Ollama.DefaultModel = "nomic-embed-text"
	}
	if cfg.Providers.Ollama.Timeout == 0 {
		cfg.Providers.Ollama.Timeout = cfg.Providers.Timeout
	}
	if cfg.Providers.HuggingFace.BaseURL == "" {
		cfg.Providers.HuggingFace.BaseURL = "https://api-inference.huggingface.co/pipeline/feature-extraction"
	}
	if cfg.Providers.HuggingFace.DefaultModel == "" {
		cfg.Providers.HuggingFace.DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Providers.HuggingFace.Timeout == 0 {
		cfg.Providers.HuggingFace.Timeout = cfg.Providers.Timeout
	}
	if cfg.Providers.Mock.Dimensions == 0 {
		cfg.Providers.Mock.Dimensions = 384
	}
	if cfg.Providers.Mock.DefaultModel == "" {
		cfg.Providers.Mock.DefaultModel = "mock-embed"
	}

	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/embedgate.db"
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".odt", ".rtf", ".xlsx", ".pptx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Watch.MaxFileSize == 0 {
		cfg.Watch.MaxFileSize = 50 << 20
	}
	if cfg.Watch.ChunkSize == 0 {
		cfg.Watch.ChunkSize = 200
	}
	if cfg.Watch.ChunkOverlap == 0 {
		cfg.Watch.ChunkOverlap = 20
	}
	if cfg.Watch.Identity == "" {
		cfg.Watch.Identity = "ingest"
	}
	if cfg.Watch.BatchesPerSecond == 0 {
		cfg.Watch.BatchesPerSecond = 2
	}
	if cfg.Watch.MaxRetry == 0 {
		cfg.Watch.MaxRetry = 2 * time.Minute
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
