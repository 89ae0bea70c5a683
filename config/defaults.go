package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
//
// PrecisionFiltering is deliberately absent: it is a behavior-changing flag
// and must be stated by the deployment. Everything else defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "recall",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Retrieval: RetrievalConfig{
			VectorWeight:        0.7,
			SimilarityThreshold: 0.0,
			CandidateMultiplier: 3,
			MinCandidatePool:    30,
			Lexical: LexicalConfig{
				K1: 1.5,
				B:  0.75,
			},
			Window: WindowConfig{
				Capacity: 6,
			},
			Payload: PayloadConfig{
				DefaultBudget: 8192,
			},
		},
		Embedder: EmbedderConfig{
			Provider:          "static",
			Model:             "text-embedding-3-small",
			Dimensions:        256,
			RequestsPerSecond: 10,
			BatchSize:         64,
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:             "./data/recall",
				SyncWrites:       true,
				ValueLogFileSize: 1 << 30,
			},
		},
		Cache: CacheConfig{
			Type: "memory",
			Size: 4096,
			Redis: RedisConfig{
				Address: "localhost:6379",
				DB:      0,
				TTL:     24 * time.Hour,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    10 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
