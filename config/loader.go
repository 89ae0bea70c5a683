package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "RECALL_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Loader handles configuration loading from defaults, files, environment
// variables, and explicit overrides.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		k: koanf.New(Delimiter),
	}
}

// Load loads configuration from all sources with the following priority:
//  1. Explicit overrides (highest)
//  2. Environment variables (RECALL_*)
//  3. Configuration file
//  4. Defaults (lowest)
//
// A .env file in the working directory is loaded into the process
// environment first, so it participates at env-var priority.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := l.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		l.loadDefaultFiles()
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults loads the default configuration as the baseline layer.
func (l *Loader) loadDefaults() error {
	defaults := DefaultConfig()
	flat := flattenConfig(defaults)
	return l.k.Load(confmap.Provider(flat, Delimiter), nil)
}

// loadFile loads a single configuration file by extension.
func (l *Loader) loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.k.Load(file.Provider(path), yaml.Parser())
	case ".json":
		return l.k.Load(file.Provider(path), json.Parser())
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
}

// loadDefaultFiles tries standard config locations. Missing files are fine.
func (l *Loader) loadDefaultFiles() {
	candidates := []string{
		"recall.yaml",
		"recall.yml",
		"recall.json",
		filepath.Join("config", "recall.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = l.loadFile(path)
			return
		}
	}
}

// loadEnv loads RECALL_* environment variables.
// RECALL_SERVER_PORT maps to server.port.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
			"_", Delimiter,
		)
	}), nil)
}

// flattenConfig converts a Config into a flat key map for confmap loading.
func flattenConfig(cfg *Config) map[string]interface{} {
	flat := map[string]interface{}{
		"app.name":        cfg.App.Name,
		"app.version":     cfg.App.Version,
		"app.environment": cfg.App.Environment,
		"app.debug":       cfg.App.Debug,

		"server.host":            cfg.Server.Host,
		"server.port":            cfg.Server.Port,
		"server.read_timeout":    cfg.Server.ReadTimeout,
		"server.write_timeout":   cfg.Server.WriteTimeout,
		"server.idle_timeout":    cfg.Server.IdleTimeout,
		"server.request_timeout": cfg.Server.RequestTimeout,

		"log.level":  cfg.Log.Level,
		"log.format": cfg.Log.Format,
		"log.output": cfg.Log.Output,

		"retrieval.vector_weight":          cfg.Retrieval.VectorWeight,
		"retrieval.similarity_threshold":   cfg.Retrieval.SimilarityThreshold,
		"retrieval.candidate_multiplier":   cfg.Retrieval.CandidateMultiplier,
		"retrieval.min_candidate_pool":     cfg.Retrieval.MinCandidatePool,
		"retrieval.lexical.k1":             cfg.Retrieval.Lexical.K1,
		"retrieval.lexical.b":              cfg.Retrieval.Lexical.B,
		"retrieval.window.capacity":        cfg.Retrieval.Window.Capacity,
		"retrieval.payload.default_budget": cfg.Retrieval.Payload.DefaultBudget,

		"embedder.provider":            cfg.Embedder.Provider,
		"embedder.api_key":             cfg.Embedder.APIKey,
		"embedder.model":               cfg.Embedder.Model,
		"embedder.base_url":            cfg.Embedder.BaseURL,
		"embedder.dimensions":          cfg.Embedder.Dimensions,
		"embedder.requests_per_second": cfg.Embedder.RequestsPerSecond,
		"embedder.batch_size":          cfg.Embedder.BatchSize,

		"storage.type":                       cfg.Storage.Type,
		"storage.badger.path":                cfg.Storage.Badger.Path,
		"storage.badger.sync_writes":         cfg.Storage.Badger.SyncWrites,
		"storage.badger.value_log_file_size": cfg.Storage.Badger.ValueLogFileSize,

		"cache.type":           cfg.Cache.Type,
		"cache.size":           cfg.Cache.Size,
		"cache.redis.address":  cfg.Cache.Redis.Address,
		"cache.redis.password": cfg.Cache.Redis.Password,
		"cache.redis.db":       cfg.Cache.Redis.DB,
		"cache.redis.ttl":      cfg.Cache.Redis.TTL,

		"metrics.enabled": cfg.Metrics.Enabled,
		"metrics.path":    cfg.Metrics.Path,
		"metrics.port":    cfg.Metrics.Port,

		"tracing.enabled":     cfg.Tracing.Enabled,
		"tracing.exporter":    cfg.Tracing.Exporter,
		"tracing.endpoint":    cfg.Tracing.Endpoint,
		"tracing.timeout":     cfg.Tracing.Timeout,
		"tracing.sampler":     cfg.Tracing.Sampler,
		"tracing.sample_rate": cfg.Tracing.SampleRate,
	}

	// PrecisionFiltering is only seeded when the caller's defaults set it;
	// DefaultConfig leaves it nil so the deployment must decide.
	if cfg.Retrieval.PrecisionFiltering != nil {
		flat["retrieval.precision_filtering"] = *cfg.Retrieval.PrecisionFiltering
	}

	return flat
}

// Load is a convenience wrapper around NewLoader().Load.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
