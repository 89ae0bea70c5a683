// Package config provides configuration management for Recall.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the global configuration for the Recall engine.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Retrieval is the hybrid retrieval engine configuration.
	Retrieval RetrievalConfig `mapstructure:"retrieval" validate:"required"`

	// Embedder is the embedding provider configuration.
	Embedder EmbedderConfig `mapstructure:"embedder" validate:"required"`

	// Storage is the durable record log configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Cache is the embedding cache configuration.
	Cache CacheConfig `mapstructure:"cache"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum idle time for keep-alive connections.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds each request, including retrieval calls.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the log output format (json or text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the log destination (stdout, stderr, or a file path).
	Output string `mapstructure:"output"`
}

// RetrievalConfig holds the hybrid retrieval engine settings.
//
// Behavior-changing fields here carry no implicit defaults: Load rejects a
// configuration that does not state them explicitly, and the active values
// are logged at startup.
type RetrievalConfig struct {
	// VectorWeight is the semantic share of the fused score, in [0,1].
	// Hot-swappable through the Tunables cell.
	VectorWeight float64 `mapstructure:"vector_weight" validate:"min=0,max=1"`

	// SimilarityThreshold is the minimum raw cosine similarity a vector
	// candidate needs to enter fusion; it does not gate lexical-only
	// candidates. Hot-swappable through the Tunables cell.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"min=0,max=1"`

	// PrecisionFiltering enables the metadata-filtered precision retrieval
	// mode. The field is a pointer so that a config which omits it fails
	// validation instead of silently defaulting off.
	PrecisionFiltering *bool `mapstructure:"precision_filtering" validate:"required"`

	// CandidateMultiplier widens the fusion candidate pool to
	// CandidateMultiplier x topK before filtering and truncation.
	CandidateMultiplier int `mapstructure:"candidate_multiplier" validate:"min=2,max=10"`

	// MinCandidatePool is the floor for the widened candidate pool.
	MinCandidatePool int `mapstructure:"min_candidate_pool" validate:"min=1"`

	// Lexical holds the BM25 scoring parameters.
	Lexical LexicalConfig `mapstructure:"lexical"`

	// Window is the short-term window configuration.
	Window WindowConfig `mapstructure:"window"`

	// Payload is the context payload builder configuration.
	Payload PayloadConfig `mapstructure:"payload"`
}

// LexicalConfig holds BM25 parameters for the lexical index.
type LexicalConfig struct {
	// K1 controls term-frequency saturation. Typical range: 1.2-2.0.
	K1 float64 `mapstructure:"k1" validate:"min=0"`

	// B controls document-length normalization. Typical range: 0-1.
	B float64 `mapstructure:"b" validate:"min=0,max=1"`
}

// WindowConfig holds the short-term window settings.
type WindowConfig struct {
	// Capacity is the fixed number of recent records retained per session.
	Capacity int `mapstructure:"capacity" validate:"min=1,max=64"`
}

// PayloadConfig holds context payload assembly settings.
type PayloadConfig struct {
	// DefaultBudget is the payload token budget used when a request does
	// not supply one.
	DefaultBudget int `mapstructure:"default_budget" validate:"min=256"`
}

// EmbedderConfig holds the embedding provider settings.
type EmbedderConfig struct {
	// Provider selects the embedding backend (openai or static).
	Provider string `mapstructure:"provider" validate:"oneof=openai static"`

	// APIKey is the API key for remote providers.
	APIKey string `mapstructure:"api_key"`

	// Model is the embedding model name.
	Model string `mapstructure:"model"`

	// BaseURL overrides the provider endpoint (optional).
	BaseURL string `mapstructure:"base_url"`

	// Dimensions is the embedding vector dimension. Fixed per deployment;
	// every record in one index shares it.
	Dimensions int `mapstructure:"dimensions" validate:"required,min=8"`

	// RequestsPerSecond rate-limits remote embedding calls. Zero disables.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`

	// BatchSize is the maximum batch size for EmbedBatch calls.
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`
}

// StorageConfig holds the durable record log settings.
type StorageConfig struct {
	// Type selects the record log backend (badger or memory).
	Type string `mapstructure:"type" validate:"oneof=badger memory"`

	// Badger holds Badger-specific settings.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds Badger record log settings.
type BadgerConfig struct {
	// Path is the on-disk directory for the record log.
	Path string `mapstructure:"path"`

	// SyncWrites forces fsync on every append.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize caps each value log file (bytes).
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`
}

// CacheConfig holds the embedding cache settings.
type CacheConfig struct {
	// Type selects the cache backend (memory, redis, or none).
	Type string `mapstructure:"type" validate:"oneof=memory redis none"`

	// Size is the in-memory LRU capacity (entries).
	Size int `mapstructure:"size" validate:"min=0"`

	// Redis holds Redis-specific settings.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings for the embedding cache.
type RedisConfig struct {
	// Address is the Redis host:port.
	Address string `mapstructure:"address"`

	// Password is the Redis password (optional).
	Password string `mapstructure:"password"`

	// DB is the Redis logical database.
	DB int `mapstructure:"db" validate:"min=0"`

	// TTL is the cache entry lifetime. Zero means no expiry.
	TTL time.Duration `mapstructure:"ttl"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled enables the metrics endpoint.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	// Enabled enables trace export.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the exporter type. Only "otlp" is supported.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds each export call.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler selects the sampling strategy: always_on, always_off, or ratio.
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off ratio"`

	// SampleRate is the trace sampling ratio in [0,1], used by the ratio sampler.
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`

	// Headers are extra headers sent to the collector.
	Headers map[string]string `mapstructure:"headers"`
}

// String returns a JSON rendering of the configuration with secrets redacted.
// This is what gets logged at startup.
func (c *Config) String() string {
	clone := *c
	if clone.Embedder.APIKey != "" {
		clone.Embedder.APIKey = "[redacted]"
	}
	if clone.Cache.Redis.Password != "" {
		clone.Cache.Redis.Password = "[redacted]"
	}
	data, err := json.Marshal(&clone)
	if err != nil {
		return fmt.Sprintf("config marshal failed: %v", err)
	}
	return string(data)
}

// PrecisionEnabled reports the explicit precision filtering flag.
// Load guarantees the pointer is non-nil.
func (c *RetrievalConfig) PrecisionEnabled() bool {
	return c.PrecisionFiltering != nil && *c.PrecisionFiltering
}
