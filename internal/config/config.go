// Package config loads the archiver configuration from hnarchive.yaml and
// HNARCHIVE_* environment variables, with env vars taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved archiver configuration.
type Config struct {
	// Upstream API.
	UpstreamBaseURL    string        `mapstructure:"upstream_base_url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	BucketCapacity     int           `mapstructure:"bucket_capacity"`
	BucketRefillPerSec float64       `mapstructure:"bucket_refill_per_sec"`
	ConcurrentRequests int64         `mapstructure:"concurrent_requests"`

	// Storage.
	DBPath string `mapstructure:"db_path"`

	// HTTP frontdoor.
	BindAddr       string        `mapstructure:"bind_addr"`
	TriggerSecret  string        `mapstructure:"trigger_secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	IPRateLimit    int           `mapstructure:"ip_rate_limit"`
	IPRateWindow   time.Duration `mapstructure:"ip_rate_window"`

	// Pipeline tuning.
	BatchSize          int           `mapstructure:"batch_size"`
	ColdStartBacklog   int64         `mapstructure:"cold_start_backlog"`
	DedupWindow        time.Duration `mapstructure:"dedup_window"`
	StaleThreshold     time.Duration `mapstructure:"stale_threshold"`
	StaleMinScore      int64         `mapstructure:"stale_min_score"`
	StaleMinDescend    int64         `mapstructure:"stale_min_descendants"`
	StaleLimit         int           `mapstructure:"stale_limit"`
	AIBatchSize        int           `mapstructure:"ai_batch_size"`
	EmbeddingBatchSize int           `mapstructure:"embedding_batch_size"`

	// Budget constants.
	VectorizeDailyLimit  int64 `mapstructure:"vectorize_daily_limit"`
	EmbeddingsTotalLimit int64 `mapstructure:"embeddings_total_limit"`

	// Schedules.
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	UpdatesInterval   time.Duration `mapstructure:"updates_interval"`
	BackfillInterval  time.Duration `mapstructure:"backfill_interval"`

	// AI collaborators.
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AIModel         string `mapstructure:"ai_model"`
	OllamaHost      string `mapstructure:"ollama_host"`
	EmbedModel      string `mapstructure:"embed_model"`
	EmbeddingDims   int    `mapstructure:"embedding_dims"`

	// Vector index.
	VectorIndexURL   string `mapstructure:"vector_index_url"`
	VectorIndexToken string `mapstructure:"vector_index_token"`

	// Analytics cache backend: "sqlite" (default) or "redis".
	CacheBackend string `mapstructure:"cache_backend"`
	RedisURL     string `mapstructure:"redis_url"`

	// Logging.
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// setDefaults registers every key with its default so unset values are
// always usable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream_base_url", "https://hacker-news.firebaseio.com/v0")
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("bucket_capacity", 50)
	v.SetDefault("bucket_refill_per_sec", 50.0)
	v.SetDefault("concurrent_requests", 100)

	v.SetDefault("db_path", "hnarchive.db")

	v.SetDefault("bind_addr", ":8787")
	v.SetDefault("trigger_secret", "")
	v.SetDefault("allowed_origins", []string{
		"https://hnarchive.pages.dev",
		"http://localhost:8788",
	})
	v.SetDefault("ip_rate_limit", 100)
	v.SetDefault("ip_rate_window", 60*time.Second)

	v.SetDefault("batch_size", 100)
	v.SetDefault("cold_start_backlog", 1000)
	v.SetDefault("dedup_window", 5*time.Minute)
	v.SetDefault("stale_threshold", 24*time.Hour)
	v.SetDefault("stale_min_score", 50)
	v.SetDefault("stale_min_descendants", 20)
	v.SetDefault("stale_limit", 100)
	v.SetDefault("ai_batch_size", 50)
	v.SetDefault("embedding_batch_size", 50)

	v.SetDefault("vectorize_daily_limit", 1500)
	v.SetDefault("embeddings_total_limit", 10000)

	v.SetDefault("discovery_interval", 3*time.Minute)
	v.SetDefault("updates_interval", 10*time.Minute)
	v.SetDefault("backfill_interval", 2*time.Hour)

	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("ai_model", "claude-3-5-haiku-latest")
	v.SetDefault("ollama_host", "")
	v.SetDefault("embed_model", "nomic-embed-text")
	v.SetDefault("embedding_dims", 768)

	v.SetDefault("vector_index_url", "")
	v.SetDefault("vector_index_token", "")

	v.SetDefault("cache_backend", "sqlite")
	v.SetDefault("redis_url", "redis://localhost:6379/0")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Load reads the configuration. path may name an explicit config file; when
// empty, hnarchive.yaml is searched in the working directory. A missing
// config file is not an error; defaults plus env vars apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HNARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hnarchive")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit file must exist; the implicit search may miss.
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipelines cannot run with.
func (c *Config) Validate() error {
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("upstream_base_url must not be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BucketCapacity <= 0 || c.BucketRefillPerSec <= 0 {
		return fmt.Errorf("bucket capacity and refill rate must be positive")
	}
	if c.ConcurrentRequests <= 0 {
		return fmt.Errorf("concurrent_requests must be positive, got %d", c.ConcurrentRequests)
	}
	switch c.CacheBackend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("cache_backend must be sqlite or redis, got %q", c.CacheBackend)
	}
	return nil
}
