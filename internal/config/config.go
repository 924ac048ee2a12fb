// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Feeds    FeedsConfig    `mapstructure:"feeds"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Store    StoreConfig    `mapstructure:"store"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Services ServicesConfig `mapstructure:"services"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PipelineConfig governs ingestion fan-out and distillation batching.
type PipelineConfig struct {
	MaxConcurrentFeeds int  `mapstructure:"max_concurrent_feeds"`
	BatchSize          int  `mapstructure:"batch_size"`
	InlineDistill      bool `mapstructure:"inline_distill"`
	DomainDelayMs      int  `mapstructure:"domain_delay_ms"`
	HeartbeatEvery     int  `mapstructure:"heartbeat_every"`
	EvalEnabled        bool `mapstructure:"eval_enabled"`
	EvalSampleSize     int  `mapstructure:"eval_sample_size"`
	MaxEntries         int  `mapstructure:"max_entries_per_feed"`
	RunTimeoutMinutes  int  `mapstructure:"run_timeout_minutes"`
}

// TasksConfig configures task retry and liveness behavior.
type TasksConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts"`
	RetryIntervalMs   int `mapstructure:"retry_interval_ms"`
	TimeoutSeconds    int `mapstructure:"timeout_seconds"`
	HeartbeatSeconds  int `mapstructure:"heartbeat_seconds"`
	DistillTimeoutSec int `mapstructure:"distill_timeout_seconds"`
}

// FeedsConfig configures feed document retrieval.
type FeedsConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// FetchConfig configures entry content retrieval.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
}

// StoreConfig selects the feed/entry store provider.
type StoreConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// BlobConfig selects where raw fetched documents are persisted.
type BlobConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// ServicesConfig holds base URLs for the downstream content services.
type ServicesConfig struct {
	DistillerURL string `mapstructure:"distiller_url"`
	EmbedderURL  string `mapstructure:"embedder_url"`
	EvaluatorURL string `mapstructure:"evaluator_url"`
	SearchURL    string `mapstructure:"search_url"`
	GraphURL     string `mapstructure:"graph_url"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the event hub and run registry.
type ProgressConfig struct {
	Buffer           int `mapstructure:"buffer"`
	FlushIntervalMs  int `mapstructure:"flush_interval_ms"`
	RetentionMinutes int `mapstructure:"retention_minutes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FEEDMILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("pipeline.max_concurrent_feeds", 3)
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.inline_distill", true)
	v.SetDefault("pipeline.domain_delay_ms", 2000)
	v.SetDefault("pipeline.heartbeat_every", 10)
	v.SetDefault("pipeline.eval_enabled", false)
	v.SetDefault("pipeline.eval_sample_size", 5)
	v.SetDefault("pipeline.max_entries_per_feed", 0)
	v.SetDefault("pipeline.run_timeout_minutes", 120)
	v.SetDefault("tasks.max_attempts", 2)
	v.SetDefault("tasks.retry_interval_ms", 1000)
	v.SetDefault("tasks.timeout_seconds", 30)
	v.SetDefault("tasks.heartbeat_seconds", 60)
	v.SetDefault("tasks.distill_timeout_seconds", 120)
	v.SetDefault("feeds.user_agent", "feedmill-bot/0.1")
	v.SetDefault("feeds.timeout_seconds", 15)
	v.SetDefault("fetch.user_agent", "feedmill-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.max_body_bytes", 4<<20)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.max_open_conns", 8)
	v.SetDefault("blob.provider", "memory")
	v.SetDefault("blob.prefix", "raw")
	v.SetDefault("blob.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("progress.buffer", 256)
	v.SetDefault("progress.flush_interval_ms", 500)
	v.SetDefault("progress.retention_minutes", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.MaxConcurrentFeeds <= 0 {
		return fmt.Errorf("pipeline.max_concurrent_feeds must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.DomainDelayMs < 0 {
		return fmt.Errorf("pipeline.domain_delay_ms must be >= 0")
	}
	if c.Tasks.MaxAttempts <= 0 {
		return fmt.Errorf("tasks.max_attempts must be > 0")
	}
	if c.Tasks.TimeoutSeconds <= 0 {
		return fmt.Errorf("tasks.timeout_seconds must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("store.provider must be memory or postgres")
	}
	switch c.Blob.Provider {
	case "memory":
	case "local":
		if c.Blob.LocalDir == "" {
			return fmt.Errorf("blob.local_dir must be set when blob.provider is local")
		}
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return fmt.Errorf("blob.gcs_bucket must be set when blob.provider is gcs")
		}
	default:
		return fmt.Errorf("blob.provider must be memory, local, or gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// DomainDelay returns the minimum spacing between fetches against one host.
func (c Config) DomainDelay() time.Duration {
	return time.Duration(c.Pipeline.DomainDelayMs) * time.Millisecond
}

// RetryInterval returns the pause between task attempts.
func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.Tasks.RetryIntervalMs) * time.Millisecond
}

// TaskTimeout returns the per-attempt budget for pipeline tasks.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Tasks.TimeoutSeconds) * time.Second
}

// HeartbeatTimeout returns how long a task may go silent before it is failed.
func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Tasks.HeartbeatSeconds) * time.Second
}

// DistillTimeout returns the per-attempt budget for distillation tasks.
func (c Config) DistillTimeout() time.Duration {
	return time.Duration(c.Tasks.DistillTimeoutSec) * time.Second
}

// RunTimeout returns the overall budget for one pipeline run.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Pipeline.RunTimeoutMinutes) * time.Minute
}

// FlushInterval returns the progress hub coalescing window.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Progress.FlushIntervalMs) * time.Millisecond
}

// Retention returns how long finished runs stay queryable.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Progress.RetentionMinutes) * time.Minute
}
