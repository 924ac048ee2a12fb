package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  level: debug
  format: console
pipeline:
  batch_size: 3
  inline_distill: true
  domain_delay_ms: 250
  eval_sample_size: 2
tasks:
  max_attempts: 4
  retry_interval_ms: 50
  timeout_seconds: 45
  heartbeat_seconds: 10
feeds:
  user_agent: feed-agent
  timeout_seconds: 5
fetch:
  user_agent: fetch-agent
  timeout_seconds: 9
  max_body_bytes: 1024
store:
  provider: postgres
  dsn: postgres://feedmill@localhost/feedmill
blob:
  provider: gcs
  gcs_bucket: raw-docs
  prefix: pages
services:
  distiller_url: http://distiller.internal
pubsub:
  enabled: true
  project_id: proj
  topic_name: feedmill-events
progress:
  buffer: 32
  flush_interval_ms: 100
  retention_minutes: 5
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Fatalf("expected logging overrides to apply, got %+v", cfg.Logging)
	}
	if cfg.Pipeline.BatchSize != 3 || !cfg.Pipeline.InlineDistill {
		t.Fatalf("expected pipeline overrides to apply, got %+v", cfg.Pipeline)
	}
	if cfg.Store.Provider != "postgres" || cfg.Store.DSN == "" {
		t.Fatalf("expected postgres store config, got %+v", cfg.Store)
	}
	if cfg.Blob.Provider != "gcs" || cfg.Blob.GCSBucket != "raw-docs" {
		t.Fatalf("expected gcs blob config, got %+v", cfg.Blob)
	}
	if got := cfg.DomainDelay(); got != 250*time.Millisecond {
		t.Fatalf("expected domain delay 250ms, got %v", got)
	}
	if got := cfg.TaskTimeout(); got != 45*time.Second {
		t.Fatalf("expected task timeout 45s, got %v", got)
	}
	if got := cfg.RetryInterval(); got != 50*time.Millisecond {
		t.Fatalf("expected retry interval 50ms, got %v", got)
	}
	if got := cfg.Retention(); got != 5*time.Minute {
		t.Fatalf("expected retention 5m, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.BatchSize != 5 {
		t.Fatalf("expected default batch size 5, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.MaxConcurrentFeeds != 3 {
		t.Fatalf("expected default feed fan-out 3, got %d", cfg.Pipeline.MaxConcurrentFeeds)
	}
	if cfg.Tasks.MaxAttempts != 2 {
		t.Fatalf("expected default max attempts 2, got %d", cfg.Tasks.MaxAttempts)
	}
	if cfg.DomainDelay() != 2*time.Second {
		t.Fatalf("expected default domain delay 2s, got %v", cfg.DomainDelay())
	}
	if cfg.Store.Provider != "memory" || cfg.Blob.Provider != "memory" {
		t.Fatalf("expected memory providers by default, got %+v %+v", cfg.Store, cfg.Blob)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Pipeline: PipelineConfig{MaxConcurrentFeeds: 3, BatchSize: 5},
		Tasks:    TasksConfig{MaxAttempts: 2, TimeoutSeconds: 30},
		Store:    StoreConfig{Provider: "memory"},
		Blob:     BlobConfig{Provider: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid batch size",
			cfg: func() Config {
				c := base
				c.Pipeline.BatchSize = 0
				return c
			}(),
			want: "pipeline.batch_size",
		},
		{
			name: "invalid feed fan-out",
			cfg: func() Config {
				c := base
				c.Pipeline.MaxConcurrentFeeds = 0
				return c
			}(),
			want: "pipeline.max_concurrent_feeds",
		},
		{
			name: "invalid max attempts",
			cfg: func() Config {
				c := base
				c.Tasks.MaxAttempts = 0
				return c
			}(),
			want: "tasks.max_attempts",
		},
		{
			name: "postgres without dsn",
			cfg: func() Config {
				c := base
				c.Store.Provider = "postgres"
				return c
			}(),
			want: "store.dsn",
		},
		{
			name: "unknown store provider",
			cfg: func() Config {
				c := base
				c.Store.Provider = "sqlite"
				return c
			}(),
			want: "store.provider",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Blob.Provider = "gcs"
				return c
			}(),
			want: "blob.gcs_bucket",
		},
		{
			name: "pubsub missing topic",
			cfg: func() Config {
				c := base
				c.PubSub.Enabled = true
				c.PubSub.ProjectID = "proj"
				return c
			}(),
			want: "pubsub",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
