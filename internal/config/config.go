// Package config loads the gateway's top-level YAML configuration: HTTP and
// metrics listen addresses, the Postgres connection used by the tracker/
// outbox/idempotency stores, the payer-call client, the outbox publisher's
// drain loop, and the notify-subscribers routing table. Values loaded from
// YAML can be overridden by environment variables, in the same override
// order the stage workers expect: file first, env last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the gateway's HTTP listen addresses.
type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// DatabaseConfig holds the Postgres connection backing the tracker, outbox,
// event tracker, and idempotency stores.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// PayerConfig holds the payer-call stage's outbound client settings.
type PayerConfig struct {
	Endpoint              string        `yaml:"endpoint"`
	Timeout               time.Duration `yaml:"timeout"`
	RetryCount            int           `yaml:"retry_count"`
	Provider              string        `yaml:"provider"`
	MaxBundleSizeBytes    int           `yaml:"max_bundle_size_bytes"`
	CircuitBreakerMaxReqs uint32        `yaml:"circuit_breaker_max_requests"`
}

// TenancyConfig holds the default tenant used when a submission omits one
// and the namespace prefix applied to object store keys.
type TenancyConfig struct {
	DefaultTenant string `yaml:"default_tenant"`
	Namespace     string `yaml:"namespace"`
}

// PublisherConfig holds the outbox drain loop's concurrency and backoff
// knobs.
type PublisherConfig struct {
	DryRun         bool          `yaml:"dry_run"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	CooldownPeriod time.Duration `yaml:"cooldown_period"`
}

// SubscriberFilter routes a notify-subscribers event to a Slack channel when
// its conditions match the submission's attributes (payer, request type).
type SubscriberFilter struct {
	Name       string              `yaml:"name"`
	Conditions map[string][]string `yaml:"conditions"`
}

// LoggingConfig controls the structured logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IdempotencyConfig holds the idempotency store's record lifetime plus the
// Redis cache that fronts it.
type IdempotencyConfig struct {
	TTL   time.Duration `yaml:"ttl"`
	Redis RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the Redis connection backing the idempotency cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ObjectStoreConfig holds the Object Store Gateway's S3 bucket names and
// client settings.
type ObjectStoreConfig struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"` // non-empty targets a local S3-compatible store
	ForcePathStyle bool   `yaml:"force_path_style"`
	KMSEnabled     bool   `yaml:"kms_enabled"`
}

// BusConfig holds the FIFO queue URLs and polling behavior for the
// stage-to-stage message bus.
type BusConfig struct {
	Region            string            `yaml:"region"`
	Endpoint          string            `yaml:"endpoint"`
	QueueURLs         map[string]string `yaml:"queue_urls"`
	VisibilityTimeout int32             `yaml:"visibility_timeout_seconds"`
	WaitTimeSeconds   int32             `yaml:"wait_time_seconds"`
	MaxReceiveCount   int               `yaml:"max_receive_count"`
}

// SyncRunnerConfig bounds the front door's synchronous wait for a sync-mode
// submission before it falls back to async tracking (spec §4.7.1).
type SyncRunnerConfig struct {
	TotalDeadline time.Duration `yaml:"total_deadline"`
	StageDeadline time.Duration `yaml:"stage_deadline"`
}

// NotificationConfig holds the notify-subscribers stage's Slack webhook.
type NotificationConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// Config is the gateway's complete runtime configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Payer        PayerConfig        `yaml:"payer"`
	Tenancy      TenancyConfig      `yaml:"tenancy"`
	Publisher    PublisherConfig    `yaml:"publisher"`
	Subscribers  []SubscriberFilter `yaml:"subscribers"`
	Logging      LoggingConfig      `yaml:"logging"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Database     DatabaseConfig     `yaml:"database"`
	ObjectStore  ObjectStoreConfig  `yaml:"object_store"`
	Bus          BusConfig          `yaml:"bus"`
	SyncRunner   SyncRunnerConfig   `yaml:"sync_runner"`
	Notification NotificationConfig `yaml:"notification"`
}

var validPayerProviders = map[string]bool{
	"availity":         true,
	"changehealthcare": true,
	"mock":             true,
}

// Load reads path, parses it as YAML, applies environment overrides, fills
// in defaults for anything still unset, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Tenancy.Namespace == "" {
		cfg.Tenancy.Namespace = "default"
	}
	if cfg.Publisher.MaxConcurrent == 0 {
		cfg.Publisher.MaxConcurrent = 5
	}
	if cfg.Payer.Provider == "" {
		cfg.Payer.Provider = "mock"
	}
	if cfg.Bus.VisibilityTimeout == 0 {
		cfg.Bus.VisibilityTimeout = 300
	}
	if cfg.Bus.WaitTimeSeconds == 0 {
		cfg.Bus.WaitTimeSeconds = 20
	}
	if cfg.Bus.MaxReceiveCount == 0 {
		cfg.Bus.MaxReceiveCount = 5
	}
	if cfg.SyncRunner.TotalDeadline == 0 {
		cfg.SyncRunner.TotalDeadline = 13 * time.Second
	}
	if cfg.SyncRunner.StageDeadline == 0 {
		cfg.SyncRunner.StageDeadline = 8 * time.Second
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
}

// validate rejects a Config that the rest of the gateway cannot safely run
// with.
func validate(cfg *Config) error {
	if cfg.Payer.Provider != "" && !validPayerProviders[cfg.Payer.Provider] {
		return fmt.Errorf("unsupported payer provider %q", cfg.Payer.Provider)
	}
	if cfg.Payer.Endpoint == "" {
		cfg.Payer.Endpoint = "http://localhost:8443"
	}
	if validPayerProviders[cfg.Payer.Provider] && cfg.Payer.Provider != "mock" && cfg.Payer.Endpoint == "" {
		return fmt.Errorf("payer endpoint is required for provider %q", cfg.Payer.Provider)
	}
	if cfg.Tenancy.Namespace == "" {
		return fmt.Errorf("tenancy namespace is required")
	}
	if cfg.Publisher.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent publishers must be greater than 0")
	}
	return nil
}

// loadFromEnv overrides select fields from the environment, mirroring
// internal/database's DB_* convention for the rest of the gateway's config
// surface.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("PAYER_ENDPOINT"); v != "" {
		cfg.Payer.Endpoint = v
	}
	if v := os.Getenv("PAYER_PROVIDER"); v != "" {
		cfg.Payer.Provider = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PUBLISHER_DRY_RUN"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PUBLISHER_DRY_RUN value: %w", err)
		}
		cfg.Publisher.DryRun = dryRun
	}
	return nil
}
