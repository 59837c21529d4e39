package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config holds all configuration for the campaign sender
type Config struct {
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	VERP      VERPConfig     `yaml:"verp"`
	PublicURL string         `yaml:"public_url" validate:"required,url"`
	Tracking  TrackingConfig `yaml:"tracking"`
	Storage   StorageConfig  `yaml:"storage"`
	Sender    SenderConfig   `yaml:"sender"`
	Logging   LoggingConfig  `yaml:"logging"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Lock      LockConfig     `yaml:"lock"`
}

// DatabaseConfig holds the Postgres connection
type DatabaseConfig struct {
	URL             string `yaml:"url" validate:"required"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the Redis connection used for throttling and run locks.
// An empty URL falls back to Postgres advisory locks and disables throttling.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// VERPConfig controls variable envelope return paths
type VERPConfig struct {
	Enabled             bool `yaml:"enabled"`
	DisableSenderHeader bool `yaml:"disable_sender_header"`
}

// TrackingConfig holds click/open tracking settings. QueueURL, Region and
// Addr are only read by the tracking service.
type TrackingConfig struct {
	SigningKey string `yaml:"signing_key" validate:"required"`
	QueueURL   string `yaml:"queue_url"`
	Region     string `yaml:"region"`
	Addr       string `yaml:"addr"`
}

// StorageConfig holds attachment storage configuration
type StorageConfig struct {
	Type       string `yaml:"type" validate:"oneof=local s3"`
	LocalPath  string `yaml:"local_path" validate:"required_if=Type local"`
	S3Bucket   string `yaml:"s3_bucket" validate:"required_if=Type s3"`
	S3Region   string `yaml:"s3_region"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// SenderConfig tunes the send run
type SenderConfig struct {
	Concurrency           int `yaml:"concurrency" validate:"min=1"`
	TextWrapWidth         int `yaml:"text_wrap_width"`
	ContentTimeoutSeconds int `yaml:"content_timeout_seconds"`
	BatchSize             int `yaml:"batch_size" validate:"min=1"`
}

// ContentTimeout returns the URL-source fetch timeout as a duration
func (c SenderConfig) ContentTimeout() time.Duration {
	return time.Duration(c.ContentTimeoutSeconds) * time.Second
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	RedactPII  bool   `yaml:"redact_pii"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LockConfig holds the campaign run lock settings
type LockConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" validate:"min=5"`
}

// TTL returns the lock TTL as a duration
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		// redact_pii defaults on; an explicit false in the file wins
		Logging: LoggingConfig{RedactPII: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.Type == "local" && cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data/files"
	}
	if cfg.Storage.S3Region == "" {
		cfg.Storage.S3Region = "us-east-1"
	}
	if cfg.Sender.Concurrency == 0 {
		cfg.Sender.Concurrency = 8
	}
	if cfg.Sender.TextWrapWidth == 0 {
		cfg.Sender.TextWrapWidth = 130
	}
	if cfg.Sender.ContentTimeoutSeconds == 0 {
		cfg.Sender.ContentTimeoutSeconds = 30
	}
	if cfg.Sender.BatchSize == 0 {
		cfg.Sender.BatchSize = 500
	}
	if cfg.Tracking.Addr == "" {
		cfg.Tracking.Addr = ":8081"
	}
	if cfg.Tracking.Region == "" {
		cfg.Tracking.Region = cfg.Storage.S3Region
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Lock.TTLSeconds == 0 {
		cfg.Lock.TTLSeconds = 60
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file in the working directory is loaded first if present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.PublicURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}
	if v := os.Getenv("TRACKING_QUEUE_URL"); v != "" {
		cfg.Tracking.QueueURL = v
	}
	if v := os.Getenv("STORAGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("STORAGE_S3_REGION"); v != "" {
		cfg.Storage.S3Region = v
	}
	if v := os.Getenv("VERP_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("VERP_ENABLED: %w", err)
		}
		cfg.VERP.Enabled = b
	}
	if v := os.Getenv("SENDER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SENDER_CONCURRENCY: %w", err)
		}
		cfg.Sender.Concurrency = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
