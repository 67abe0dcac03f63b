package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Verification VerificationConfig `yaml:"verification"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Recipients   RecipientsConfig   `yaml:"recipients"`
	Warmup       WarmupConfig       `yaml:"warmup"`
	Workers      WorkersConfig      `yaml:"workers"`
	Mail         MailConfig         `yaml:"mail"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Jobs         JobsConfig         `yaml:"jobs"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port               int      `yaml:"port"`
	Host               string   `yaml:"host"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	ShutdownTimeoutSec int      `yaml:"shutdown_timeout_seconds"`
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig configures the static admin bearer token.
type AuthConfig struct {
	AdminToken string `yaml:"admin_token"`
	AdminEmail string `yaml:"admin_email"`
}

// DatabaseConfig contains PostgreSQL settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig enables Redis-backed locks and the shared probe limiter.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// VerificationConfig controls SMTP probing.
type VerificationConfig struct {
	Provider            string `yaml:"provider"` // "direct" (MX + RCPT) or "http"
	ProbeURL            string `yaml:"probe_url"`
	ProbeAPIKeyEnv      string `yaml:"probe_api_key_env"`
	HeloDomain          string `yaml:"helo_domain"`
	MailFrom            string `yaml:"mail_from"`
	TimeoutMs           int    `yaml:"timeout_ms"`
	DelayMs             int    `yaml:"delay_ms"`
	SharedRatePerMinute int    `yaml:"shared_rate_per_minute"`
	GuardedTransitions  bool   `yaml:"guarded_transitions"`
}

// Timeout is the per-probe deadline.
func (c VerificationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Delay is the pause between probes within one job.
func (c VerificationConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// SchedulerConfig controls send batch pacing.
type SchedulerConfig struct {
	TargetBatches   int `yaml:"target_batches"`
	MaxBatchSize    int `yaml:"max_batch_size"`
	IntervalMinutes int `yaml:"interval_minutes"`
	LockTTLSeconds  int `yaml:"lock_ttl_seconds"`
}

// Interval is the spacing between consecutive batches.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RecipientsConfig holds recipient resolution policy.
type RecipientsConfig struct {
	DedupeAcrossSegments   bool  `yaml:"dedupe_across_segments"`
	IncludeVerifiedGeneric *bool `yaml:"include_verified_generic"`
}

// IncludeGeneric reports whether verified_generic contacts are eligible.
func (c RecipientsConfig) IncludeGeneric() bool {
	return c.IncludeVerifiedGeneric == nil || *c.IncludeVerifiedGeneric
}

// WarmupConfig bounds the warmup ramp.
type WarmupConfig struct {
	MaxPerHour int `yaml:"max_per_hour"`
}

// WorkersConfig sizes the background worker pool.
type WorkersConfig struct {
	PoolSize  int `yaml:"pool_size"`
	QueueSize int `yaml:"queue_size"`
}

// MailConfig selects the outbound transport.
type MailConfig struct {
	Provider     string `yaml:"provider"` // "ses", "smtp" or "log"
	From         string `yaml:"from"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
}

// ArchiveConfig enables S3 copies of verification reports.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// JobsConfig selects the verification job store.
type JobsConfig struct {
	Backend string `yaml:"backend"` // "store" (same as contacts) or "dynamodb"
	Table   string `yaml:"table"`
	Region  string `yaml:"region"`
}

// AMQPConfig enables event announcements.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig configures internal/pkg/logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	RedactPII  *bool  `yaml:"redact_pii"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Redact reports whether email addresses are masked in logs. Defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeoutSec == 0 {
		cfg.Server.ShutdownTimeoutSec = 10
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 3
	}
	if cfg.Verification.Provider == "" {
		cfg.Verification.Provider = "direct"
	}
	if cfg.Verification.TimeoutMs == 0 {
		cfg.Verification.TimeoutMs = 10000
	}
	if cfg.Verification.DelayMs == 0 {
		cfg.Verification.DelayMs = 2000
	}
	if cfg.Verification.HeloDomain == "" {
		cfg.Verification.HeloDomain = "localhost"
	}
	if cfg.Scheduler.TargetBatches == 0 {
		cfg.Scheduler.TargetBatches = 6
	}
	if cfg.Scheduler.MaxBatchSize == 0 {
		cfg.Scheduler.MaxBatchSize = 50
	}
	if cfg.Scheduler.IntervalMinutes == 0 {
		cfg.Scheduler.IntervalMinutes = 10
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 120
	}
	if cfg.Warmup.MaxPerHour == 0 {
		cfg.Warmup.MaxPerHour = 5000
	}
	if cfg.Workers.PoolSize == 0 {
		cfg.Workers.PoolSize = 4
	}
	if cfg.Workers.QueueSize == 0 {
		cfg.Workers.QueueSize = 32
	}
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "log"
	}
	if cfg.Mail.Region == "" {
		cfg.Mail.Region = "us-west-2"
	}
	if cfg.Mail.SMTPPort == 0 {
		cfg.Mail.SMTPPort = 587
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "verification-reports/"
	}
	if cfg.Jobs.Backend == "" {
		cfg.Jobs.Backend = "store"
	}
	if cfg.Jobs.Table == "" {
		cfg.Jobs.Table = "verification_jobs"
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "campaign-engine"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is read first if present, and a missing config file falls back
// to defaults so the service can run from environment alone.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Auth.AdminToken, "ADMIN_API_TOKEN")
	setString(&cfg.Auth.AdminEmail, "ADMIN_EMAIL")
	setString(&cfg.Mail.Region, "AWS_REGION")
	setString(&cfg.Mail.AccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.Mail.SecretKey, "AWS_SES_SECRET_KEY")
	setString(&cfg.Mail.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.AMQP.URL, "AMQP_URL")
	setString(&cfg.Archive.Bucket, "REPORT_BUCKET")
	setString(&cfg.Jobs.Table, "JOBS_TABLE")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.Server.Port, "PORT"},
		{&cfg.Verification.TimeoutMs, "SMTP_VERIFY_TIMEOUT_MS"},
		{&cfg.Verification.DelayMs, "SMTP_VERIFY_DELAY_MS"},
		{&cfg.Verification.SharedRatePerMinute, "SMTP_VERIFY_SHARED_RATE_PER_MINUTE"},
	}
	for _, it := range ints {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q", it.key, v)
		}
		*it.dst = n
	}
	return nil
}
