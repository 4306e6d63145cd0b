// Package config loads application configuration from a YAML file with
// environment variable overrides (CONMON_ prefix, e.g. CONMON_DATABASE_URL).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Sink      SinkConfig      `koanf:"sink"`
	Evidence  EvidenceConfig  `koanf:"evidence"`
	CORS      CORSConfig      `koanf:"cors"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SchedulerConfig configures the validation scheduler loop.
type SchedulerConfig struct {
	Enabled        bool          `koanf:"enabled"`
	ScanInterval   time.Duration `koanf:"scan_interval"`
	Workers        int           `koanf:"workers"`
	CheckTimeout   time.Duration `koanf:"check_timeout"`
	LaunchesPerSec float64       `koanf:"launches_per_sec"`
	LaunchBurst    int           `koanf:"launch_burst"`
}

// SinkConfig configures the outbound notification sink.
type SinkConfig struct {
	Enabled    bool          `koanf:"enabled"`
	WebhookURL string        `koanf:"webhook_url"`
	BufferSize int           `koanf:"buffer_size"`
	Timeout    time.Duration `koanf:"timeout"`
}

// EvidenceConfig configures the evidence store client.
type EvidenceConfig struct {
	Enabled   bool   `koanf:"enabled"`
	S3Bucket  string `koanf:"s3_bucket"`
	S3Prefix  string `koanf:"s3_prefix"`
	AWSRegion string `koanf:"aws_region"`
}

// CORSConfig configures allowed CORS origins.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			ScanInterval:   30 * time.Second,
			Workers:        5,
			CheckTimeout:   60 * time.Second,
			LaunchesPerSec: 10,
			LaunchBurst:    20,
		},
		Sink: SinkConfig{
			Enabled:    false,
			BufferSize: 256,
			Timeout:    10 * time.Second,
		},
		Evidence: EvidenceConfig{
			Enabled: false,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads configuration from the given file path (optional) and the
// environment, on top of defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// CONMON_DATABASE_URL → database.url
	err := k.Load(env.Provider("CONMON_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "CONMON_")), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive")
	}
	if c.Sink.Enabled && c.Sink.WebhookURL == "" {
		return fmt.Errorf("sink.webhook_url is required when sink is enabled")
	}
	if c.Evidence.Enabled && c.Evidence.S3Bucket == "" {
		return fmt.Errorf("evidence.s3_bucket is required when evidence store is enabled")
	}
	return nil
}
