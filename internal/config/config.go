// Package config defines the top-level configuration for the settlement node
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ODDSD_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen bounds inbox stream length (approximate trim).
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds oracle adjudication parameters: the signing key, the
// attestation verification service, the TEE quote service, and the event
// data provider.
type OracleConfig struct {
	// PrivateKey is the hex-encoded secp256k1 signing key. Prefer
	// EncryptedKeyPath plus KeyPassword in deployments.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	AttestationURL string `toml:"attestation_url"`
	TeeServiceURL  string `toml:"tee_service_url"`

	EventSourceURL string   `toml:"event_source_url"`
	EventWSURL     string   `toml:"event_ws_url"`
	WatchEvents    []string `toml:"watch_events"`

	FetchRetries int      `toml:"fetch_retries"`
	FetchBackoff duration `toml:"fetch_backoff"`
}

// ArchiveConfig controls exporting resolved markets to blob storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration wraps time.Duration so TOML values like "30s" parse directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Valid node modes. "settle" runs dispatchers only, "oracle" runs
// adjudication only, "full" runs both.
const (
	ModeSettle = "settle"
	ModeOracle = "oracle"
	ModeFull   = "full"
)

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oddsd",
			User:          "oddsd",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     16,
			MaxRetries:   3,
			StreamMaxLen: 100_000,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Oracle: OracleConfig{
			FetchRetries: 3,
			FetchBackoff: duration{500 * time.Millisecond},
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. It is called
// once at startup after Load.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSettle, ModeOracle, ModeFull:
	default:
		return fmt.Errorf("config: invalid mode %q", c.Mode)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}

	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			return fmt.Errorf("config: postgres requires dsn or host/database/user")
		}
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis addr is required")
	}

	if c.Mode == ModeOracle || c.Mode == ModeFull {
		if c.Oracle.PrivateKey == "" && c.Oracle.EncryptedKeyPath == "" {
			return fmt.Errorf("config: oracle requires private_key or encrypted_key_path")
		}
		if c.Oracle.EncryptedKeyPath != "" && c.Oracle.KeyPassword == "" {
			return fmt.Errorf("config: encrypted_key_path requires key_password")
		}
		if c.Oracle.AttestationURL == "" {
			return fmt.Errorf("config: oracle attestation_url is required")
		}
		if c.Oracle.EventSourceURL == "" {
			return fmt.Errorf("config: oracle event_source_url is required")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("config: s3 bucket is required when s3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("config: s3 region is required when s3 is enabled")
		}
	}
	if c.Archive.Enabled && !c.S3.Enabled {
		return fmt.Errorf("config: archive requires s3 to be enabled")
	}

	return nil
}
