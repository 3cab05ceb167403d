package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ODDSD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ODDSD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ODDSD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ODDSD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ODDSD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ODDSD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ODDSD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ODDSD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ODDSD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ODDSD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ODDSD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ODDSD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ODDSD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ODDSD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ODDSD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ODDSD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ODDSD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ODDSD_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "ODDSD_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ODDSD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ODDSD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ODDSD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ODDSD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ODDSD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ODDSD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ODDSD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ODDSD_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.PrivateKey, "ODDSD_ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "ODDSD_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "ODDSD_ORACLE_KEY_PASSWORD")
	setStr(&cfg.Oracle.AttestationURL, "ODDSD_ORACLE_ATTESTATION_URL")
	setStr(&cfg.Oracle.TeeServiceURL, "ODDSD_ORACLE_TEE_SERVICE_URL")
	setStr(&cfg.Oracle.EventSourceURL, "ODDSD_ORACLE_EVENT_SOURCE_URL")
	setStr(&cfg.Oracle.EventWSURL, "ODDSD_ORACLE_EVENT_WS_URL")
	setStringSlice(&cfg.Oracle.WatchEvents, "ODDSD_ORACLE_WATCH_EVENTS")
	setInt(&cfg.Oracle.FetchRetries, "ODDSD_ORACLE_FETCH_RETRIES")
	setDuration(&cfg.Oracle.FetchBackoff, "ODDSD_ORACLE_FETCH_BACKOFF")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ODDSD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ODDSD_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "ODDSD_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ODDSD_MODE")
	setStr(&cfg.LogLevel, "ODDSD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
