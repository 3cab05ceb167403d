package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// The oracle paths in the default full mode need a key and endpoints.
	cfg.Oracle.PrivateKey = "deadbeef"
	cfg.Oracle.AttestationURL = "http://localhost:9000/verify"
	cfg.Oracle.EventSourceURL = "http://localhost:9001"

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestDefaultsValidateSettleMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeSettle
	// Settle mode needs no oracle configuration.
	if err := cfg.Validate(); err != nil {
		t.Errorf("settle-mode defaults do not validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() Config {
		cfg := Defaults()
		cfg.Mode = ModeSettle
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad mode", func(c *Config) { c.Mode = "turbo" }, "invalid mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log_level"},
		{"no postgres", func(c *Config) {
			c.Postgres.DSN = ""
			c.Postgres.Host = ""
		}, "postgres"},
		{"no redis", func(c *Config) { c.Redis.Addr = "" }, "redis"},
		{"oracle without key", func(c *Config) {
			c.Mode = ModeOracle
			c.Oracle.AttestationURL = "http://x"
			c.Oracle.EventSourceURL = "http://y"
		}, "private_key"},
		{"encrypted key without password", func(c *Config) {
			c.Mode = ModeOracle
			c.Oracle.EncryptedKeyPath = "/run/secrets/oracle.key"
			c.Oracle.AttestationURL = "http://x"
			c.Oracle.EventSourceURL = "http://y"
		}, "key_password"},
		{"oracle without attestation url", func(c *Config) {
			c.Mode = ModeOracle
			c.Oracle.PrivateKey = "deadbeef"
			c.Oracle.EventSourceURL = "http://y"
		}, "attestation_url"},
		{"s3 enabled without bucket", func(c *Config) {
			c.S3.Enabled = true
		}, "bucket"},
		{"archive without s3", func(c *Config) {
			c.Archive.Enabled = true
		}, "archive requires s3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate passed, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "settle"
log_level = "debug"

[postgres]
host = "db.internal"
password = "hunter2"

[redis]
stream_max_len = 5000

[oracle]
fetch_backoff = "2s"

[archive]
interval = "1h"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != ModeSettle || cfg.LogLevel != "debug" {
		t.Errorf("top level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("postgres host = %q", cfg.Postgres.Host)
	}
	// Unset file keys keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("postgres port = %d, want default 5432", cfg.Postgres.Port)
	}
	if cfg.Redis.StreamMaxLen != 5000 {
		t.Errorf("stream max len = %d", cfg.Redis.StreamMaxLen)
	}
	if cfg.Oracle.FetchBackoff.Duration != 2*time.Second {
		t.Errorf("fetch backoff = %v", cfg.Oracle.FetchBackoff.Duration)
	}
	if cfg.Archive.Interval.Duration != time.Hour {
		t.Errorf("archive interval = %v", cfg.Archive.Interval.Duration)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
mode = "settle"

[postgres]
password = "from-file"
`)

	t.Setenv("ODDSD_POSTGRES_PASSWORD", "from-env")
	t.Setenv("ODDSD_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ODDSD_ORACLE_WATCH_EVENTS", "nba/finals, nfl/superbowl")
	t.Setenv("ODDSD_ARCHIVE_RETENTION_DAYS", "7")
	t.Setenv("ODDSD_ORACLE_FETCH_BACKOFF", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Postgres.Password != "from-env" {
		t.Errorf("env override lost: password = %q", cfg.Postgres.Password)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if len(cfg.Oracle.WatchEvents) != 2 || cfg.Oracle.WatchEvents[1] != "nfl/superbowl" {
		t.Errorf("watch events = %v", cfg.Oracle.WatchEvents)
	}
	if cfg.Archive.RetentionDays != 7 {
		t.Errorf("retention days = %d", cfg.Archive.RetentionDays)
	}
	if cfg.Oracle.FetchBackoff.Duration != 250*time.Millisecond {
		t.Errorf("fetch backoff = %v", cfg.Oracle.FetchBackoff.Duration)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Oracle.PrivateKey = "deadbeef"
	cfg.Oracle.WatchEvents = []string{"nba/finals"}

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"postgres password": red.Postgres.Password,
		"redis password":    red.Redis.Password,
		"s3 secret key":     red.S3.SecretKey,
		"oracle key":        red.Oracle.PrivateKey,
	} {
		if got != "***" {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}
	if red.Postgres.Host != cfg.Postgres.Host {
		t.Error("non-secret field was altered")
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("redaction mutated the original config")
	}

	red.Oracle.WatchEvents[0] = "changed"
	if cfg.Oracle.WatchEvents[0] != "nba/finals" {
		t.Error("redacted copy shares the watch events slice")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}
