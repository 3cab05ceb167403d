package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Oracle.PrivateKey)
	redact(&out.Oracle.KeyPassword)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Oracle.WatchEvents != nil {
		out.Oracle.WatchEvents = make([]string, len(cfg.Oracle.WatchEvents))
		copy(out.Oracle.WatchEvents, cfg.Oracle.WatchEvents)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
