package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.DMarket.SecretKey)
	redact(&out.DMarket.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Polling.Games != nil {
		out.Polling.Games = append([]string(nil), cfg.Polling.Games...)
	}
	if cfg.Polling.Whitelist != nil {
		out.Polling.Whitelist = append([]string(nil), cfg.Polling.Whitelist...)
	}
	if cfg.Arbitrage.FeePercent != nil {
		out.Arbitrage.FeePercent = make(map[string]float64, len(cfg.Arbitrage.FeePercent))
		for k, v := range cfg.Arbitrage.FeePercent {
			out.Arbitrage.FeePercent[k] = v
		}
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
