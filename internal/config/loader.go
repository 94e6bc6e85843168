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
// built-in defaults, applies DMBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DMBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── DMarket ──
	setStr(&cfg.DMarket.BaseURL, "DMBOT_DMARKET_BASE_URL")
	setStr(&cfg.DMarket.PublicKey, "DMBOT_DMARKET_PUBLIC_KEY")
	setStr(&cfg.DMarket.SecretKey, "DMBOT_DMARKET_SECRET_KEY")
	setStr(&cfg.DMarket.EncryptedKeyPath, "DMBOT_DMARKET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.DMarket.KeyPassword, "DMBOT_DMARKET_KEY_PASSWORD")

	// ── HTTP ──
	setDuration(&cfg.HTTP.Timeout, "DMBOT_HTTP_TIMEOUT")
	setInt(&cfg.HTTP.MaxRetries, "DMBOT_HTTP_MAX_RETRIES")
	setBool(&cfg.HTTP.CacheEnabled, "DMBOT_HTTP_CACHE_ENABLED")
	setInt(&cfg.HTTP.CacheMaxEntries, "DMBOT_HTTP_CACHE_MAX_ENTRIES")

	// ── Rate limit ──
	setFloat64(&cfg.RateLimit.MarketPerSecond, "DMBOT_RATE_LIMIT_MARKET_PER_SECOND")
	setFloat64(&cfg.RateLimit.AccountPerSecond, "DMBOT_RATE_LIMIT_ACCOUNT_PER_SECOND")
	setBool(&cfg.RateLimit.Distributed, "DMBOT_RATE_LIMIT_DISTRIBUTED")

	// ── Polling ──
	setStringSlice(&cfg.Polling.Games, "DMBOT_POLLING_GAMES")
	setDuration(&cfg.Polling.BaseInterval, "DMBOT_POLLING_BASE_INTERVAL")
	setDuration(&cfg.Polling.MinInterval, "DMBOT_POLLING_MIN_INTERVAL")
	setDuration(&cfg.Polling.MaxInterval, "DMBOT_POLLING_MAX_INTERVAL")
	setInt(&cfg.Polling.ItemsPerBatch, "DMBOT_POLLING_ITEMS_PER_BATCH")
	setInt(&cfg.Polling.MaxConcurrent, "DMBOT_POLLING_MAX_CONCURRENT")
	setFloat64(&cfg.Polling.SignificanceThresholdPct, "DMBOT_POLLING_SIGNIFICANCE_THRESHOLD_PCT")
	setStringSlice(&cfg.Polling.Whitelist, "DMBOT_POLLING_WHITELIST")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "DMBOT_ARBITRAGE_ENABLED")
	setFloat64(&cfg.Arbitrage.MinProfitUSD, "DMBOT_ARBITRAGE_MIN_PROFIT_USD")
	setFloat64(&cfg.Arbitrage.MinProfitPct, "DMBOT_ARBITRAGE_MIN_PROFIT_PCT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DMBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DMBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DMBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DMBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DMBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DMBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DMBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DMBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DMBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DMBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DMBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DMBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DMBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DMBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DMBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DMBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DMBOT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "DMBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DMBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DMBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DMBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DMBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DMBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DMBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DMBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DMBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DMBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DMBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DMBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DMBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DMBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DMBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DMBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DMBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DMBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DMBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DMBOT_MODE")
	setStr(&cfg.LogLevel, "DMBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
