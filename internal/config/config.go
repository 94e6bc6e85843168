// Package config defines the top-level configuration for the DMarket bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DMBOT_* environment variables.
type Config struct {
	DMarket   DMarketConfig   `toml:"dmarket"`
	HTTP      HTTPConfig      `toml:"http"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Polling   PollingConfig   `toml:"polling"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DMarketConfig holds upstream API endpoints and credentials.
type DMarketConfig struct {
	BaseURL string `toml:"base_url"`
	// PublicKey is the API key identifier sent in the X-Api-Key header.
	PublicKey string `toml:"public_key"`
	// SecretKey is the signing secret: hex, base64, or raw Ed25519 seed/key
	// material. When it cannot be parsed as Ed25519 the client falls back to
	// HMAC-SHA256 over the same message.
	SecretKey string `toml:"secret_key"`
	// EncryptedKeyPath points to a JSON blob produced by `dmbot encrypt-key`.
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HTTPConfig holds request-layer parameters: timeouts, retries, caching and
// the circuit breaker.
type HTTPConfig struct {
	Timeout           duration `toml:"timeout"`
	MaxRetries        int      `toml:"max_retries"`
	RetryableStatuses []int    `toml:"retryable_statuses"`
	RetryBaseDelay    duration `toml:"retry_base_delay"`
	// RateLimitMaxDelay caps the 429 backoff ladder.
	RateLimitMaxDelay duration `toml:"rate_limit_max_delay"`
	// NetworkMaxDelay caps the transport-error backoff ladder.
	NetworkMaxDelay duration `toml:"network_max_delay"`

	CacheEnabled    bool     `toml:"cache_enabled"`
	CacheTTLShort   duration `toml:"cache_ttl_short"`
	CacheTTLMedium  duration `toml:"cache_ttl_medium"`
	CacheTTLLong    duration `toml:"cache_ttl_long"`
	CacheMaxEntries int      `toml:"cache_max_entries"`

	BreakerFailureThreshold int      `toml:"breaker_failure_threshold"`
	BreakerCooldown         duration `toml:"breaker_cooldown"`
}

// RateLimitConfig holds per-bucket admission budgets. Unauthorized clients
// (no credentials configured) are scaled down by UnauthorizedFactor.
type RateLimitConfig struct {
	MarketBurst        float64 `toml:"market_burst"`
	MarketPerSecond    float64 `toml:"market_per_second"`
	AccountBurst       float64 `toml:"account_burst"`
	AccountPerSecond   float64 `toml:"account_per_second"`
	UnauthorizedFactor float64 `toml:"unauthorized_factor"`
	// Distributed switches admission control to the Redis sliding-window
	// limiter so multiple instances share one budget.
	Distributed bool `toml:"distributed"`
}

// PollingConfig holds the adaptive polling engine parameters.
type PollingConfig struct {
	Games              []string `toml:"games"`
	BaseInterval       duration `toml:"base_interval"`
	MinInterval        duration `toml:"min_interval"`
	MaxInterval        duration `toml:"max_interval"`
	EmptyBatchInterval duration `toml:"empty_batch_interval"`
	ItemsPerBatch      int      `toml:"items_per_batch"`
	MaxConcurrent      int      `toml:"max_concurrent"`

	// PeakHours are UTC hours treated as peak market activity.
	PeakHours []int `toml:"peak_hours"`
	// ActivityMultipliers scale the base interval per activity level
	// (peak, normal, low, minimal).
	ActivityMultipliers map[string]float64 `toml:"activity_multipliers"`
	// PriorityMultipliers bias the next interval by the hottest priority
	// tier that changed last cycle (critical, high, normal, low).
	PriorityMultipliers map[string]float64 `toml:"priority_multipliers"`

	// SignificanceThresholdPct is the minimum |Δ%| for a price change to be
	// surfaced. Heuristic, not load-bearing; tune freely.
	SignificanceThresholdPct float64 `toml:"significance_threshold_pct"`
	// ChangeRateTighten multiplies the activity multiplier when more than
	// ChangeRateTrigger of recent polls detected changes.
	ChangeRateTighten float64 `toml:"change_rate_tighten"`
	ChangeRateTrigger float64 `toml:"change_rate_trigger"`
	// PromotionThreshold is the change count at which an item is promoted to
	// high priority.
	PromotionThreshold int `toml:"promotion_threshold"`
	// VolatilityWindow is the number of market snapshots retained for
	// volatility estimation.
	VolatilityWindow int `toml:"volatility_window"`
	// MaxTrackedEntities bounds the delta tracker; oldest-inserted entries
	// are evicted beyond this.
	MaxTrackedEntities int `toml:"max_tracked_entities"`
	// MaxChangeLog bounds the rolling change history.
	MaxChangeLog int `toml:"max_change_log"`
	// Whitelist items are pinned to critical priority (case-insensitive).
	Whitelist []string `toml:"whitelist"`
}

// ArbitrageConfig holds the opportunity detector parameters.
type ArbitrageConfig struct {
	Enabled bool `toml:"enabled"`
	// FeePercent is the per-game sale fee table; key "default" applies when
	// a game has no entry.
	FeePercent   map[string]float64 `toml:"fee_percent"`
	MinProfitUSD float64            `toml:"min_profit_usd"`
	MinProfitPct float64            `toml:"min_profit_pct"`
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
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds the operational HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the API when set; empty disables authentication.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		DMarket: DMarketConfig{
			BaseURL: "https://api.dmarket.com",
		},
		HTTP: HTTPConfig{
			Timeout:                 duration{30 * time.Second},
			MaxRetries:              3,
			RetryableStatuses:       []int{429, 500, 502, 503, 504},
			RetryBaseDelay:          duration{time.Second},
			RateLimitMaxDelay:       duration{30 * time.Second},
			NetworkMaxDelay:         duration{10 * time.Second},
			CacheEnabled:            true,
			CacheTTLShort:           duration{30 * time.Second},
			CacheTTLMedium:          duration{5 * time.Minute},
			CacheTTLLong:            duration{30 * time.Minute},
			CacheMaxEntries:         500,
			BreakerFailureThreshold: 5,
			BreakerCooldown:         duration{60 * time.Second},
		},
		RateLimit: RateLimitConfig{
			MarketBurst:        10,
			MarketPerSecond:    5,
			AccountBurst:       5,
			AccountPerSecond:   2,
			UnauthorizedFactor: 0.5,
		},
		Polling: PollingConfig{
			Games:              []string{"a8db"}, // CS2
			BaseInterval:       duration{30 * time.Second},
			MinInterval:        duration{10 * time.Second},
			MaxInterval:        duration{5 * time.Minute},
			EmptyBatchInterval: duration{60 * time.Second},
			ItemsPerBatch:      100,
			MaxConcurrent:      3,
			PeakHours:          []int{17, 18, 19, 20, 21, 22},
			ActivityMultipliers: map[string]float64{
				"peak":    0.5,
				"normal":  1.0,
				"low":     1.5,
				"minimal": 2.5,
			},
			PriorityMultipliers: map[string]float64{
				"critical": 0.25,
				"high":     0.5,
				"normal":   1.0,
				"low":      2.0,
			},
			SignificanceThresholdPct: 1.0,
			ChangeRateTighten:        0.7,
			ChangeRateTrigger:        0.1,
			PromotionThreshold:       3,
			VolatilityWindow:         20,
			MaxTrackedEntities:       5000,
			MaxChangeLog:             1000,
		},
		Arbitrage: ArbitrageConfig{
			Enabled: false,
			FeePercent: map[string]float64{
				"default": 7.0,
			},
			MinProfitUSD: 0.25,
			MinProfitPct: 3.0,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dmbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dmbot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"price_change", "new_listing", "opportunity", "schema_drift", "error"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor":   true,
	"arbitrage": true,
	"scrape":    true,
	"server":    true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, arbitrage, scrape, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.DMarket.BaseURL == "" {
		errs = append(errs, "dmarket: base_url must not be empty")
	}
	// Credentials: either both halves or neither. Unauthenticated operation
	// is allowed (market data only) but gets tighter rate limits.
	hasPub := c.DMarket.PublicKey != ""
	hasSec := c.DMarket.SecretKey != "" || c.DMarket.EncryptedKeyPath != ""
	if hasPub != hasSec {
		errs = append(errs, "dmarket: public_key and secret_key (or encrypted_key_path) must be set together")
	}
	if c.DMarket.EncryptedKeyPath != "" && c.DMarket.KeyPassword == "" {
		errs = append(errs, "dmarket: key_password is required when encrypted_key_path is set")
	}

	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, "http: max_retries must be >= 0")
	}
	if c.HTTP.Timeout.Duration <= 0 {
		errs = append(errs, "http: timeout must be positive")
	}
	if c.HTTP.CacheMaxEntries < 1 {
		errs = append(errs, "http: cache_max_entries must be >= 1")
	}
	if c.HTTP.BreakerFailureThreshold < 1 {
		errs = append(errs, "http: breaker_failure_threshold must be >= 1")
	}

	if c.RateLimit.MarketPerSecond <= 0 || c.RateLimit.AccountPerSecond <= 0 {
		errs = append(errs, "rate_limit: per-second rates must be > 0")
	}
	if c.RateLimit.UnauthorizedFactor <= 0 || c.RateLimit.UnauthorizedFactor > 1 {
		errs = append(errs, "rate_limit: unauthorized_factor must be in (0, 1]")
	}

	if len(c.Polling.Games) == 0 {
		errs = append(errs, "polling: at least one game must be configured")
	}
	if c.Polling.MinInterval.Duration <= 0 {
		errs = append(errs, "polling: min_interval must be positive")
	}
	if c.Polling.MaxInterval.Duration < c.Polling.MinInterval.Duration {
		errs = append(errs, "polling: max_interval must be >= min_interval")
	}
	if c.Polling.BaseInterval.Duration < c.Polling.MinInterval.Duration ||
		c.Polling.BaseInterval.Duration > c.Polling.MaxInterval.Duration {
		errs = append(errs, "polling: base_interval must lie within [min_interval, max_interval]")
	}
	if c.Polling.ItemsPerBatch < 1 {
		errs = append(errs, "polling: items_per_batch must be >= 1")
	}
	if c.Polling.MaxConcurrent < 1 {
		errs = append(errs, "polling: max_concurrent must be >= 1")
	}
	for _, h := range c.Polling.PeakHours {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Sprintf("polling: peak hour %d out of range 0-23", h))
		}
	}
	if c.Polling.SignificanceThresholdPct < 0 {
		errs = append(errs, "polling: significance_threshold_pct must be >= 0")
	}

	if c.Arbitrage.Enabled {
		if _, ok := c.Arbitrage.FeePercent["default"]; !ok {
			errs = append(errs, `arbitrage: fee_percent must contain a "default" entry`)
		}
	}

	needsPostgres := c.Mode == "arbitrage" || c.Mode == "scrape" || c.Mode == "full"
	if needsPostgres && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}
	if c.RateLimit.Distributed && !c.Redis.Enabled {
		errs = append(errs, "rate_limit: distributed mode requires redis.enabled")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
