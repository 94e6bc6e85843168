package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	s3blob "github.com/arbhunter/dmarketbot/internal/blob/s3"
	"github.com/arbhunter/dmarketbot/internal/cache/redis"
	"github.com/arbhunter/dmarketbot/internal/config"
	"github.com/arbhunter/dmarketbot/internal/crypto"
	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/engine"
	"github.com/arbhunter/dmarketbot/internal/notify"
	"github.com/arbhunter/dmarketbot/internal/platform/dmarket"
	"github.com/arbhunter/dmarketbot/internal/ratelimit"
	"github.com/arbhunter/dmarketbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
// Optional subsystems (Redis, Postgres, S3) leave their fields nil when the
// mode or configuration does not call for them.
type Dependencies struct {
	Signer  *crypto.Signer
	DMarket *dmarket.Client

	Tracker  *engine.DeltaTracker
	Interval *engine.IntervalCalculator
	Poller   *engine.Poller
	Scanner  *engine.Scanner

	PriceHistory  domain.PriceHistoryStore
	Opportunities domain.OpportunityStore
	Targets       domain.TargetStore

	PriceCache domain.LatestPriceCache
	SignalBus  domain.SignalBus

	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require persistence.
func needsPostgres(mode string) bool {
	switch mode {
	case "arbitrage", "scrape", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Signing credentials ---
	var secret string
	if cfg.DMarket.SecretKey != "" || cfg.DMarket.EncryptedKeyPath != "" {
		var err error
		secret, err = crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.DMarket.SecretKey,
			EncryptedPath: cfg.DMarket.EncryptedKeyPath,
			Password:      cfg.DMarket.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load secret: %w", err)
		}
	}
	if cfg.DMarket.PublicKey != "" && secret != "" {
		deps.Signer = crypto.NewSigner(cfg.DMarket.PublicKey, secret)
	} else {
		logger.Warn("no API credentials configured, running unauthenticated with reduced rate limits")
	}

	// --- Redis (optional) ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		redisClient = rc
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Rate limiter ---
	rlCfg := ratelimit.Config{
		MarketBurst:        cfg.RateLimit.MarketBurst,
		MarketPerSecond:    cfg.RateLimit.MarketPerSecond,
		AccountBurst:       cfg.RateLimit.AccountBurst,
		AccountPerSecond:   cfg.RateLimit.AccountPerSecond,
		UnauthorizedFactor: cfg.RateLimit.UnauthorizedFactor,
		Authorized:         deps.Signer != nil,
	}
	var limiter domain.RateLimiter
	if cfg.RateLimit.Distributed && redisClient != nil {
		limiter = redis.NewRateLimiter(redisClient, rlCfg, logger)
		logger.Info("using distributed rate limiter")
	} else {
		limiter = ratelimit.New(rlCfg)
	}

	// --- API client ---
	var respCache *dmarket.ResponseCache
	if cfg.HTTP.CacheEnabled {
		respCache = dmarket.NewResponseCache(dmarket.CacheConfig{
			TTLShort:   cfg.HTTP.CacheTTLShort.Duration,
			TTLMedium:  cfg.HTTP.CacheTTLMedium.Duration,
			TTLLong:    cfg.HTTP.CacheTTLLong.Duration,
			MaxEntries: cfg.HTTP.CacheMaxEntries,
		})
	}
	retryable := make(map[int]bool, len(cfg.HTTP.RetryableStatuses))
	for _, s := range cfg.HTTP.RetryableStatuses {
		retryable[s] = true
	}
	deps.DMarket = dmarket.NewClient(dmarket.Config{
		BaseURL: cfg.DMarket.BaseURL,
		Timeout: cfg.HTTP.Timeout.Duration,
		Signer:  deps.Signer,
		Limiter: limiter,
		Cache:   respCache,
		Breaker: dmarket.NewBreaker(cfg.HTTP.BreakerFailureThreshold, cfg.HTTP.BreakerCooldown.Duration),
		Retry: dmarket.RetryPolicy{
			MaxRetries:        cfg.HTTP.MaxRetries,
			Retryable:         retryable,
			BaseDelay:         cfg.HTTP.RetryBaseDelay.Duration,
			RateLimitMaxDelay: cfg.HTTP.RateLimitMaxDelay.Duration,
			NetworkMaxDelay:   cfg.HTTP.NetworkMaxDelay.Duration,
		},
		Logger: logger,
		// Surface breaking upstream responses to operators.
		SchemaDrift: schemaDriftAlert(deps.Notifier),
	})

	// --- Polling engine ---
	deps.Tracker = engine.NewDeltaTracker(engine.TrackerConfig{
		MaxEntities:        cfg.Polling.MaxTrackedEntities,
		MaxChangeLog:       cfg.Polling.MaxChangeLog,
		PromotionThreshold: cfg.Polling.PromotionThreshold,
		Whitelist:          cfg.Polling.Whitelist,
	})
	deps.Interval = engine.NewIntervalCalculator(engine.IntervalConfig{
		BaseInterval:        cfg.Polling.BaseInterval.Duration,
		MinInterval:         cfg.Polling.MinInterval.Duration,
		MaxInterval:         cfg.Polling.MaxInterval.Duration,
		EmptyBatchInterval:  cfg.Polling.EmptyBatchInterval.Duration,
		PeakHours:           cfg.Polling.PeakHours,
		ActivityMultipliers: cfg.Polling.ActivityMultipliers,
		PriorityMultipliers: cfg.Polling.PriorityMultipliers,
		ChangeRateTighten:   cfg.Polling.ChangeRateTighten,
		ChangeRateTrigger:   cfg.Polling.ChangeRateTrigger,
		VolatilityWindow:    cfg.Polling.VolatilityWindow,
	})
	deps.Poller = engine.NewPoller(engine.PollerConfig{
		Games:                 cfg.Polling.Games,
		ItemsPerBatch:         cfg.Polling.ItemsPerBatch,
		MaxConcurrent:         cfg.Polling.MaxConcurrent,
		SignificanceThreshold: decimalFromFloat(cfg.Polling.SignificanceThresholdPct),
	}, deps.DMarket, deps.Tracker, deps.Interval, deps.PriceCache, deps.SignalBus, logger)
	deps.Scanner = engine.NewScanner(deps.DMarket, cfg.Polling.ItemsPerBatch, cfg.Polling.MaxConcurrent, logger)

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PriceHistory = postgres.NewPriceHistoryStore(pool)
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Targets = postgres.NewTargetStore(pool)
	}

	// --- S3 blob storage (only when archiving is on) ---
	if cfg.Archive.Enabled {
		if deps.PriceHistory == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archiving requires a mode with postgres (got %q)", cfg.Mode)
		}
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.PriceHistory, deps.Opportunities)
	}

	return deps, cleanup, nil
}

// schemaDriftAlert routes schema drift events from the API client to the
// notifier so operators hear about breaking upstream changes.
func schemaDriftAlert(notifier *notify.Notifier) dmarket.SchemaDriftHandler {
	return func(ctx context.Context, endpoint string, raw json.RawMessage, err error) {
		msg := fmt.Sprintf("endpoint %s returned an unrecognised shape: %v", endpoint, err)
		_ = notifier.Notify(ctx, notify.EventSchemaDrift, "Upstream schema drift", msg)
	}
}

func decimalFromFloat(f float64) decimal.Decimal {
	if f <= 0 {
		return decimal.Decimal{}
	}
	return decimal.NewFromFloat(f)
}
