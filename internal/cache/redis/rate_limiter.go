package redis

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/ratelimit"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPollInterval is how often Wait re-checks a saturated window.
const waitPollInterval = 50 * time.Millisecond

// BucketBudget is the admission budget for one endpoint class.
type BucketBudget struct {
	Limit  int
	Window time.Duration
}

// RateLimiter is the distributed variant of the admission controller: a
// sliding window over Redis sorted sets, updated by an atomic Lua script, so
// multiple bot instances share one upstream budget. Bucket names follow the
// in-process limiter (market, account).
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	budgets       map[string]BucketBudget
	log           *slog.Logger
}

// NewRateLimiter creates a distributed limiter with per-second budgets
// derived from the same config as the in-process one. Unauthorized scaling
// is applied here too.
func NewRateLimiter(c *Client, cfg ratelimit.Config, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	factor := 1.0
	if !cfg.Authorized && cfg.UnauthorizedFactor > 0 {
		factor = cfg.UnauthorizedFactor
	}
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		budgets: map[string]BucketBudget{
			ratelimit.BucketMarket:  {Limit: scaledLimit(cfg.MarketPerSecond, factor), Window: time.Second},
			ratelimit.BucketAccount: {Limit: scaledLimit(cfg.AccountPerSecond, factor), Window: time.Second},
		},
		log: log.With(slog.String("component", "redis_ratelimit")),
	}
}

func scaledLimit(perSecond, factor float64) int {
	n := int(math.Floor(perSecond * factor))
	if n < 1 {
		return 1
	}
	return n
}

func rateLimitKey(bucket string) string {
	return "ratelimit:" + bucket
}

// Allow reports whether one request for the bucket fits the sliding window,
// counting it when it does.
func (rl *RateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	budget, ok := rl.budgets[bucket]
	if !ok {
		budget = rl.budgets[ratelimit.BucketMarket]
	}

	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(bucket)},
		time.Now().UnixMicro(),
		budget.Window.Microseconds(),
		budget.Limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", bucket, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", bucket, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until the bucket admits a request or ctx is cancelled.
// Admission is backpressure only: a Redis failure admits the request and is
// logged, leaving the upstream 429s to govern until the backend recovers.
func (rl *RateLimiter) Wait(ctx context.Context, bucket string) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", bucket, ctx.Err())
		default:
		}

		allowed, err := rl.Allow(ctx, bucket)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("redis: rate limit wait %s: %w", bucket, ctx.Err())
			}
			rl.log.Warn("rate limit backend unavailable, admitting request",
				slog.String("bucket", bucket),
				slog.String("error", err.Error()))
			return nil
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", bucket, ctx.Err())
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
