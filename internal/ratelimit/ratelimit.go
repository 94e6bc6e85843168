// Package ratelimit implements in-process admission control for outbound API
// calls. The upstream enforces different budgets for market-data and
// account/trading endpoints, so callers name a logical bucket; unknown
// buckets share the market budget. Unauthorized clients are scaled down
// because upstream throttles anonymous traffic harder.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// Well-known bucket names.
const (
	BucketMarket  = "market"
	BucketAccount = "account"
)

// TokenBucket is a token-bucket limiter with continuous refill. Callers
// block in Wait until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a limiter with the given burst capacity and refill
// rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Config holds the per-bucket budgets.
type Config struct {
	MarketBurst      float64
	MarketPerSecond  float64
	AccountBurst     float64
	AccountPerSecond float64
	// UnauthorizedFactor scales all budgets down when no credentials are
	// configured. 1.0 means no scaling.
	UnauthorizedFactor float64
	Authorized         bool
}

// Limiter groups token buckets by endpoint class and implements
// domain.RateLimiter. Waiting is pure backpressure: the only error a caller
// can observe is context cancellation.
type Limiter struct {
	market  *TokenBucket
	account *TokenBucket
}

// New creates a Limiter from the given budgets, applying the unauthorized
// scaling factor when no credentials are configured.
func New(cfg Config) *Limiter {
	factor := 1.0
	if !cfg.Authorized && cfg.UnauthorizedFactor > 0 {
		factor = cfg.UnauthorizedFactor
	}
	return &Limiter{
		market:  NewTokenBucket(scale(cfg.MarketBurst, factor), scale(cfg.MarketPerSecond, factor)),
		account: NewTokenBucket(scale(cfg.AccountBurst, factor), scale(cfg.AccountPerSecond, factor)),
	}
}

// Wait suspends the caller until the named bucket has capacity.
func (l *Limiter) Wait(ctx context.Context, bucket string) error {
	switch bucket {
	case BucketAccount:
		return l.account.Wait(ctx)
	default:
		return l.market.Wait(ctx)
	}
}

func scale(v, factor float64) float64 {
	scaled := v * factor
	if scaled < 1 {
		return 1
	}
	return scaled
}

// Compile-time interface check.
var _ domain.RateLimiter = (*Limiter)(nil)
