package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateLimiter provides backpressure for outbound API calls. Wait suspends
// the caller until the named bucket has capacity; it never fails except on
// context cancellation.
type RateLimiter interface {
	Wait(ctx context.Context, bucket string) error
}

// LatestPriceCache stores the most recent observed price per entity so other
// processes (dashboard, CLI tooling) can read it without hitting the engine.
type LatestPriceCache interface {
	SetPrice(ctx context.Context, entityID string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, entityID string) (decimal.Decimal, time.Time, error)
}

// StreamMessage is a single entry read back from the event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes detected market changes for out-of-process consumers
// and provides durable stream reads for catch-up. Subscribe returns a channel
// that closes when ctx is cancelled; channel names may use glob wildcards.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
