package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// PriceCache implements domain.LatestPriceCache using Redis hashes. Each
// entity's latest observed price is a hash at "price:{entityID}" with fields
// "price" (decimal string, dollars) and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(entityID string) string {
	return "price:" + entityID
}

// SetPrice stores the latest price and observation time for an entity.
func (pc *PriceCache) SetPrice(ctx context.Context, entityID string, price decimal.Decimal, ts time.Time) error {
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(entityID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", entityID, err)
	}
	return nil
}

// GetPrice retrieves the latest price and observation time for an entity. It
// returns domain.ErrNotFound when nothing has been recorded.
func (pc *PriceCache) GetPrice(ctx context.Context, entityID string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(entityID)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", entityID, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", entityID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", entityID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest prices for multiple entities in one
// pipeline round trip. Entities with no recorded price are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, entityIDs []string) (map[string]decimal.Decimal, error) {
	if len(entityIDs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(entityIDs))
	for _, id := range entityIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]decimal.Decimal, len(entityIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		result[id] = price
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.LatestPriceCache = (*PriceCache)(nil)
