package dmarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/arbhunter/dmarketbot/internal/ratelimit"
)

// Prefixes of cached reads that depend on account state. Write operations
// invalidate them so a balance or offer list is never served stale after a
// mutation.
var accountCachePrefixes = []string{
	"GET /account",
	"GET /exchange/v1/user",
	"GET /marketplace-api",
}

func (c *Client) invalidateAccountCaches() {
	if c.cache == nil {
		return
	}
	n := 0
	for _, p := range accountCachePrefixes {
		n += c.cache.Invalidate(p)
	}
	if n > 0 {
		c.log.Debug("invalidated account caches", "entries", n)
	}
}

// GetBalance fetches and parses the account balance. The raw payload is run
// through the schema guard; an unrecognised shape is reported but the raw
// body is still returned for diagnostics.
func (c *Client) GetBalance(ctx context.Context) (Balance, json.RawMessage, error) {
	env := c.Do(ctx, "GET", "/account/v1/balance", nil,
		WithBucket(ratelimit.BucketAccount), WithTTL(TTLShort))
	if err := env.Err(); err != nil {
		return Balance{}, nil, err
	}

	bal, shape, err := ParseBalance(env.Body)
	if err != nil {
		c.reportSchemaDrift(ctx, "balance", env.Body, err)
		return Balance{}, env.Body, err
	}
	c.log.Debug("balance parsed", "shape", shape, "usd", bal.USD.String())
	return bal, env.Body, nil
}

// GetUserInventory fetches one page of the authenticated user's inventory.
func (c *Client) GetUserInventory(ctx context.Context, gameID, cursor string, limit int) (MarketPage, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("gameId", gameID)
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	env := c.Do(ctx, "GET", "/exchange/v1/user/items?"+params.Encode(), nil,
		WithBucket(ratelimit.BucketAccount), WithTTL(TTLShort))
	if err := env.Err(); err != nil {
		return MarketPage{}, err
	}

	var resp itemsResponse
	if err := json.Unmarshal(env.Body, &resp); err != nil {
		return MarketPage{}, fmt.Errorf("dmarket: decode user inventory: %w", err)
	}
	page := MarketPage{Cursor: resp.Cursor}
	for _, w := range resp.list() {
		page.Items = append(page.Items, w.toDomain(gameID))
	}
	return page, nil
}

// GetUserOffers fetches one page of the user's active sell offers.
func (c *Client) GetUserOffers(ctx context.Context, gameID, cursor string, limit int) (json.RawMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("gameId", gameID)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("status", "OfferStatusActive")
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	env := c.Do(ctx, "GET", "/marketplace-api/v1/user-offers?"+params.Encode(), nil,
		WithBucket(ratelimit.BucketAccount), WithTTL(TTLShort))
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env.Body, nil
}

// TargetRequest describes a buy target (standing bid) to create.
type TargetRequest struct {
	GameID string
	Title  string
	Amount int
	// PriceUSD is in dollars; it is converted to minor units on the wire.
	PriceUSD decimal.Decimal
}

// CreateTarget places a buy target. Account caches are invalidated on
// success.
func (c *Client) CreateTarget(ctx context.Context, req TargetRequest) (json.RawMessage, error) {
	if req.Amount <= 0 {
		req.Amount = 1
	}
	body, err := json.Marshal(map[string]any{
		"GameID": req.GameID,
		"Targets": []map[string]any{{
			"Amount": req.Amount,
			"Price": map[string]string{
				"Currency": "USD",
				"Amount":   req.PriceUSD.Shift(2).StringFixed(0),
			},
			"Title": req.Title,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("dmarket: encode target: %w", err)
	}

	env := c.Do(ctx, "POST", "/marketplace-api/v1/user-targets/create", body,
		WithBucket(ratelimit.BucketAccount))
	if err := env.Err(); err != nil {
		return nil, err
	}
	c.invalidateAccountCaches()
	return env.Body, nil
}

// DeleteTarget cancels a buy target by ID.
func (c *Client) DeleteTarget(ctx context.Context, targetID string) error {
	body, err := json.Marshal(map[string]any{
		"Targets": []map[string]string{{"TargetID": targetID}},
	})
	if err != nil {
		return fmt.Errorf("dmarket: encode target delete: %w", err)
	}
	env := c.Do(ctx, "POST", "/marketplace-api/v1/user-targets/delete", body,
		WithBucket(ratelimit.BucketAccount))
	if err := env.Err(); err != nil {
		return err
	}
	c.invalidateAccountCaches()
	return nil
}

// ListTargets fetches the user's active buy targets.
func (c *Client) ListTargets(ctx context.Context, gameID string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("GameID", gameID)
	params.Set("BasicFilters.Status", "TargetStatusActive")
	env := c.Do(ctx, "GET", "/marketplace-api/v1/user-targets?"+params.Encode(), nil,
		WithBucket(ratelimit.BucketAccount), WithTTL(TTLShort))
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env.Body, nil
}

// BuyOffer purchases a specific market offer at the stated price. The price
// is echoed back to the API so a mid-flight reprice fails the purchase
// instead of overpaying.
func (c *Client) BuyOffer(ctx context.Context, offerID string, priceUSD decimal.Decimal) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"offers": []map[string]any{{
			"offerId": offerID,
			"price": map[string]string{
				"currency": "USD",
				"amount":   priceUSD.Shift(2).StringFixed(0),
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("dmarket: encode buy: %w", err)
	}

	env := c.Do(ctx, "PATCH", "/exchange/v1/offers-buy", body,
		WithBucket(ratelimit.BucketAccount))
	if err := env.Err(); err != nil {
		return nil, err
	}
	c.invalidateAccountCaches()
	return env.Body, nil
}
