package dmarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// MarketQuery selects a slice of the market-items listing.
type MarketQuery struct {
	GameID   string
	Limit    int
	Cursor   string
	Offset   int
	Currency string
	// OrderBy is the upstream sort key, e.g. "price", "updated".
	OrderBy   string
	OrderDir  string
	Title     string
	PriceFrom int // minor units
	PriceTo   int // minor units
}

// MarketPage is one page of market listings plus the continuation cursor.
type MarketPage struct {
	Items  []domain.MarketItem
	Cursor string
}

// GetMarketItems fetches one page of listings for a game. Pagination is
// cursor-based when the upstream returns a cursor, offset-based otherwise;
// callers pass whichever the previous page produced.
func (c *Client) GetMarketItems(ctx context.Context, q MarketQuery) (MarketPage, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Currency == "" {
		q.Currency = "USD"
	}

	params := url.Values{}
	params.Set("gameId", q.GameID)
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("currency", q.Currency)
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	} else if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.OrderBy != "" {
		params.Set("orderBy", q.OrderBy)
	}
	if q.OrderDir != "" {
		params.Set("orderDir", q.OrderDir)
	}
	if q.Title != "" {
		params.Set("title", q.Title)
	}
	if q.PriceFrom > 0 {
		params.Set("priceFrom", strconv.Itoa(q.PriceFrom))
	}
	if q.PriceTo > 0 {
		params.Set("priceTo", strconv.Itoa(q.PriceTo))
	}

	env := c.Do(ctx, "GET", "/exchange/v1/market/items?"+params.Encode(), nil, WithTTL(TTLShort))
	if err := env.Err(); err != nil {
		return MarketPage{}, err
	}

	var resp itemsResponse
	if err := json.Unmarshal(env.Body, &resp); err != nil {
		return MarketPage{}, fmt.Errorf("dmarket: decode market items: %w", err)
	}

	page := MarketPage{Cursor: resp.Cursor}
	for _, w := range resp.list() {
		page.Items = append(page.Items, w.toDomain(q.GameID))
	}
	return page, nil
}

// GetAllMarketItems walks the listing until the cursor runs out or maxItems
// is reached (0 means no bound). Pages that fail after retries abort the walk
// with whatever was gathered plus the error.
func (c *Client) GetAllMarketItems(ctx context.Context, q MarketQuery, maxItems int) ([]domain.MarketItem, error) {
	var all []domain.MarketItem
	for {
		page, err := c.GetMarketItems(ctx, q)
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)

		if page.Cursor == "" || len(page.Items) == 0 {
			return all, nil
		}
		if maxItems > 0 && len(all) >= maxItems {
			return all[:maxItems], nil
		}
		q.Cursor = page.Cursor
		q.Offset = 0
	}
}

// GetAggregatedPrices fetches best bid/ask aggregates for up to 100 titles.
func (c *Client) GetAggregatedPrices(ctx context.Context, titles []string) (json.RawMessage, error) {
	if len(titles) == 0 {
		return nil, fmt.Errorf("dmarket: aggregated prices: no titles given")
	}
	params := url.Values{}
	for _, t := range titles {
		params.Add("Titles", t)
	}
	env := c.Do(ctx, "GET", "/price-aggregator/v1/aggregated-prices?"+params.Encode(), nil, WithTTL(TTLShort))
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env.Body, nil
}

// GetGames fetches the supported games list. This moves rarely, so it lands
// in the long-TTL cache class.
func (c *Client) GetGames(ctx context.Context) (json.RawMessage, error) {
	env := c.Do(ctx, "GET", "/exchange/v1/games", nil, WithTTL(TTLLong))
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env.Body, nil
}

// GetLastSales fetches recent sale history for one title. Historical data,
// medium TTL.
func (c *Client) GetLastSales(ctx context.Context, gameID, title string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("gameId", gameID)
	params.Set("title", title)
	env := c.Do(ctx, "GET", "/trade-aggregator/v1/last-sales?"+params.Encode(), nil, WithTTL(TTLMedium))
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env.Body, nil
}
