package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind classifies a detected market delta.
type ChangeKind string

const (
	ChangeNewListing ChangeKind = "new_listing"
	ChangePrice      ChangeKind = "price_change"
	ChangeQuantity   ChangeKind = "quantity_change"
	ChangeNone       ChangeKind = "no_change"
)

// DefaultSignificanceThreshold is the minimum absolute percentage delta for a
// price change to be surfaced to consumers. Tunable via config; this is the
// documented default.
var DefaultSignificanceThreshold = decimal.NewFromFloat(1.0)

// PriceChange is an immutable event describing one detected delta. Produced
// by the polling engine; consumers receive copies, never internal references.
type PriceChange struct {
	ID         string
	EntityID   string
	Title      string
	GameID     string
	Kind       ChangeKind
	OldPrice   decimal.Decimal
	NewPrice   decimal.Decimal
	OldQty     int
	NewQty     int
	Percent    decimal.Decimal // signed percentage delta, e.g. 10.0 for +10%
	DetectedAt time.Time
}

// IsSignificant reports whether the change clears the given percentage
// threshold. New listings are always significant, no-change never is.
func (c PriceChange) IsSignificant(threshold decimal.Decimal) bool {
	switch c.Kind {
	case ChangeNewListing:
		return true
	case ChangeNone:
		return false
	case ChangeQuantity:
		return true
	default:
		return c.Percent.Abs().GreaterThanOrEqual(threshold)
	}
}

// PercentDelta computes the signed percentage change from old to new. A zero
// old price yields zero to avoid division blowups on free/placeholder items.
func PercentDelta(old, new decimal.Decimal) decimal.Decimal {
	if old.IsZero() {
		return decimal.Zero
	}
	return new.Sub(old).Div(old).Mul(decimal.NewFromInt(100))
}

// MarketSnapshot aggregates one polling cycle's item batch. It is only used
// as input to volatility estimation and lives in a bounded ring buffer.
type MarketSnapshot struct {
	Timestamp time.Time
	MeanPrice decimal.Decimal
	ItemCount int
	Spread    decimal.Decimal // max price - min price in the batch
}

// NewMarketSnapshot computes the aggregate statistics for a batch of items.
func NewMarketSnapshot(items []MarketItem, at time.Time) MarketSnapshot {
	snap := MarketSnapshot{Timestamp: at, ItemCount: len(items)}
	if len(items) == 0 {
		return snap
	}

	sum := decimal.Zero
	min := items[0].Price
	max := items[0].Price
	for _, it := range items {
		sum = sum.Add(it.Price)
		if it.Price.LessThan(min) {
			min = it.Price
		}
		if it.Price.GreaterThan(max) {
			max = it.Price
		}
	}
	snap.MeanPrice = sum.Div(decimal.NewFromInt(int64(len(items))))
	snap.Spread = max.Sub(min)
	return snap
}
