package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is an arbitrage candidate derived from a detected price change:
// the item can be bought at BuyPrice and resold at SellPrice with a positive
// net edge after the venue fee.
type Opportunity struct {
	ID         string
	EntityID   string
	Title      string
	GameID     string
	BuyPrice   decimal.Decimal
	SellPrice  decimal.Decimal
	FeePercent decimal.Decimal
	NetProfit  decimal.Decimal
	ProfitPct  decimal.Decimal
	DetectedAt time.Time
}

// TargetStatus enumerates the lifecycle states of a buy-order target as
// reported by the upstream API.
type TargetStatus string

const (
	TargetActive    TargetStatus = "active"
	TargetInactive  TargetStatus = "inactive"
	TargetExecuted  TargetStatus = "executed"
	TargetCancelled TargetStatus = "cancelled"
)

// Target is a persisted record of a buy-order target placed upstream. The
// order lifecycle itself is driven by the upstream API; we persist what the
// boundary reports.
type Target struct {
	ID        string
	EntityID  string
	Title     string
	GameID    string
	Price     decimal.Decimal
	Quantity  int
	Status    TargetStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
