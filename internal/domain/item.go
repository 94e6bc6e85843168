// Package domain defines the core value types shared across the bot: market
// items, cached price state, detected changes, polling snapshots, and the
// port interfaces implemented by the cache, store, and blob packages.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Priority controls how aggressively an individual item is polled relative to
// the base interval. Lower values mean tighter polling.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String returns the canonical lowercase name of the priority tier.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority maps a case-insensitive tier name to a Priority. Unknown
// names fall back to PriorityNormal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// MarketItem is one listing as returned by the upstream market-items
// endpoint, normalised to decimal dollars.
type MarketItem struct {
	ItemID    string
	Title     string
	GameID    string
	Price     decimal.Decimal // dollars
	Quantity  int
	UpdatedAt time.Time
}

// CachedPrice is the engine's last-known market state for a single entity.
// Exactly one CachedPrice exists per entity ID; ChangeCount only increases.
type CachedPrice struct {
	EntityID    string
	Title       string
	Price       decimal.Decimal
	Quantity    int
	UpdatedAt   time.Time
	ChangeCount int
	Priority    Priority
}
