// Package arbitrage evaluates detected price changes for resale
// opportunities: a sharp drop means the item can be bought at the new price
// and relisted near its previous level, provided the edge survives the venue
// fee.
package arbitrage

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Config holds the detector thresholds.
type Config struct {
	// FeePercent is the per-game sale fee table; the "default" entry applies
	// to games without their own.
	FeePercent map[string]float64
	// MinProfitUSD is the minimum net edge in dollars.
	MinProfitUSD decimal.Decimal
	// MinProfitPct is the minimum net edge as a percentage of the buy price.
	MinProfitPct decimal.Decimal
}

// Notifier is the alert surface the detector needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Detector turns qualifying price drops into persisted opportunities. It is
// registered as a change callback on the polling loop; evaluation is pure and
// synchronous, persistence and alerting are best-effort.
type Detector struct {
	cfg    Config
	store  domain.OpportunityStore
	notify Notifier
	log    *slog.Logger
}

// NewDetector creates a Detector. store and notify may be nil; detection
// still runs and results are only logged.
func NewDetector(cfg Config, store domain.OpportunityStore, notify Notifier, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		cfg:    cfg,
		store:  store,
		notify: notify,
		log:    log.With(slog.String("component", "arb_detector")),
	}
}

// Evaluate inspects one change and returns an opportunity when the item can
// be bought at the new price and resold at the previous price with enough
// edge after fees. Only price drops qualify.
func (d *Detector) Evaluate(change domain.PriceChange) (domain.Opportunity, bool) {
	if change.Kind != domain.ChangePrice {
		return domain.Opportunity{}, false
	}
	buy := change.NewPrice
	sell := change.OldPrice
	if buy.IsZero() || !sell.GreaterThan(buy) {
		return domain.Opportunity{}, false
	}

	fee := d.feeFor(change.GameID)
	proceeds := sell.Mul(hundred.Sub(fee)).Div(hundred)
	net := proceeds.Sub(buy)
	if !net.IsPositive() {
		return domain.Opportunity{}, false
	}
	pct := net.Div(buy).Mul(hundred)

	if net.LessThan(d.cfg.MinProfitUSD) || pct.LessThan(d.cfg.MinProfitPct) {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		ID:         uuid.NewString(),
		EntityID:   change.EntityID,
		Title:      change.Title,
		GameID:     change.GameID,
		BuyPrice:   buy,
		SellPrice:  sell,
		FeePercent: fee,
		NetProfit:  net,
		ProfitPct:  pct,
		DetectedAt: change.DetectedAt,
	}, true
}

// HandleChange is the polling-loop callback: evaluate, persist, alert.
// Failures downstream of detection are logged, never propagated.
func (d *Detector) HandleChange(ctx context.Context, change domain.PriceChange) {
	opp, ok := d.Evaluate(change)
	if !ok {
		return
	}

	d.log.Info("opportunity detected",
		slog.String("entity", opp.EntityID),
		slog.String("title", opp.Title),
		slog.String("buy", opp.BuyPrice.StringFixed(2)),
		slog.String("sell", opp.SellPrice.StringFixed(2)),
		slog.String("net_profit", opp.NetProfit.StringFixed(2)),
		slog.String("profit_pct", opp.ProfitPct.StringFixed(2)))

	if d.store != nil {
		if err := d.store.Insert(ctx, opp); err != nil {
			d.log.Error("opportunity insert failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
	}
	if d.notify != nil {
		msg := opp.Title + ": buy $" + opp.BuyPrice.StringFixed(2) +
			", resell $" + opp.SellPrice.StringFixed(2) +
			", net $" + opp.NetProfit.StringFixed(2) +
			" (" + opp.ProfitPct.StringFixed(1) + "%)"
		if err := d.notify.Notify(ctx, "opportunity", "Arbitrage opportunity", msg); err != nil {
			d.log.Warn("opportunity alert failed", slog.String("error", err.Error()))
		}
	}
}

// feeFor resolves the sale fee for a game, falling back to the "default"
// table entry. Matching is case-insensitive.
func (d *Detector) feeFor(gameID string) decimal.Decimal {
	if f, ok := d.cfg.FeePercent[strings.ToLower(gameID)]; ok {
		return decimal.NewFromFloat(f)
	}
	if f, ok := d.cfg.FeePercent["default"]; ok {
		return decimal.NewFromFloat(f)
	}
	return decimal.Zero
}
