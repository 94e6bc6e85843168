package arbitrage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

func usd(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testConfig() Config {
	return Config{
		FeePercent:   map[string]float64{"default": 7.0, "a8db": 5.0},
		MinProfitUSD: usd("0.25"),
		MinProfitPct: usd("3.0"),
	}
}

func drop(game, old, new string) domain.PriceChange {
	return domain.PriceChange{
		EntityID:   "i1",
		Title:      "AK-47",
		GameID:     game,
		Kind:       domain.ChangePrice,
		OldPrice:   usd(old),
		NewPrice:   usd(new),
		Percent:    domain.PercentDelta(usd(old), usd(new)),
		DetectedAt: time.Now(),
	}
}

func TestEvaluateProfitableDrop(t *testing.T) {
	d := NewDetector(testConfig(), nil, nil, nil)

	// Buy at 10, resell at 20 with 5% fee: proceeds 19, net 9, 90%.
	opp, ok := d.Evaluate(drop("a8db", "20.00", "10.00"))
	if !ok {
		t.Fatal("expected an opportunity")
	}
	if opp.NetProfit.StringFixed(2) != "9.00" {
		t.Errorf("net = %s, want 9.00", opp.NetProfit)
	}
	if opp.ProfitPct.StringFixed(0) != "90" {
		t.Errorf("pct = %s, want 90", opp.ProfitPct)
	}
	if opp.FeePercent.StringFixed(0) != "5" {
		t.Errorf("fee = %s, want game-specific 5", opp.FeePercent)
	}
}

func TestEvaluateFeeFallback(t *testing.T) {
	d := NewDetector(testConfig(), nil, nil, nil)
	opp, ok := d.Evaluate(drop("otherGame", "20.00", "10.00"))
	if !ok {
		t.Fatal("expected an opportunity")
	}
	if opp.FeePercent.StringFixed(0) != "7" {
		t.Errorf("fee = %s, want default 7", opp.FeePercent)
	}
}

func TestEvaluateRejections(t *testing.T) {
	d := NewDetector(testConfig(), nil, nil, nil)

	cases := []struct {
		name   string
		change domain.PriceChange
	}{
		{"price rise", drop("a8db", "10.00", "20.00")},
		// 5% fee on 10.00 leaves 9.50 in proceeds, under the 9.60 buy.
		{"fee eats the edge", drop("a8db", "10.00", "9.60")},
		// Proceeds 10.21 on a 10.00 buy: net 0.21 is under the 0.25 floor.
		{"below min USD", drop("a8db", "10.75", "10.00")},
		{"new listing", domain.PriceChange{EntityID: "i1", Kind: domain.ChangeNewListing, NewPrice: usd("10.00")}},
		{"quantity change", domain.PriceChange{EntityID: "i1", Kind: domain.ChangeQuantity, OldPrice: usd("20.00"), NewPrice: usd("20.00")}},
		{"zero buy price", drop("a8db", "20.00", "0")},
	}
	for _, tc := range cases {
		if _, ok := d.Evaluate(tc.change); ok {
			t.Errorf("%s: unexpectedly produced an opportunity", tc.name)
		}
	}
}

func TestEvaluateMinProfitPct(t *testing.T) {
	cfg := testConfig()
	cfg.MinProfitUSD = decimal.Zero
	cfg.MinProfitPct = usd("10.0")
	d := NewDetector(cfg, nil, nil, nil)

	// 5% fee on 107: proceeds 101.65, buy 100, net 1.65 = 1.65% < 10%.
	if _, ok := d.Evaluate(drop("a8db", "107.00", "100.00")); ok {
		t.Error("thin edge should fail the percentage floor")
	}
	// proceeds of 120 = 114, net 14 = 14% >= 10%.
	if _, ok := d.Evaluate(drop("a8db", "120.00", "100.00")); !ok {
		t.Error("14% edge should clear the percentage floor")
	}
}

type memStore struct {
	mu   sync.Mutex
	opps []domain.Opportunity
}

func (m *memStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opps = append(m.opps, opp)
	return nil
}
func (m *memStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	return m.opps, nil
}
func (m *memStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}
func (m *memStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type memNotifier struct {
	events []string
}

func (m *memNotifier) Notify(ctx context.Context, event, title, message string) error {
	m.events = append(m.events, event)
	return nil
}

func TestHandleChangePersistsAndNotifies(t *testing.T) {
	store := &memStore{}
	notifier := &memNotifier{}
	d := NewDetector(testConfig(), store, notifier, nil)

	d.HandleChange(context.Background(), drop("a8db", "20.00", "10.00"))
	d.HandleChange(context.Background(), drop("a8db", "10.00", "20.00")) // not an opportunity

	if len(store.opps) != 1 {
		t.Fatalf("stored %d opportunities, want 1", len(store.opps))
	}
	if len(notifier.events) != 1 || notifier.events[0] != "opportunity" {
		t.Errorf("notifications = %v, want one opportunity event", notifier.events)
	}
}
