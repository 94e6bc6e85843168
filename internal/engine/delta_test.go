package engine

import (
	"fmt"
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

func item(id, title string, price string, qty int) domain.MarketItem {
	return domain.MarketItem{ItemID: id, Title: title, GameID: "a8db", Price: usd(price), Quantity: qty}
}

func TestTrackerNewListingThenNoChange(t *testing.T) {
	tr := NewDeltaTracker(DefaultTrackerConfig())
	now := time.Now()

	c := tr.Observe("i1", item("i1", "AK-47", "10.00", 5), now)
	if c.Kind != domain.ChangeNewListing {
		t.Fatalf("first sighting kind = %s, want new_listing", c.Kind)
	}
	if !c.NewPrice.Equal(usd("10.00")) {
		t.Errorf("NewPrice = %s, want 10.00", c.NewPrice)
	}

	c = tr.Observe("i1", item("i1", "AK-47", "10.00", 5), now)
	if c.Kind != domain.ChangeNone {
		t.Fatalf("identical observation kind = %s, want no_change", c.Kind)
	}
	if got := tr.RecentChanges(0); len(got) != 1 {
		t.Errorf("change log has %d entries, want 1 (no-change not logged)", len(got))
	}
}

func TestTrackerPriceChange(t *testing.T) {
	tr := NewDeltaTracker(DefaultTrackerConfig())
	now := time.Now()

	tr.Observe("i1", item("i1", "AK-47", "10.00", 5), now)
	c := tr.Observe("i1", item("i1", "AK-47", "11.00", 5), now)

	if c.Kind != domain.ChangePrice {
		t.Fatalf("kind = %s, want price_change", c.Kind)
	}
	if !c.OldPrice.Equal(usd("10.00")) || !c.NewPrice.Equal(usd("11.00")) {
		t.Errorf("old/new = %s/%s, want 10.00/11.00", c.OldPrice, c.NewPrice)
	}
	if c.Percent.StringFixed(1) != "10.0" {
		t.Errorf("percent = %s, want 10.0", c.Percent)
	}

	cached, ok := tr.Get("i1")
	if !ok || !cached.Price.Equal(usd("11.00")) || cached.ChangeCount != 1 {
		t.Errorf("cached state = %+v, want price 11.00 and change count 1", cached)
	}
}

func TestTrackerQuantityChange(t *testing.T) {
	tr := NewDeltaTracker(DefaultTrackerConfig())
	now := time.Now()

	tr.Observe("i1", item("i1", "AK-47", "10.00", 5), now)
	c := tr.Observe("i1", item("i1", "AK-47", "10.00", 7), now)
	if c.Kind != domain.ChangeQuantity {
		t.Fatalf("kind = %s, want quantity_change", c.Kind)
	}
	if c.OldQty != 5 || c.NewQty != 7 {
		t.Errorf("qty old/new = %d/%d, want 5/7", c.OldQty, c.NewQty)
	}
}

func TestTrackerPriceTakesPrecedenceOverQuantity(t *testing.T) {
	tr := NewDeltaTracker(DefaultTrackerConfig())
	now := time.Now()
	tr.Observe("i1", item("i1", "AK-47", "10.00", 5), now)
	c := tr.Observe("i1", item("i1", "AK-47", "12.00", 9), now)
	if c.Kind != domain.ChangePrice {
		t.Fatalf("kind = %s, want price_change when both fields move", c.Kind)
	}
	if c.NewQty != 9 {
		t.Errorf("NewQty = %d, want 9 carried on the price change", c.NewQty)
	}
}

func TestTrackerInsertionOrderEviction(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxEntities = 3
	tr := NewDeltaTracker(cfg)
	now := time.Now()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("i%d", i)
		tr.Observe(id, item(id, "x", "1.00", 1), now)
	}
	// Touch i0 so LRU-by-access would keep it; insertion-order must not.
	tr.Observe("i0", item("i0", "x", "2.00", 1), now)

	tr.Observe("i3", item("i3", "x", "1.00", 1), now)
	if tr.Len() != 3 {
		t.Fatalf("len = %d, want 3", tr.Len())
	}
	if _, ok := tr.Get("i0"); ok {
		t.Error("oldest-inserted entity i0 survived eviction")
	}
	if _, ok := tr.Get("i3"); !ok {
		t.Error("newest entity i3 was evicted")
	}
}

func TestTrackerChangeLogBounded(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxChangeLog = 5
	tr := NewDeltaTracker(cfg)
	now := time.Now()

	tr.Observe("i1", item("i1", "x", "1.00", 1), now)
	for i := 0; i < 10; i++ {
		tr.Observe("i1", item("i1", "x", fmt.Sprintf("%d.00", i+2), 1), now)
	}

	got := tr.RecentChanges(0)
	if len(got) != 5 {
		t.Fatalf("log has %d entries, want 5", len(got))
	}
	// Newest first.
	if !got[0].NewPrice.Equal(usd("11.00")) {
		t.Errorf("newest logged price = %s, want 11.00", got[0].NewPrice)
	}
}

func TestTrackerPromotionAndWhitelist(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.PromotionThreshold = 3
	cfg.Whitelist = []string{"Butterfly Knife"}
	tr := NewDeltaTracker(cfg)
	now := time.Now()

	// Whitelisted title is critical from first sight, case-insensitively.
	tr.Observe("w1", item("w1", "BUTTERFLY knife", "500.00", 1), now)
	if got := tr.Priority("w1"); got != domain.PriorityCritical {
		t.Errorf("whitelisted priority = %s, want critical", got)
	}

	// Ordinary item is promoted to high at the third change.
	tr.Observe("i1", item("i1", "AK-47", "10.00", 1), now)
	for i := 0; i < 2; i++ {
		tr.Observe("i1", item("i1", "AK-47", fmt.Sprintf("1%d.00", i+1), 1), now)
		if got := tr.Priority("i1"); got != domain.PriorityNormal {
			t.Fatalf("priority after %d changes = %s, want normal", i+1, got)
		}
	}
	tr.Observe("i1", item("i1", "AK-47", "14.00", 1), now)
	if got := tr.Priority("i1"); got != domain.PriorityHigh {
		t.Errorf("priority after 3 changes = %s, want high", got)
	}

	if got := tr.Priority("unknown"); got != domain.PriorityNormal {
		t.Errorf("untracked priority = %s, want normal", got)
	}
}

func TestTrackerRuntimeWhitelistMutators(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.PromotionThreshold = 3
	tr := NewDeltaTracker(cfg)
	now := time.Now()

	tr.Observe("i1", item("i1", "Karambit | Fade", "900.00", 1), now)
	if got := tr.Priority("i1"); got != domain.PriorityNormal {
		t.Fatalf("priority before pin = %s, want normal", got)
	}

	// Pinning is case-insensitive and repins tracked entities immediately.
	tr.Whitelist("  KARAMBIT | fade ")
	if got := tr.Priority("i1"); got != domain.PriorityCritical {
		t.Errorf("priority after pin = %s, want critical", got)
	}

	// New sightings of the pinned title are critical too.
	tr.Observe("i2", item("i2", "Karambit | Fade", "910.00", 1), now)
	if got := tr.Priority("i2"); got != domain.PriorityCritical {
		t.Errorf("new sighting priority = %s, want critical", got)
	}

	// Accumulate churn on i1 while pinned, then unpin: it falls back to the
	// change-count rule, not blindly to normal.
	for i := 0; i < 3; i++ {
		tr.Observe("i1", item("i1", "Karambit | Fade", fmt.Sprintf("9%d0.00", i+2), 1), now)
	}
	tr.Unwhitelist("karambit | FADE")
	if got := tr.Priority("i1"); got != domain.PriorityHigh {
		t.Errorf("churning entity after unpin = %s, want high", got)
	}
	if got := tr.Priority("i2"); got != domain.PriorityNormal {
		t.Errorf("quiet entity after unpin = %s, want normal", got)
	}
}
