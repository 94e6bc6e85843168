package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/platform/dmarket"
)

// fakeFetcher serves scripted pages per game and records the queries it saw.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string][]domain.MarketItem
	errs    map[string]error
	queries []dmarket.MarketQuery
}

func (f *fakeFetcher) GetMarketItems(ctx context.Context, q dmarket.MarketQuery) (dmarket.MarketPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.errs[q.GameID]; err != nil {
		return dmarket.MarketPage{}, err
	}
	return dmarket.MarketPage{Items: f.pages[q.GameID]}, nil
}

func (f *fakeFetcher) setPage(game string, items []domain.MarketItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages == nil {
		f.pages = map[string][]domain.MarketItem{}
	}
	f.pages[game] = items
}

func newTestPoller(f *fakeFetcher, games ...string) *Poller {
	return NewPoller(
		PollerConfig{Games: games, ItemsPerBatch: 10, MaxConcurrent: 2},
		f,
		NewDeltaTracker(DefaultTrackerConfig()),
		NewIntervalCalculator(DefaultIntervalConfig()),
		nil, nil, nil,
	)
}

func TestForcePollLifecycleOfOneEntity(t *testing.T) {
	f := &fakeFetcher{}
	p := newTestPoller(f, "a8db")

	var mu sync.Mutex
	var events []domain.PriceChange
	p.OnChange(func(ctx context.Context, c domain.PriceChange) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, c)
	})

	ctx := context.Background()

	// Cycle 1: unseen item is a new listing.
	f.setPage("a8db", []domain.MarketItem{item("i1", "AK-47", "10.00", 5)})
	if n, err := p.ForcePoll(ctx, "a8db"); err != nil || n != 1 {
		t.Fatalf("cycle 1: n=%d err=%v, want 1 significant change", n, err)
	}

	// Cycle 2: identical batch, nothing emitted.
	if n, err := p.ForcePoll(ctx, "a8db"); err != nil || n != 0 {
		t.Fatalf("cycle 2: n=%d err=%v, want 0", n, err)
	}

	// Cycle 3: +10% price move is significant.
	f.setPage("a8db", []domain.MarketItem{item("i1", "AK-47", "11.00", 5)})
	if n, err := p.ForcePoll(ctx, "a8db"); err != nil || n != 1 {
		t.Fatalf("cycle 3: n=%d err=%v, want 1", n, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != domain.ChangeNewListing {
		t.Errorf("event 0 kind = %s, want new_listing", events[0].Kind)
	}
	if events[1].Kind != domain.ChangePrice || events[1].Percent.StringFixed(1) != "10.0" {
		t.Errorf("event 1 = %s %s%%, want price_change 10.0%%", events[1].Kind, events[1].Percent)
	}
}

func TestSignificanceThresholdBoundary(t *testing.T) {
	f := &fakeFetcher{}
	p := newTestPoller(f, "a8db")
	ctx := context.Background()

	f.setPage("a8db", []domain.MarketItem{item("i1", "AK-47", "10.00", 5)})
	p.ForcePoll(ctx, "a8db")

	// +0.999% stays below the 1.0% threshold.
	f.setPage("a8db", []domain.MarketItem{item("i1", "AK-47", "10.0999", 5)})
	if n, _ := p.ForcePoll(ctx, "a8db"); n != 0 {
		t.Errorf("sub-threshold move surfaced %d changes, want 0", n)
	}

	// The tracker still advanced its baseline; exactly +1.0% from there is
	// significant (boundary is inclusive).
	f.setPage("a8db", []domain.MarketItem{item("i1", "AK-47", "10.200899", 5)})
	if n, _ := p.ForcePoll(ctx, "a8db"); n != 1 {
		t.Errorf("threshold-equal move surfaced %d changes, want 1", n)
	}
}

func TestItemsWithoutIdentityAreSkipped(t *testing.T) {
	f := &fakeFetcher{}
	p := newTestPoller(f, "a8db")

	f.setPage("a8db", []domain.MarketItem{
		{GameID: "a8db", Price: usd("1.00"), Quantity: 1}, // no id, no title
		item("", "Fallback Title", "2.00", 1),             // keyed by title
	})
	n, err := p.ForcePoll(context.Background(), "a8db")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1 (identity-less item skipped)", n)
	}
	if _, ok := p.tracker.Get("title:fallback title"); !ok {
		t.Error("title-keyed entity not tracked")
	}
}

func TestCallbackPanicIsolated(t *testing.T) {
	f := &fakeFetcher{}
	p := newTestPoller(f, "a8db")
	p.OnChange(func(ctx context.Context, c domain.PriceChange) {
		panic("consumer bug")
	})
	var got []domain.PriceChange
	p.OnChange(func(ctx context.Context, c domain.PriceChange) {
		got = append(got, c)
	})

	f.setPage("a8db", []domain.MarketItem{item("i1", "AK-47", "10.00", 5)})
	if n, err := p.ForcePoll(context.Background(), "a8db"); err != nil || n != 1 {
		t.Fatalf("n=%d err=%v, want poll to survive the panic", n, err)
	}
	if len(got) != 1 {
		t.Errorf("second callback got %d events, want 1", len(got))
	}
}

func TestScopeFailureIsIsolated(t *testing.T) {
	f := &fakeFetcher{
		errs: map[string]error{"dota2": errors.New("upstream down")},
	}
	f.setPage("csgo", []domain.MarketItem{item("i1", "AK-47", "10.00", 5)})
	p := newTestPoller(f, "csgo", "dota2")

	p.pollAll(context.Background())

	s := p.Stats()
	if s.ChangeCount != 1 {
		t.Errorf("change count = %d, want 1 from the healthy scope", s.ChangeCount)
	}
	if s.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1 from the failing scope", s.ErrorCount)
	}
}

func TestStartIdempotentStopSafe(t *testing.T) {
	f := &fakeFetcher{}
	f.setPage("a8db", nil)
	p := newTestPoller(f, "a8db")

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatal("second Start should be a logged no-op, not an error")
	}
	if !p.Running() {
		t.Fatal("poller should be running")
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop() // repeated stop must not panic or hang
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	if p.State() != StateStopped {
		t.Errorf("state = %s, want stopped", p.State())
	}

	// The loop can be started again after a full stop.
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	p.Stop()
}

func TestConcurrentStartStop(t *testing.T) {
	f := &fakeFetcher{}
	f.setPage("a8db", nil)
	p := newTestPoller(f, "a8db")

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = p.Start(ctx)
				p.Stop()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent start/stop did not finish")
	}
	p.Stop()
	if p.State() != StateStopped {
		t.Errorf("state = %s, want stopped", p.State())
	}
}

func TestWhitelistedChangeTightensInterval(t *testing.T) {
	run := func(whitelist []string) time.Duration {
		t.Helper()
		f := &fakeFetcher{}
		f.setPage("a8db", []domain.MarketItem{item("i1", "AK-47 | Redline", "10.00", 5)})
		tr := NewDeltaTracker(TrackerConfig{Whitelist: whitelist})
		ic := NewIntervalCalculator(DefaultIntervalConfig())
		ic.now = func() time.Time { return weekdayNoon }
		p := NewPoller(
			PollerConfig{Games: []string{"a8db"}, ItemsPerBatch: 10, MaxConcurrent: 1},
			f, tr, ic, nil, nil, nil,
		)
		if _, err := p.ForcePoll(context.Background(), "a8db"); err != nil {
			t.Fatal(err)
		}
		return ic.Next()
	}

	pinned := run([]string{"AK-47 | Redline"})
	plain := run(nil)
	if pinned >= plain {
		t.Errorf("whitelisted interval %v not tighter than plain %v", pinned, plain)
	}
}
