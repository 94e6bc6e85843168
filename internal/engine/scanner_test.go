package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/platform/dmarket"
)

func TestScanManyPartialFailureIsolation(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{"dota2": errors.New("boom")}}
	f.setPage("csgo", []domain.MarketItem{item("i1", "AK-47", "10.00", 5)})

	s := NewScanner(f, 10, 2, nil)
	results := s.ScanMany(context.Background(), Scopes([]string{"csgo", "dota2"}, nil))

	if len(results) != 2 {
		t.Fatalf("got %d results, want one per scope", len(results))
	}
	if results[0].Scope.GameID != "csgo" || results[1].Scope.GameID != "dota2" {
		t.Fatal("results not in scope order")
	}
	if results[0].Err != nil || len(results[0].Items) != 1 {
		t.Errorf("csgo result = %d items, err %v; want 1 item, no error", len(results[0].Items), results[0].Err)
	}
	if results[1].Err == nil || len(results[1].Items) != 0 {
		t.Errorf("dota2 result = %d items, err %v; want empty with recorded error", len(results[1].Items), results[1].Err)
	}
}

func TestScanManyRespectsConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	f := &countingFetcher{inFlight: &inFlight, peak: &peak}
	s := NewScanner(f, 10, 2, nil)

	scopes := Scopes([]string{"g1", "g2", "g3", "g4", "g5", "g6"}, nil)
	s.ScanMany(context.Background(), scopes)

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency %d exceeded bound 2", p)
	}
}

// countingFetcher tracks the high-water mark of concurrent calls.
type countingFetcher struct {
	inFlight *atomic.Int32
	peak     *atomic.Int32
}

func (f *countingFetcher) GetMarketItems(ctx context.Context, q dmarket.MarketQuery) (dmarket.MarketPage, error) {
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer f.inFlight.Add(-1)
	return dmarket.MarketPage{}, nil
}

func TestScopesCrossProduct(t *testing.T) {
	tiers := []Scope{
		{PriceTo: 1000, Label: "budget"},
		{PriceFrom: 1000, Label: "premium"},
	}
	scopes := Scopes([]string{"csgo", "dota2"}, tiers)
	if len(scopes) != 4 {
		t.Fatalf("got %d scopes, want 4", len(scopes))
	}
	if scopes[0].Label != "csgo/budget" || scopes[3].Label != "dota2/premium" {
		t.Errorf("unexpected scope labels: %q, %q", scopes[0].Label, scopes[3].Label)
	}
	if scopes[1].PriceFrom != 1000 {
		t.Errorf("tier bounds not carried into scope: %+v", scopes[1])
	}
}
