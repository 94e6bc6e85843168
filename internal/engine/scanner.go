package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/platform/dmarket"
)

// Scope identifies one scan unit: a game, optionally narrowed to a price
// tier in minor units.
type Scope struct {
	GameID string
	// Tier bounds are minor-unit prices; zero means unbounded.
	PriceFrom int
	PriceTo   int
	Label     string
}

func (s Scope) String() string {
	if s.Label != "" {
		return s.Label
	}
	return s.GameID
}

// ScanResult is the per-scope outcome of a scan. A failed scope carries its
// error and an empty item list; it never aborts the batch.
type ScanResult struct {
	Scope Scope
	Items []domain.MarketItem
	Err   error
}

// Scanner fans out market fetches over many scopes at once under a shared
// concurrency bound, isolating per-scope failures.
type Scanner struct {
	fetcher       MarketFetcher
	itemsPerScope int
	sem           chan struct{}
	log           *slog.Logger
}

// NewScanner creates a scanner with the given concurrency bound.
func NewScanner(fetcher MarketFetcher, itemsPerScope, maxConcurrent int, log *slog.Logger) *Scanner {
	if itemsPerScope <= 0 {
		itemsPerScope = 100
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{
		fetcher:       fetcher,
		itemsPerScope: itemsPerScope,
		sem:           make(chan struct{}, maxConcurrent),
		log:           log.With(slog.String("component", "scanner")),
	}
}

// Scopes builds the cross-product of games and tiers. An empty tier list
// yields one unbounded scope per game.
func Scopes(games []string, tiers []Scope) []Scope {
	if len(tiers) == 0 {
		out := make([]Scope, len(games))
		for i, g := range games {
			out[i] = Scope{GameID: g}
		}
		return out
	}
	var out []Scope
	for _, g := range games {
		for _, t := range tiers {
			out = append(out, Scope{
				GameID:    g,
				PriceFrom: t.PriceFrom,
				PriceTo:   t.PriceTo,
				Label:     g + "/" + t.Label,
			})
		}
	}
	return out
}

// ScanMany scans every scope concurrently and returns one result per scope,
// in scope order. Individual failures are recorded on their result and
// logged; the batch always completes.
func (s *Scanner) ScanMany(ctx context.Context, scopes []Scope) []ScanResult {
	results := make([]ScanResult, len(scopes))

	var wg sync.WaitGroup
	for i, scope := range scopes {
		wg.Add(1)
		go func(i int, scope Scope) {
			defer wg.Done()
			items, err := s.scanOne(ctx, scope)
			results[i] = ScanResult{Scope: scope, Items: items, Err: err}
			if err != nil {
				s.log.Error("scope scan failed",
					slog.String("scope", scope.String()),
					slog.String("error", err.Error()))
			}
		}(i, scope)
	}
	wg.Wait()

	total := 0
	failed := 0
	for _, r := range results {
		total += len(r.Items)
		if r.Err != nil {
			failed++
		}
	}
	s.log.Info("scan batch complete",
		slog.Int("scopes", len(scopes)),
		slog.Int("failed", failed),
		slog.Int("items", total))
	return results
}

func (s *Scanner) scanOne(ctx context.Context, scope Scope) ([]domain.MarketItem, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	page, err := s.fetcher.GetMarketItems(ctx, dmarket.MarketQuery{
		GameID:    scope.GameID,
		Limit:     s.itemsPerScope,
		PriceFrom: scope.PriceFrom,
		PriceTo:   scope.PriceTo,
		OrderBy:   "updated",
		OrderDir:  "desc",
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}
