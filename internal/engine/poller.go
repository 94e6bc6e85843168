package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/platform/dmarket"
)

// PollerState is the lifecycle state of a Poller.
type PollerState int32

const (
	StateStopped PollerState = iota
	StateRunning
	StateStopping
)

func (s PollerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// changesChannel is the pub/sub channel and stream name used for detected
// changes when a signal bus is wired.
const changesChannel = "market:changes"

// MarketFetcher is the slice of the API client the poller needs.
type MarketFetcher interface {
	GetMarketItems(ctx context.Context, q dmarket.MarketQuery) (dmarket.MarketPage, error)
}

// ChangeCallback receives one detected change. Callbacks run on the polling
// goroutine; panics are caught and logged, never propagated.
type ChangeCallback func(ctx context.Context, change domain.PriceChange)

// PollerConfig holds the polling loop parameters.
type PollerConfig struct {
	// Games are the scopes polled each cycle, in configured order.
	Games         []string
	ItemsPerBatch int
	MaxConcurrent int
	// SignificanceThreshold is the minimum |Δ%| for a price change to be
	// surfaced; smaller moves are downgraded to no-change.
	SignificanceThreshold decimal.Decimal
}

// Poller is the long-running polling loop. One goroutine owns the loop;
// Start is idempotent and Stop is safe to call repeatedly. Per cycle it
// fans out over the configured games under a shared semaphore, feeds the
// batches through the delta tracker, emits significant changes to callbacks
// and the optional sinks, and sleeps for the adaptively computed interval.
type Poller struct {
	cfg      PollerConfig
	fetcher  MarketFetcher
	tracker  *DeltaTracker
	interval *IntervalCalculator
	log      *slog.Logger

	// Optional sinks.
	priceCache domain.LatestPriceCache
	bus        domain.SignalBus

	cbMu      sync.Mutex
	callbacks []ChangeCallback

	state atomic.Int32

	// lifeMu serialises Start and Stop; cancel and done are only touched
	// while it is held.
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	sem chan struct{}

	pollCount   atomic.Int64
	changeCount atomic.Int64
	errorCount  atomic.Int64
	lastPoll    atomic.Int64 // unix nanos
}

// NewPoller wires a polling loop. priceCache and bus may be nil.
func NewPoller(cfg PollerConfig, fetcher MarketFetcher, tracker *DeltaTracker, interval *IntervalCalculator, priceCache domain.LatestPriceCache, bus domain.SignalBus, log *slog.Logger) *Poller {
	if cfg.ItemsPerBatch <= 0 {
		cfg.ItemsPerBatch = 100
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.SignificanceThreshold.IsZero() {
		cfg.SignificanceThreshold = domain.DefaultSignificanceThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		cfg:        cfg,
		fetcher:    fetcher,
		tracker:    tracker,
		interval:   interval,
		priceCache: priceCache,
		bus:        bus,
		log:        log.With(slog.String("component", "poller")),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
	}
}

// OnChange registers a callback for significant changes.
func (p *Poller) OnChange(cb ChangeCallback) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// State returns the current lifecycle state.
func (p *Poller) State() PollerState {
	return PollerState(p.state.Load())
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	return p.State() == StateRunning
}

// Start launches the polling loop. Calling Start while the loop is already
// running logs a warning and does nothing.
func (p *Poller) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.State() != StateStopped {
		p.log.Warn("start ignored, poller already running", slog.String("state", p.State().String()))
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state.Store(int32(StateRunning))

	p.log.Info("polling loop starting",
		slog.Any("games", p.cfg.Games),
		slog.Int("items_per_batch", p.cfg.ItemsPerBatch),
		slog.Int("max_concurrent", p.cfg.MaxConcurrent))

	go p.run(loopCtx)
	return nil
}

// Stop requests cancellation and waits for the loop goroutine to exit. It is
// safe to call from multiple goroutines and when the loop is not running.
func (p *Poller) Stop() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	p.log.Info("polling loop stopping")
	p.cancel()
	<-p.done
	p.state.Store(int32(StateStopped))
	p.log.Info("polling loop stopped")
}

// run is the loop body. It owns the done channel and always closes it on
// exit so Stop never hangs.
func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	for {
		p.pollAll(ctx)

		next := p.interval.Next()
		p.log.Debug("cycle complete",
			slog.Duration("next_interval", next),
			slog.Int64("polls", p.pollCount.Load()),
			slog.Int64("changes", p.changeCount.Load()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

// pollAll runs one cycle across every configured game. Scope order follows
// the configured list; a failing scope contributes zero changes and the
// cycle moves on.
func (p *Poller) pollAll(ctx context.Context) {
	for _, game := range p.cfg.Games {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.pollScope(ctx, game); err != nil {
			p.errorCount.Add(1)
			p.log.Error("scope poll failed, continuing",
				slog.String("game", game),
				slog.String("error", err.Error()))
		}
	}
	p.lastPoll.Store(time.Now().UnixNano())
}

// pollScope fetches one batch for a game, diffs it, and emits significant
// changes. It returns the number of significant changes detected.
func (p *Poller) pollScope(ctx context.Context, game string) (int, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	p.pollCount.Add(1)

	page, err := p.fetcher.GetMarketItems(ctx, dmarket.MarketQuery{
		GameID:   game,
		Limit:    p.cfg.ItemsPerBatch,
		OrderBy:  "updated",
		OrderDir: "desc",
	})
	if err != nil {
		p.interval.RecordCycle(domain.MarketSnapshot{Timestamp: time.Now()}, false)
		return 0, fmt.Errorf("engine: poll %s: %w", game, err)
	}

	now := time.Now().UTC()
	significant := 0
	skipped := 0
	hottest := domain.PriorityLow
	for _, item := range page.Items {
		key, ok := EntityKey(item)
		if !ok {
			skipped++
			continue
		}
		change := p.tracker.Observe(key, item, now)
		if change.Kind == domain.ChangeNone {
			continue
		}
		if !change.IsSignificant(p.cfg.SignificanceThreshold) {
			continue
		}
		significant++
		if pr := p.tracker.Priority(key); pr < hottest {
			hottest = pr
		}
		p.emit(ctx, change)
	}

	p.changeCount.Add(int64(significant))
	if significant > 0 {
		p.interval.RecordPriority(hottest)
	} else {
		p.interval.RecordPriority(domain.PriorityNormal)
	}
	p.interval.RecordCycle(domain.NewMarketSnapshot(page.Items, now), significant > 0)

	if skipped > 0 {
		p.log.Debug("skipped items without identity", slog.String("game", game), slog.Int("count", skipped))
	}
	return significant, nil
}

// ForcePoll runs a single synchronous cycle for one game outside the loop's
// schedule. Used by ops tooling; safe whether or not the loop is running.
func (p *Poller) ForcePoll(ctx context.Context, game string) (int, error) {
	return p.pollScope(ctx, game)
}

// emit fans one change out to the registered callbacks and optional sinks.
// Consumer failures are logged and isolated.
func (p *Poller) emit(ctx context.Context, change domain.PriceChange) {
	p.cbMu.Lock()
	cbs := make([]ChangeCallback, len(p.callbacks))
	copy(cbs, p.callbacks)
	p.cbMu.Unlock()

	for _, cb := range cbs {
		p.safeInvoke(ctx, cb, change)
	}

	if p.priceCache != nil {
		if err := p.priceCache.SetPrice(ctx, change.EntityID, change.NewPrice, change.DetectedAt); err != nil {
			p.log.Warn("price cache update failed", slog.String("entity", change.EntityID), slog.String("error", err.Error()))
		}
	}
	if p.bus != nil {
		payload, err := json.Marshal(change)
		if err != nil {
			p.log.Warn("change encode failed", slog.String("error", err.Error()))
			return
		}
		if err := p.bus.Publish(ctx, changesChannel, payload); err != nil {
			p.log.Warn("change publish failed", slog.String("error", err.Error()))
		}
		if err := p.bus.StreamAppend(ctx, changesChannel, payload); err != nil {
			p.log.Warn("change stream append failed", slog.String("error", err.Error()))
		}
	}
}

func (p *Poller) safeInvoke(ctx context.Context, cb ChangeCallback, change domain.PriceChange) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("change callback panicked",
				slog.String("entity", change.EntityID),
				slog.Any("panic", r))
		}
	}()
	cb(ctx, change)
}

// PollerStats is a read-only snapshot for dashboards.
type PollerStats struct {
	State           string        `json:"state"`
	PollCount       int64         `json:"poll_count"`
	ChangeCount     int64         `json:"change_count"`
	ErrorCount      int64         `json:"error_count"`
	TrackedEntities int           `json:"tracked_entities"`
	LastPoll        time.Time     `json:"last_poll"`
	NextInterval    time.Duration `json:"next_interval"`
	Volatility      float64       `json:"volatility"`
	Activity        string        `json:"activity"`
}

// Stats returns the current counters.
func (p *Poller) Stats() PollerStats {
	var last time.Time
	if ns := p.lastPoll.Load(); ns > 0 {
		last = time.Unix(0, ns).UTC()
	}
	return PollerStats{
		State:           p.State().String(),
		PollCount:       p.pollCount.Load(),
		ChangeCount:     p.changeCount.Load(),
		ErrorCount:      p.errorCount.Load(),
		TrackedEntities: p.tracker.Len(),
		LastPoll:        last,
		NextInterval:    p.interval.Next(),
		Volatility:      p.interval.Volatility(),
		Activity:        string(p.interval.Activity()),
	}
}

// EntityKey resolves the stable identity for a listing: item ID (itself
// falling back to linkId at the wire layer), then a lowercased title slug.
// Items with neither are not trackable.
func EntityKey(item domain.MarketItem) (string, bool) {
	if item.ItemID != "" {
		return item.ItemID, true
	}
	if item.Title != "" {
		return "title:" + strings.ToLower(item.Title), true
	}
	return "", false
}
