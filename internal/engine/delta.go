// Package engine implements the adaptive polling core: per-entity delta
// tracking, interval calculation from market volatility and activity, the
// polling loop itself, and the parallel multi-scope scanner.
package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// TrackerConfig bounds the delta tracker's memory and controls priority
// assignment.
type TrackerConfig struct {
	// MaxEntities caps tracked entities; the oldest-inserted are evicted
	// beyond this.
	MaxEntities int
	// MaxChangeLog caps the rolling change history.
	MaxChangeLog int
	// PromotionThreshold is the change count at which an entity is promoted
	// to high priority.
	PromotionThreshold int
	// Whitelist titles are pinned to critical priority. Matching is
	// case-insensitive.
	Whitelist []string
}

// DefaultTrackerConfig matches the documented defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxEntities:        5000,
		MaxChangeLog:       1000,
		PromotionThreshold: 3,
	}
}

// DeltaTracker holds the last-known market state per entity and turns each
// observed listing into a classified change event. State is bounded: when
// MaxEntities is exceeded the oldest-inserted entities are dropped, and the
// change log is a fixed-size rolling window.
type DeltaTracker struct {
	mu        sync.Mutex
	cfg       TrackerConfig
	prices    map[string]*domain.CachedPrice
	order     []string // insertion order, for eviction
	changeLog []domain.PriceChange
	whitelist map[string]struct{}
}

// NewDeltaTracker creates an empty tracker.
func NewDeltaTracker(cfg TrackerConfig) *DeltaTracker {
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = DefaultTrackerConfig().MaxEntities
	}
	if cfg.MaxChangeLog <= 0 {
		cfg.MaxChangeLog = DefaultTrackerConfig().MaxChangeLog
	}
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = DefaultTrackerConfig().PromotionThreshold
	}
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, t := range cfg.Whitelist {
		wl[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &DeltaTracker{
		cfg:       cfg,
		prices:    make(map[string]*domain.CachedPrice),
		whitelist: wl,
	}
}

// Observe compares one listing against the tracked state, updates the state,
// and returns the classified change. First sightings are new listings; a
// price move takes precedence over a quantity move when both happen at once.
func (t *DeltaTracker) Observe(entityID string, item domain.MarketItem, at time.Time) domain.PriceChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	change := domain.PriceChange{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Title:      item.Title,
		GameID:     item.GameID,
		NewPrice:   item.Price,
		NewQty:     item.Quantity,
		DetectedAt: at,
	}

	cached, seen := t.prices[entityID]
	if !seen {
		change.Kind = domain.ChangeNewListing
		t.prices[entityID] = &domain.CachedPrice{
			EntityID:  entityID,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			UpdatedAt: at,
			Priority:  t.priorityFor(item.Title, 0),
		}
		t.order = append(t.order, entityID)
		t.evictLocked()
		t.logLocked(change)
		return change
	}

	change.OldPrice = cached.Price
	change.OldQty = cached.Quantity

	switch {
	case !cached.Price.Equal(item.Price):
		change.Kind = domain.ChangePrice
		change.Percent = domain.PercentDelta(cached.Price, item.Price)
	case cached.Quantity != item.Quantity:
		change.Kind = domain.ChangeQuantity
	default:
		change.Kind = domain.ChangeNone
		cached.UpdatedAt = at
		return change
	}

	cached.Price = item.Price
	cached.Quantity = item.Quantity
	cached.UpdatedAt = at
	cached.ChangeCount++
	if item.Title != "" {
		cached.Title = item.Title
	}
	cached.Priority = t.priorityFor(cached.Title, cached.ChangeCount)

	t.logLocked(change)
	return change
}

// Get returns a copy of the tracked state for entityID.
func (t *DeltaTracker) Get(entityID string) (domain.CachedPrice, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.prices[entityID]
	if !ok {
		return domain.CachedPrice{}, false
	}
	return *p, true
}

// Priority returns the current polling priority for entityID. Untracked
// entities are normal.
func (t *DeltaTracker) Priority(entityID string) domain.Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.prices[entityID]; ok {
		return p.Priority
	}
	return domain.PriorityNormal
}

// Whitelist pins a title to critical priority at runtime. Matching is
// case-insensitive; already-tracked entities with the title are repinned
// immediately.
func (t *DeltaTracker) Whitelist(title string) {
	key := strings.ToLower(strings.TrimSpace(title))
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.whitelist[key] = struct{}{}
	for _, p := range t.prices {
		if strings.ToLower(strings.TrimSpace(p.Title)) == key {
			p.Priority = domain.PriorityCritical
		}
	}
}

// Unwhitelist removes a runtime pin. Tracked entities with the title fall
// back to the change-count rule.
func (t *DeltaTracker) Unwhitelist(title string) {
	key := strings.ToLower(strings.TrimSpace(title))
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.whitelist, key)
	for _, p := range t.prices {
		if strings.ToLower(strings.TrimSpace(p.Title)) == key {
			p.Priority = t.priorityFor(p.Title, p.ChangeCount)
		}
	}
}

// Len returns the number of tracked entities.
func (t *DeltaTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prices)
}

// RecentChanges returns up to n most recent logged changes, newest first.
func (t *DeltaTracker) RecentChanges(n int) []domain.PriceChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.changeLog) {
		n = len(t.changeLog)
	}
	out := make([]domain.PriceChange, n)
	for i := 0; i < n; i++ {
		out[i] = t.changeLog[len(t.changeLog)-1-i]
	}
	return out
}

// priorityFor resolves the priority tier for an entity: whitelist pins
// critical, sustained churn promotes to high, everything else is normal.
// Caller holds t.mu.
func (t *DeltaTracker) priorityFor(title string, changeCount int) domain.Priority {
	if _, ok := t.whitelist[strings.ToLower(strings.TrimSpace(title))]; ok {
		return domain.PriorityCritical
	}
	if changeCount >= t.cfg.PromotionThreshold {
		return domain.PriorityHigh
	}
	return domain.PriorityNormal
}

// evictLocked drops the oldest-inserted entities while over the cap. Caller
// holds t.mu.
func (t *DeltaTracker) evictLocked() {
	for len(t.prices) > t.cfg.MaxEntities && len(t.order) > 0 {
		victim := t.order[0]
		t.order = t.order[1:]
		delete(t.prices, victim)
	}
}

// logLocked appends a change to the rolling log, discarding no-change events
// and trimming the oldest entries past the cap. Caller holds t.mu.
func (t *DeltaTracker) logLocked(c domain.PriceChange) {
	if c.Kind == domain.ChangeNone {
		return
	}
	t.changeLog = append(t.changeLog, c)
	if over := len(t.changeLog) - t.cfg.MaxChangeLog; over > 0 {
		t.changeLog = t.changeLog[over:]
	}
}
