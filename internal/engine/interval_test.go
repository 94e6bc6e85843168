package engine

import (
	"testing"
	"time"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// Mon 2025-06-02 is a weekday.
var (
	weekdayNoon  = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	weekdayPeak  = time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
	weekdayNight = time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	weekendNoon  = time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)
)

func newTestCalc(at time.Time) *IntervalCalculator {
	ic := NewIntervalCalculator(DefaultIntervalConfig())
	ic.now = func() time.Time { return at }
	return ic
}

func snap(mean string, count int) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Timestamp: time.Now(),
		MeanPrice: usd(mean),
		ItemCount: count,
	}
}

func TestActivityLevels(t *testing.T) {
	cases := []struct {
		at   time.Time
		want ActivityLevel
	}{
		{weekdayNoon, ActivityNormal},
		{weekdayPeak, ActivityPeak},
		{weekdayNight, ActivityMinimal},
		{weekendNoon, ActivityLow},
		// Late night wins over the weekend flag.
		{time.Date(2025, 6, 7, 2, 0, 0, 0, time.UTC), ActivityMinimal},
	}
	for _, tc := range cases {
		ic := newTestCalc(tc.at)
		if got := ic.Activity(); got != tc.want {
			t.Errorf("at %v: activity = %s, want %s", tc.at, got, tc.want)
		}
	}
}

func TestNeutralVolatilityWithFewSnapshots(t *testing.T) {
	ic := newTestCalc(weekdayNoon)
	if got := ic.Volatility(); got != 0.5 {
		t.Errorf("empty window volatility = %v, want neutral 0.5", got)
	}
	ic.RecordCycle(snap("10.00", 5), false)
	ic.RecordCycle(snap("20.00", 5), false)
	if got := ic.Volatility(); got != 0.5 {
		t.Errorf("2-snapshot volatility = %v, want neutral 0.5", got)
	}
}

func TestVolatilityStableMarketIsZero(t *testing.T) {
	ic := newTestCalc(weekdayNoon)
	for i := 0; i < 5; i++ {
		ic.RecordCycle(snap("10.00", 5), false)
	}
	if got := ic.Volatility(); got != 0 {
		t.Errorf("flat-price volatility = %v, want 0", got)
	}
}

func TestVolatilityClampedToOne(t *testing.T) {
	ic := newTestCalc(weekdayNoon)
	for _, m := range []string{"1.00", "100.00", "1.00", "100.00"} {
		ic.RecordCycle(snap(m, 5), false)
	}
	if got := ic.Volatility(); got != 1 {
		t.Errorf("wild-swing volatility = %v, want clamped to 1", got)
	}
}

func TestNextClampedToBounds(t *testing.T) {
	cfg := DefaultIntervalConfig()
	cfg.BaseInterval = 30 * time.Second
	cfg.MinInterval = 25 * time.Second
	cfg.MaxInterval = 35 * time.Second

	// Peak (x0.5) with a stable market would undershoot the floor.
	ic := NewIntervalCalculator(cfg)
	ic.now = func() time.Time { return weekdayPeak }
	for i := 0; i < 5; i++ {
		ic.RecordCycle(snap("10.00", 5), false)
	}
	if got := ic.Next(); got != cfg.MinInterval {
		t.Errorf("peak interval = %v, want clamped to min %v", got, cfg.MinInterval)
	}

	// Minimal hours (x2.5) would overshoot the ceiling.
	ic = NewIntervalCalculator(cfg)
	ic.now = func() time.Time { return weekdayNight }
	for i := 0; i < 5; i++ {
		ic.RecordCycle(snap("10.00", 5), false)
	}
	if got := ic.Next(); got != cfg.MaxInterval {
		t.Errorf("minimal interval = %v, want clamped to max %v", got, cfg.MaxInterval)
	}
}

func TestNextChangeRateTightens(t *testing.T) {
	base := newTestCalc(weekdayNoon)
	hot := newTestCalc(weekdayNoon)
	for i := 0; i < 10; i++ {
		base.RecordCycle(snap("10.00", 5), false)
		hot.RecordCycle(snap("10.00", 5), i < 5) // 50% change rate
	}
	if b, h := base.Next(), hot.Next(); h >= b {
		t.Errorf("hot interval %v not tighter than calm interval %v", h, b)
	}
}

func TestNextEmptyBatchFallback(t *testing.T) {
	cfg := DefaultIntervalConfig()
	ic := NewIntervalCalculator(cfg)
	ic.now = func() time.Time { return weekdayNight } // would otherwise be x2.5

	for i := 0; i < 5; i++ {
		ic.RecordCycle(snap("10.00", 5), false)
	}
	ic.RecordCycle(domain.MarketSnapshot{Timestamp: time.Now()}, false)
	if got := ic.Next(); got != cfg.EmptyBatchInterval {
		t.Errorf("empty-batch interval = %v, want fallback %v", got, cfg.EmptyBatchInterval)
	}

	// A following non-empty batch restores adaptive behaviour.
	ic.RecordCycle(snap("10.00", 5), false)
	if got := ic.Next(); got == cfg.EmptyBatchInterval {
		t.Error("interval stuck at empty-batch fallback after non-empty cycle")
	}
}

func TestNextPriorityBias(t *testing.T) {
	ic := newTestCalc(weekdayNoon)
	for i := 0; i < 5; i++ {
		ic.RecordCycle(snap("10.00", 5), false)
	}
	base := ic.Next() // normal tier by default

	ic.RecordPriority(domain.PriorityCritical)
	tight := ic.Next()
	if tight >= base {
		t.Fatalf("critical interval %v not tighter than normal %v", tight, base)
	}
	if tight*4 != base {
		t.Errorf("critical interval = %v, want quarter of %v", tight, base)
	}

	ic.RecordPriority(domain.PriorityLow)
	if got := ic.Next(); got <= base {
		t.Errorf("low-tier interval %v not stretched past %v", got, base)
	}

	// A quiet cycle resets the bias.
	ic.RecordPriority(domain.PriorityNormal)
	if got := ic.Next(); got != base {
		t.Errorf("normal-tier interval = %v, want %v", got, base)
	}
}

func TestPriorityMultiplierMissingTierIsNeutral(t *testing.T) {
	cfg := DefaultIntervalConfig()
	cfg.PriorityMultipliers = nil
	ic := NewIntervalCalculator(cfg)
	ic.now = func() time.Time { return weekdayNoon }
	for i := 0; i < 5; i++ {
		ic.RecordCycle(snap("10.00", 5), false)
	}

	base := ic.Next()
	ic.RecordPriority(domain.PriorityCritical)
	if got := ic.Next(); got != base {
		t.Errorf("interval with no multiplier table = %v, want unbiased %v", got, base)
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	if got := coefficientOfVariation(nil); got != 0 {
		t.Errorf("cv(nil) = %v, want 0", got)
	}
	if got := coefficientOfVariation([]float64{5, 5, 5}); got != 0 {
		t.Errorf("cv(flat) = %v, want 0", got)
	}
	got := coefficientOfVariation([]float64{10, 20})
	// mean 15, stdev 5, cv 1/3.
	if got < 0.333 || got > 0.334 {
		t.Errorf("cv(10,20) = %v, want ~0.3333", got)
	}
}
