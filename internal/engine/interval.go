package engine

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// ActivityLevel classifies the current market period.
type ActivityLevel string

const (
	ActivityPeak    ActivityLevel = "peak"
	ActivityNormal  ActivityLevel = "normal"
	ActivityLow     ActivityLevel = "low"
	ActivityMinimal ActivityLevel = "minimal"
)

// neutralVolatility is returned while the snapshot window is too small for a
// meaningful estimate.
const neutralVolatility = 0.5

// IntervalConfig holds the tunables for the adaptive interval calculator.
// All of these are heuristics; none are load-bearing for correctness.
type IntervalConfig struct {
	BaseInterval       time.Duration
	MinInterval        time.Duration
	MaxInterval        time.Duration
	EmptyBatchInterval time.Duration
	// PeakHours are UTC hours treated as peak activity.
	PeakHours []int
	// ActivityMultipliers maps activity level names to interval multipliers.
	ActivityMultipliers map[string]float64
	// PriorityMultipliers maps priority tier names to interval multipliers.
	// The hottest tier among the last cycle's changed entities biases the
	// next interval, so whitelisted and churning items are revisited sooner.
	PriorityMultipliers map[string]float64
	// ChangeRateTighten scales the activity multiplier down when the recent
	// change rate exceeds ChangeRateTrigger.
	ChangeRateTighten float64
	ChangeRateTrigger float64
	// VolatilityWindow is the snapshot ring-buffer size.
	VolatilityWindow int
}

// DefaultIntervalConfig matches the documented defaults.
func DefaultIntervalConfig() IntervalConfig {
	return IntervalConfig{
		BaseInterval:       30 * time.Second,
		MinInterval:        10 * time.Second,
		MaxInterval:        5 * time.Minute,
		EmptyBatchInterval: 60 * time.Second,
		PeakHours:          []int{17, 18, 19, 20, 21, 22},
		ActivityMultipliers: map[string]float64{
			string(ActivityPeak):    0.5,
			string(ActivityNormal):  1.0,
			string(ActivityLow):     1.5,
			string(ActivityMinimal): 2.5,
		},
		PriorityMultipliers: map[string]float64{
			domain.PriorityCritical.String(): 0.25,
			domain.PriorityHigh.String():     0.5,
			domain.PriorityNormal.String():   1.0,
			domain.PriorityLow.String():      2.0,
		},
		ChangeRateTighten: 0.7,
		ChangeRateTrigger: 0.1,
		VolatilityWindow:  20,
	}
}

// IntervalCalculator turns recent market signals (snapshot volatility,
// time of day, detected-change rate) into the next polling interval, always
// clamped to [MinInterval, MaxInterval].
type IntervalCalculator struct {
	mu        sync.Mutex
	cfg       IntervalConfig
	peak      map[int]bool
	snapshots []domain.MarketSnapshot // ring buffer, oldest first
	polls     int
	changes   int
	lastEmpty bool
	priority  domain.Priority
	now       func() time.Time
}

// NewIntervalCalculator creates a calculator with an empty snapshot window.
func NewIntervalCalculator(cfg IntervalConfig) *IntervalCalculator {
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = DefaultIntervalConfig().VolatilityWindow
	}
	if cfg.EmptyBatchInterval <= 0 {
		cfg.EmptyBatchInterval = DefaultIntervalConfig().EmptyBatchInterval
	}
	peak := make(map[int]bool, len(cfg.PeakHours))
	for _, h := range cfg.PeakHours {
		peak[h] = true
	}
	return &IntervalCalculator{
		cfg:      cfg,
		peak:     peak,
		priority: domain.PriorityNormal,
		now:      time.Now,
	}
}

// RecordPriority notes the hottest priority tier among the entities that
// changed in the last cycle. The tier's configured multiplier biases the next
// interval; cycles without significant changes reset it to normal.
func (ic *IntervalCalculator) RecordPriority(p domain.Priority) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.priority = p
}

// RecordCycle feeds one completed polling cycle into the calculator: the
// batch snapshot for volatility estimation and whether the cycle detected any
// change for the change-rate signal.
func (ic *IntervalCalculator) RecordCycle(snap domain.MarketSnapshot, changed bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	ic.lastEmpty = snap.ItemCount == 0
	if !ic.lastEmpty {
		ic.snapshots = append(ic.snapshots, snap)
		if len(ic.snapshots) > ic.cfg.VolatilityWindow {
			ic.snapshots = ic.snapshots[1:]
		}
	}

	ic.polls++
	if changed {
		ic.changes++
	}
}

// Next computes the next polling interval. An empty last batch collapses to
// the fixed empty-batch fallback so the loop re-checks soon instead of
// inheriting a long idle interval.
func (ic *IntervalCalculator) Next() time.Duration {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	if ic.lastEmpty {
		return ic.clamp(ic.cfg.EmptyBatchInterval)
	}

	mult := ic.activityMultiplierLocked(ic.now().UTC())

	if ic.polls > 0 {
		rate := float64(ic.changes) / float64(ic.polls)
		if rate > ic.cfg.ChangeRateTrigger {
			mult *= ic.cfg.ChangeRateTighten
		}
	}

	// Volatile markets shorten the interval, calm ones stretch it. The
	// neutral score of 0.5 leaves the activity-derived interval untouched.
	vol := ic.volatilityLocked()
	mult *= 1.5 - vol

	mult *= ic.priorityMultiplierLocked()

	interval := time.Duration(float64(ic.cfg.BaseInterval) * mult)
	return ic.clamp(interval)
}

// priorityMultiplierLocked resolves the interval bias for the last cycle's
// hottest priority tier. Missing tiers are neutral. Caller holds ic.mu.
func (ic *IntervalCalculator) priorityMultiplierLocked() float64 {
	if m, ok := ic.cfg.PriorityMultipliers[ic.priority.String()]; ok && m > 0 {
		return m
	}
	return 1.0
}

// Volatility returns the current volatility score in [0,1] for
// observability.
func (ic *IntervalCalculator) Volatility() float64 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.volatilityLocked()
}

// Activity returns the current activity level for observability.
func (ic *IntervalCalculator) Activity() ActivityLevel {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.activityLevelLocked(ic.now().UTC())
}

// volatilityLocked estimates market volatility as the combined coefficient of
// variation of the mean-price and spread series, scaled and clamped to [0,1].
// Fewer than 3 snapshots yields the neutral default. Caller holds ic.mu.
func (ic *IntervalCalculator) volatilityLocked() float64 {
	if len(ic.snapshots) < 3 {
		return neutralVolatility
	}

	means := make([]float64, len(ic.snapshots))
	spreads := make([]float64, len(ic.snapshots))
	for i, s := range ic.snapshots {
		means[i] = decimalToFloat(s.MeanPrice)
		spreads[i] = decimalToFloat(s.Spread)
	}

	score := (coefficientOfVariation(means) + coefficientOfVariation(spreads)) * 10
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// activityLevelLocked buckets the wall clock into an activity level: late
// night (00:00-06:59 UTC) is minimal, configured peak hours are peak,
// weekends are low, the rest is normal. Caller holds ic.mu.
func (ic *IntervalCalculator) activityLevelLocked(t time.Time) ActivityLevel {
	hour := t.Hour()
	if hour >= 0 && hour < 7 {
		return ActivityMinimal
	}
	if ic.peak[hour] {
		return ActivityPeak
	}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return ActivityLow
	}
	return ActivityNormal
}

func (ic *IntervalCalculator) activityMultiplierLocked(t time.Time) float64 {
	level := ic.activityLevelLocked(t)
	if m, ok := ic.cfg.ActivityMultipliers[string(level)]; ok && m > 0 {
		return m
	}
	return 1.0
}

func (ic *IntervalCalculator) clamp(d time.Duration) time.Duration {
	if d < ic.cfg.MinInterval {
		return ic.cfg.MinInterval
	}
	if d > ic.cfg.MaxInterval {
		return ic.cfg.MaxInterval
	}
	return d
}

func coefficientOfVariation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	stdev := math.Sqrt(sq / float64(len(xs)))
	return math.Abs(stdev / mean)
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
