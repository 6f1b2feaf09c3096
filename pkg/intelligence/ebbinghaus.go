// Package intelligence provides the memory intelligence layer: retention
// management on a forgetting curve, fact extraction, ingest decisions,
// importance evaluation, and deduplication.
package intelligence

import (
	"math"
	"sort"
	"time"
)

// Memory type classifications, ordered by retention tier.
const (
	MemoryTypeWorking   = "working"
	MemoryTypeShortTerm = "short_term"
	MemoryTypeLongTerm  = "long_term"
)

const (
	// defaultDecayRate is -ln(0.44). Together with curveExponent the decay
	// of a fresh memory passes through the classical Ebbinghaus anchor
	// points: 44% retention after one hour, 33% after one day, ~25% after
	// six days.
	defaultDecayRate = 0.82098

	// curveExponent compresses elapsed hours so decay flattens with age.
	// Solved from the one-day anchor: 24^x = ln(0.33)/ln(0.44).
	curveExponent = 0.09453

	// defaultReinforcementFactor is how far one access moves retention
	// toward 1.0.
	defaultReinforcementFactor = 0.4

	// Classification thresholds and the floor below which a memory is
	// flagged for forgetting.
	defaultLongTermThreshold  = 0.8
	defaultShortTermThreshold = 0.6
	defaultForgetThreshold    = 0.2

	// defaultBaseRetention anchors initial retention; importance scales
	// the remaining headroom: initial = base + (1-base)*importance.
	defaultBaseRetention = 0.5

	// minRetention is the decay clamp floor.
	minRetention = 0.2
)

// defaultReviewOffsets is the spaced-repetition schedule relative to
// creation.
var defaultReviewOffsets = []time.Duration{
	1 * time.Hour,
	5 * time.Hour,
	24 * time.Hour,
	72 * time.Hour,
	168 * time.Hour,
}

// EbbinghausManager implements retention arithmetic on a stretched
// exponential forgetting curve.
//
// The curve is:
//
//	retention(h) = clamp(initial · exp(-decay_rate · h^curveExponent), 0.2, 1.0)
//
// where h is hours since the last review. A plain exponential cannot pass
// through both classical anchor points (44% at one hour, 33% at one day);
// the fractional exponent stretches the time axis so it does.
//
// All methods are pure functions of their arguments, so the manager is safe
// for concurrent use.
type EbbinghausManager struct {
	// decayRate is the base decay rate before type multipliers.
	decayRate float64

	// reinforcementFactor determines how much memories are strengthened
	// on access.
	reinforcementFactor float64

	// longTermThreshold and shortTermThreshold classify retention into
	// memory types; forgetThreshold flags memories for forgetting.
	longTermThreshold  float64
	shortTermThreshold float64
	forgetThreshold    float64

	// baseRetention anchors initial retention for new memories.
	baseRetention float64

	// reviewOffsets is the spaced-repetition schedule relative to
	// creation.
	reviewOffsets []time.Duration
}

// NewEbbinghausManager creates a manager with the given base decay rate and
// reinforcement factor. Zero values select the anchored defaults.
func NewEbbinghausManager(decayRate, reinforcementFactor float64) *EbbinghausManager {
	return NewEbbinghausManagerWithConfig(decayRate, reinforcementFactor, 0, 0, 0, 0, nil)
}

// NewEbbinghausManagerWithConfig creates a manager with full control over
// thresholds and the review schedule. Zero values select defaults.
//
// Parameters:
//   - decayRate: base decay rate (default -ln(0.44))
//   - reinforcementFactor: per-access strengthening (default 0.4)
//   - longTermThreshold: long-term classification bound (default 0.8)
//   - shortTermThreshold: short-term classification bound (default 0.6)
//   - forgetThreshold: forget flag bound (default 0.2)
//   - baseRetention: initial retention anchor (default 0.5)
//   - reviewOffsets: review schedule offsets (default 1h, 5h, 24h, 72h, 168h)
func NewEbbinghausManagerWithConfig(
	decayRate, reinforcementFactor float64,
	longTermThreshold, shortTermThreshold, forgetThreshold, baseRetention float64,
	reviewOffsets []time.Duration,
) *EbbinghausManager {
	if decayRate <= 0 {
		decayRate = defaultDecayRate
	}
	if reinforcementFactor <= 0 {
		reinforcementFactor = defaultReinforcementFactor
	}
	if longTermThreshold <= 0 {
		longTermThreshold = defaultLongTermThreshold
	}
	if shortTermThreshold <= 0 {
		shortTermThreshold = defaultShortTermThreshold
	}
	if forgetThreshold <= 0 {
		forgetThreshold = defaultForgetThreshold
	}
	if baseRetention <= 0 {
		baseRetention = defaultBaseRetention
	}
	if len(reviewOffsets) == 0 {
		reviewOffsets = defaultReviewOffsets
	}
	return &EbbinghausManager{
		decayRate:           decayRate,
		reinforcementFactor: reinforcementFactor,
		longTermThreshold:   longTermThreshold,
		shortTermThreshold:  shortTermThreshold,
		forgetThreshold:     forgetThreshold,
		baseRetention:       baseRetention,
		reviewOffsets:       reviewOffsets,
	}
}

// ReinforcementFactor returns the configured per-access strengthening.
func (m *EbbinghausManager) ReinforcementFactor() float64 {
	return m.reinforcementFactor
}

// InitialRetention computes the starting retention for a new memory:
//
//	initial = base + (1-base) · importance
//
// so a zero-importance memory starts at the base anchor and a maximally
// important one starts at 1.0.
func (m *EbbinghausManager) InitialRetention(importance float64) float64 {
	importance = clamp01(importance)
	return m.baseRetention + (1-m.baseRetention)*importance
}

// CalculateRetention computes the decayed retention of a memory.
//
// Parameters:
//   - initial: retention when the decay clock last reset
//   - decayRate: the memory's decay rate (type multiplier already applied)
//   - hoursElapsed: hours since the last review
//
// Returns retention clamped to [0.2, 1.0].
func (m *EbbinghausManager) CalculateRetention(initial, decayRate float64, hoursElapsed float64) float64 {
	raw := m.rawRetention(initial, decayRate, hoursElapsed)
	if raw < minRetention {
		return minRetention
	}
	if raw > 1 {
		return 1
	}
	return raw
}

// ShouldForget reports whether the unclamped decay has fallen below the
// forget threshold. The clamp floor keeps stored retention at 0.2, so the
// forget signal is derived from the raw curve.
func (m *EbbinghausManager) ShouldForget(initial, decayRate float64, hoursElapsed float64) bool {
	return m.rawRetention(initial, decayRate, hoursElapsed) < m.forgetThreshold
}

func (m *EbbinghausManager) rawRetention(initial, decayRate float64, hoursElapsed float64) float64 {
	if initial > 1 {
		initial = 1
	}
	if initial < 0 {
		initial = 0
	}
	if hoursElapsed <= 0 {
		return initial
	}
	if decayRate <= 0 {
		decayRate = m.decayRate
	}
	return initial * math.Exp(-decayRate*math.Pow(hoursElapsed, curveExponent))
}

// Reinforce strengthens a memory on access:
//
//	new = min(1.0, current + factor · (1 - current))
//
// Weak memories gain more than strong ones; retention saturates at 1.0.
func (m *EbbinghausManager) Reinforce(current float64) float64 {
	next := current + m.reinforcementFactor*(1-current)
	if next > 1 {
		return 1
	}
	return next
}

// ClassifyMemoryType maps a score (importance at creation, retention later)
// to a memory type using the classification thresholds.
func (m *EbbinghausManager) ClassifyMemoryType(score float64) string {
	switch {
	case score >= m.longTermThreshold:
		return MemoryTypeLongTerm
	case score >= m.shortTermThreshold:
		return MemoryTypeShortTerm
	default:
		return MemoryTypeWorking
	}
}

// PromotedType returns the memory type after a review. Promotion to
// long-term additionally requires at least two completed reviews, so a
// single lucky access cannot lock a memory into the slowest decay tier.
func (m *EbbinghausManager) PromotedType(current string, retention float64, reviewCount int) string {
	switch {
	case retention >= m.longTermThreshold && reviewCount >= 2:
		return MemoryTypeLongTerm
	case retention >= m.shortTermThreshold:
		if current == MemoryTypeLongTerm {
			// Long-term memories are not demoted by ordinary decay.
			return MemoryTypeLongTerm
		}
		return MemoryTypeShortTerm
	default:
		if current == MemoryTypeLongTerm || current == MemoryTypeShortTerm {
			return current
		}
		return MemoryTypeWorking
	}
}

// DecayRateForType returns the decay rate for a memory type. Working
// memories decay twice as fast as long-term ones, short-term memories sit
// in between.
func (m *EbbinghausManager) DecayRateForType(memoryType string) float64 {
	switch memoryType {
	case MemoryTypeWorking:
		return m.decayRate * 2.0
	case MemoryTypeShortTerm:
		return m.decayRate * 1.5
	case MemoryTypeLongTerm:
		return m.decayRate
	default:
		return m.decayRate
	}
}

// GenerateReviewSchedule produces the spaced-repetition review times for a
// memory created at createdAt, in chronological order.
func (m *EbbinghausManager) GenerateReviewSchedule(createdAt time.Time) []time.Time {
	schedule := make([]time.Time, len(m.reviewOffsets))
	for i, offset := range m.reviewOffsets {
		schedule[i] = createdAt.Add(offset)
	}
	sort.Slice(schedule, func(i, j int) bool { return schedule[i].Before(schedule[j]) })
	return schedule
}

// NextReview returns the earliest schedule entry after now. The second
// return is false when the schedule is exhausted.
func (m *EbbinghausManager) NextReview(schedule []time.Time, now time.Time) (time.Time, bool) {
	for _, t := range schedule {
		if t.After(now) {
			return t, true
		}
	}
	return time.Time{}, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
