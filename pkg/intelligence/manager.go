package intelligence

import (
	"time"
)

// RetentionMetadataKey is the metadata key holding the retention block.
const RetentionMetadataKey = "retention"

// RetentionState is the retention block stored under the "retention"
// metadata key of every intelligently managed memory.
//
// CurrentRetention is the retention at the moment the decay clock last
// reset (creation or the latest reinforcement); the live value decays from
// it and is computed by RetentionManager.CurrentRetention.
type RetentionState struct {
	// MemoryType is working, short_term or long_term.
	MemoryType string `json:"memory_type"`

	// InitialRetention is the retention assigned at creation.
	InitialRetention float64 `json:"initial_retention"`

	// CurrentRetention is the retention at the last decay clock reset.
	CurrentRetention float64 `json:"current_retention"`

	// DecayRate is the memory's decay rate with the type multiplier
	// applied.
	DecayRate float64 `json:"decay_rate"`

	// ImportanceScore is the ingest-time importance in [0,1].
	ImportanceScore float64 `json:"importance_score"`

	// ReinforcementFactor is how far one access moves retention toward 1.
	ReinforcementFactor float64 `json:"reinforcement_factor"`

	// ReviewCount is the number of completed reviews.
	ReviewCount int `json:"review_count"`

	// AccessCount is the number of accesses (searches returning this
	// memory count as accesses).
	AccessCount int `json:"access_count"`

	// LastReviewed is when the decay clock last reset.
	LastReviewed time.Time `json:"last_reviewed"`

	// NextReview is the earliest pending schedule entry; zero when the
	// schedule is exhausted.
	NextReview time.Time `json:"next_review"`

	// ReviewSchedule is the full spaced-repetition schedule.
	ReviewSchedule []time.Time `json:"review_schedule"`

	// ShouldForget flags a memory whose raw decay fell below the forget
	// threshold.
	ShouldForget bool `json:"should_forget,omitempty"`
}

// RetentionManager applies the forgetting curve to retention blocks.
//
// It is a thin stateful wrapper around EbbinghausManager: the curve does
// the arithmetic, the manager owns block initialization and the
// reinforce/review transitions. Safe for concurrent use.
type RetentionManager struct {
	curve *EbbinghausManager
}

// NewRetentionManager creates a retention manager from the given
// configuration. A nil config selects the anchored defaults.
func NewRetentionManager(cfg *Config) *RetentionManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &RetentionManager{
		curve: NewEbbinghausManagerWithConfig(
			cfg.DecayRate,
			cfg.ReinforcementFactor,
			cfg.LongTermThreshold,
			cfg.ShortTermThreshold,
			cfg.ForgetThreshold,
			cfg.InitialRetention,
			cfg.ReviewOffsets,
		),
	}
}

// Curve exposes the underlying forgetting curve.
func (r *RetentionManager) Curve() *EbbinghausManager {
	return r.curve
}

// InitRetention builds the retention block for a newly added memory.
//
// Parameters:
//   - importance: ingest-time importance in [0,1]
//   - memoryType: explicit type, or empty to classify from importance
//   - now: creation time
//
// Returns a fully populated retention block: initial retention anchored on
// importance, decay rate from the memory type, the review schedule and the
// first pending review.
func (r *RetentionManager) InitRetention(importance float64, memoryType string, now time.Time) *RetentionState {
	importance = clamp01(importance)
	if memoryType == "" {
		memoryType = r.curve.ClassifyMemoryType(importance)
	}
	initial := r.curve.InitialRetention(importance)

	now = now.UTC()
	schedule := r.curve.GenerateReviewSchedule(now)
	next, _ := r.curve.NextReview(schedule, now)

	return &RetentionState{
		MemoryType:          memoryType,
		InitialRetention:    initial,
		CurrentRetention:    initial,
		DecayRate:           r.curve.DecayRateForType(memoryType),
		ImportanceScore:     importance,
		ReinforcementFactor: r.curve.ReinforcementFactor(),
		LastReviewed:        now,
		NextReview:          next,
		ReviewSchedule:      schedule,
	}
}

// CurrentRetention computes the live, decayed retention of a memory
// without mutating the block.
func (r *RetentionManager) CurrentRetention(state *RetentionState, now time.Time) float64 {
	hours := now.Sub(state.LastReviewed).Hours()
	return r.curve.CalculateRetention(state.CurrentRetention, state.DecayRate, hours)
}

// ShouldForget reports whether the memory's raw decay has fallen below the
// forget threshold at now.
func (r *RetentionManager) ShouldForget(state *RetentionState, now time.Time) bool {
	hours := now.Sub(state.LastReviewed).Hours()
	return r.curve.ShouldForget(state.CurrentRetention, state.DecayRate, hours)
}

// Reinforce strengthens a memory on access: the decayed value is bumped
// toward 1.0 by the block's reinforcement factor, the decay clock resets,
// and the access count increments.
func (r *RetentionManager) Reinforce(state *RetentionState, now time.Time) {
	decayed := r.CurrentRetention(state, now)

	factor := state.ReinforcementFactor
	if factor <= 0 {
		factor = r.curve.ReinforcementFactor()
	}
	bumped := decayed + factor*(1-decayed)
	if bumped > 1 {
		bumped = 1
	}

	state.CurrentRetention = bumped
	state.LastReviewed = now.UTC()
	state.AccessCount++
	state.ShouldForget = false
}

// Review marks a completed review: reinforcement plus a review count bump,
// the next pending schedule entry, and a type promotion check. Promotion
// to a slower tier also lowers the block's decay rate.
func (r *RetentionManager) Review(state *RetentionState, now time.Time) {
	r.Reinforce(state, now)
	state.ReviewCount++

	if next, ok := r.curve.NextReview(state.ReviewSchedule, now); ok {
		state.NextReview = next
	} else {
		state.NextReview = time.Time{}
	}

	promoted := r.curve.PromotedType(state.MemoryType, state.CurrentRetention, state.ReviewCount)
	if promoted != state.MemoryType {
		state.MemoryType = promoted
		state.DecayRate = r.curve.DecayRateForType(promoted)
	}
}

// ToMap renders the block as metadata-ready values: times as RFC3339
// strings, numbers as float64/int, so the block survives any backend's
// JSON round-trip.
func (s *RetentionState) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"memory_type":          s.MemoryType,
		"initial_retention":    s.InitialRetention,
		"current_retention":    s.CurrentRetention,
		"decay_rate":           s.DecayRate,
		"importance_score":     s.ImportanceScore,
		"reinforcement_factor": s.ReinforcementFactor,
		"review_count":         s.ReviewCount,
		"access_count":         s.AccessCount,
		"last_reviewed":        s.LastReviewed.UTC().Format(time.RFC3339Nano),
	}
	if !s.NextReview.IsZero() {
		m["next_review"] = s.NextReview.UTC().Format(time.RFC3339Nano)
	}
	if len(s.ReviewSchedule) > 0 {
		schedule := make([]interface{}, len(s.ReviewSchedule))
		for i, t := range s.ReviewSchedule {
			schedule[i] = t.UTC().Format(time.RFC3339Nano)
		}
		m["review_schedule"] = schedule
	}
	if s.ShouldForget {
		m["should_forget"] = true
	}
	return m
}

// RetentionStateFromMap rebuilds a block from metadata values. It is
// tolerant of JSON round-trip types: ints arriving as float64, times as
// RFC3339 strings or time.Time.
func RetentionStateFromMap(m map[string]interface{}) *RetentionState {
	if m == nil {
		return nil
	}
	state := &RetentionState{
		MemoryType:          asString(m["memory_type"]),
		InitialRetention:    asFloat(m["initial_retention"]),
		CurrentRetention:    asFloat(m["current_retention"]),
		DecayRate:           asFloat(m["decay_rate"]),
		ImportanceScore:     asFloat(m["importance_score"]),
		ReinforcementFactor: asFloat(m["reinforcement_factor"]),
		ReviewCount:         asInt(m["review_count"]),
		AccessCount:         asInt(m["access_count"]),
		LastReviewed:        asTime(m["last_reviewed"]),
		NextReview:          asTime(m["next_review"]),
		ShouldForget:        asBool(m["should_forget"]),
	}
	if raw, ok := m["review_schedule"].([]interface{}); ok {
		schedule := make([]time.Time, 0, len(raw))
		for _, entry := range raw {
			if t := asTime(entry); !t.IsZero() {
				schedule = append(schedule, t)
			}
		}
		state.ReviewSchedule = schedule
	} else if raw, ok := m["review_schedule"].([]time.Time); ok {
		state.ReviewSchedule = raw
	}
	return state
}

// RetentionFromMetadata extracts the retention block from a memory's
// metadata. The second return is false when the memory carries no block.
func RetentionFromMetadata(metadata map[string]interface{}) (*RetentionState, bool) {
	if metadata == nil {
		return nil, false
	}
	raw, ok := metadata[RetentionMetadataKey].(map[string]interface{})
	if !ok {
		return nil, false
	}
	return RetentionStateFromMap(raw), true
}

// ApplyToMetadata writes the block into metadata under the retention key,
// allocating the map if needed, and returns it.
func (s *RetentionState) ApplyToMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata[RetentionMetadataKey] = s.ToMap()
	return metadata
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
