package intelligence

import "time"

// Config contains the retention and ingest tuning knobs for the
// intelligence layer. Zero values select the anchored defaults.
type Config struct {
	// DecayRate is the base decay rate before type multipliers
	// (default -ln(0.44) ≈ 0.821).
	DecayRate float64

	// ReinforcementFactor is how far one access moves retention toward
	// 1.0 (default 0.4).
	ReinforcementFactor float64

	// LongTermThreshold and ShortTermThreshold classify retention into
	// memory types (defaults 0.8 and 0.6).
	LongTermThreshold  float64
	ShortTermThreshold float64

	// ForgetThreshold flags memories for forgetting (default 0.2).
	ForgetThreshold float64

	// InitialRetention anchors the retention of new memories:
	// initial = anchor + (1-anchor)·importance (default 0.5).
	InitialRetention float64

	// ReviewOffsets is the spaced-repetition schedule relative to
	// creation (default 1h, 5h, 24h, 72h, 168h).
	ReviewOffsets []time.Duration

	// DedupThreshold is the cosine similarity above which a new fact is
	// treated as a duplicate of an existing memory (default 0.95).
	DedupThreshold float64

	// MaxFacts caps how many facts one extraction may yield (default 32).
	MaxFacts int
}

// DefaultConfig returns the anchored default configuration.
func DefaultConfig() *Config {
	return &Config{
		DecayRate:           defaultDecayRate,
		ReinforcementFactor: defaultReinforcementFactor,
		LongTermThreshold:   defaultLongTermThreshold,
		ShortTermThreshold:  defaultShortTermThreshold,
		ForgetThreshold:     defaultForgetThreshold,
		InitialRetention:    defaultBaseRetention,
		ReviewOffsets:       defaultReviewOffsets,
		DedupThreshold:      defaultDedupThreshold,
		MaxFacts:            defaultMaxFacts,
	}
}

// Fact is one self-contained piece of information extracted from a
// conversation, tagged with its provisional importance.
type Fact struct {
	// Text is the fact itself, phrased to stand alone.
	Text string `json:"fact"`

	// Importance is the extraction-time importance in [0,1].
	Importance float64 `json:"importance"`
}
