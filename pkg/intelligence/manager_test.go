package intelligence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRetentionPopulatesBlock(t *testing.T) {
	manager := NewRetentionManager(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state := manager.InitRetention(0.65, "", now)

	assert.Equal(t, MemoryTypeShortTerm, state.MemoryType, "importance 0.65 should classify as short-term")
	assert.InDelta(t, 0.825, state.InitialRetention, 1e-9)
	assert.Equal(t, state.InitialRetention, state.CurrentRetention)
	assert.InDelta(t, 0.82098*1.5, state.DecayRate, 1e-6, "short-term memories carry the 1.5x decay multiplier")
	assert.Equal(t, 0.65, state.ImportanceScore)
	assert.Equal(t, 0.4, state.ReinforcementFactor)
	assert.Zero(t, state.ReviewCount)
	assert.Zero(t, state.AccessCount)
	assert.Equal(t, now, state.LastReviewed)
	assert.Equal(t, now.Add(time.Hour), state.NextReview, "first review is due one hour after creation")
	assert.Len(t, state.ReviewSchedule, 5)
	assert.False(t, state.ShouldForget)
}

func TestInitRetentionKeepsExplicitType(t *testing.T) {
	manager := NewRetentionManager(nil)
	now := time.Now()

	state := manager.InitRetention(0.2, MemoryTypeLongTerm, now)

	assert.Equal(t, MemoryTypeLongTerm, state.MemoryType)
	assert.InDelta(t, 0.82098, state.DecayRate, 1e-6, "explicit long-term type selects the base decay rate")
}

func TestCurrentRetentionDecaysFromLastReview(t *testing.T) {
	manager := NewRetentionManager(nil)
	now := time.Now().UTC()

	state := &RetentionState{
		CurrentRetention: 1.0,
		DecayRate:        0.82098,
		LastReviewed:     now.Add(-1 * time.Hour),
	}

	assert.InDelta(t, 0.44, manager.CurrentRetention(state, now), 0.005)
	assert.Equal(t, 1.0, state.CurrentRetention, "reading retention must not mutate the block")
}

func TestReinforceResetsDecayClock(t *testing.T) {
	manager := NewRetentionManager(nil)
	now := time.Now().UTC()

	state := &RetentionState{
		CurrentRetention:    1.0,
		DecayRate:           0.82098,
		ReinforcementFactor: 0.4,
		LastReviewed:        now.Add(-1 * time.Hour),
		ShouldForget:        true,
	}

	manager.Reinforce(state, now)

	assert.InDelta(t, 0.664, state.CurrentRetention, 0.005,
		"reinforcement bumps the decayed value, not the stored one")
	assert.Equal(t, now, state.LastReviewed)
	assert.Equal(t, 1, state.AccessCount)
	assert.False(t, state.ShouldForget)

	// The decay clock restarted, so an immediate second read returns the
	// reinforced value undecayed.
	assert.InDelta(t, state.CurrentRetention, manager.CurrentRetention(state, now), 1e-9)
}

func TestReviewPromotesAfterSecondReview(t *testing.T) {
	manager := NewRetentionManager(nil)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state := manager.InitRetention(0.3, "", created)
	require.Equal(t, MemoryTypeWorking, state.MemoryType)
	require.InDelta(t, 0.65, state.CurrentRetention, 1e-9)

	// Two immediate reviews: 0.65 -> 0.79 (short-term) -> 0.874 (long-term).
	manager.Review(state, created)
	assert.Equal(t, 1, state.ReviewCount)
	assert.InDelta(t, 0.79, state.CurrentRetention, 1e-9)
	assert.Equal(t, MemoryTypeShortTerm, state.MemoryType)
	assert.InDelta(t, 0.82098*1.5, state.DecayRate, 1e-6, "promotion adjusts the decay rate")

	manager.Review(state, created)
	assert.Equal(t, 2, state.ReviewCount)
	assert.InDelta(t, 0.874, state.CurrentRetention, 1e-9)
	assert.Equal(t, MemoryTypeLongTerm, state.MemoryType,
		"two reviews at high retention promote to long-term")
	assert.InDelta(t, 0.82098, state.DecayRate, 1e-6)
}

func TestReviewAdvancesSchedule(t *testing.T) {
	manager := NewRetentionManager(nil)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state := manager.InitRetention(0.9, "", created)
	require.Equal(t, created.Add(time.Hour), state.NextReview)

	manager.Review(state, created.Add(90*time.Minute))
	assert.Equal(t, created.Add(5*time.Hour), state.NextReview)

	manager.Review(state, created.Add(200*time.Hour))
	assert.True(t, state.NextReview.IsZero(), "exhausted schedule leaves no pending review")
}

func TestShouldForgetAfterLongIdle(t *testing.T) {
	manager := NewRetentionManager(nil)
	now := time.Now().UTC()

	state := &RetentionState{
		CurrentRetention: 0.5,
		DecayRate:        0.82098,
		LastReviewed:     now.Add(-10000 * time.Hour),
	}

	assert.True(t, manager.ShouldForget(state, now))
	assert.Equal(t, 0.2, manager.CurrentRetention(state, now),
		"the visible retention stays clamped at the floor")
}

func TestRetentionBlockSurvivesJSONRoundTrip(t *testing.T) {
	manager := NewRetentionManager(nil)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state := manager.InitRetention(0.7, "", created)
	manager.Review(state, created.Add(time.Hour))

	// Metadata travels through backend JSON columns; ints come back as
	// float64 and times as strings.
	encoded, err := json.Marshal(state.ToMap())
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	restored := RetentionStateFromMap(decoded)
	require.NotNil(t, restored)
	assert.Equal(t, state.MemoryType, restored.MemoryType)
	assert.InDelta(t, state.InitialRetention, restored.InitialRetention, 1e-9)
	assert.InDelta(t, state.CurrentRetention, restored.CurrentRetention, 1e-9)
	assert.InDelta(t, state.DecayRate, restored.DecayRate, 1e-9)
	assert.InDelta(t, state.ImportanceScore, restored.ImportanceScore, 1e-9)
	assert.Equal(t, state.ReviewCount, restored.ReviewCount)
	assert.Equal(t, state.AccessCount, restored.AccessCount)
	assert.True(t, state.LastReviewed.Equal(restored.LastReviewed))
	assert.True(t, state.NextReview.Equal(restored.NextReview))
	require.Len(t, restored.ReviewSchedule, len(state.ReviewSchedule))
	for i := range state.ReviewSchedule {
		assert.True(t, state.ReviewSchedule[i].Equal(restored.ReviewSchedule[i]))
	}
}

func TestRetentionMetadataHelpers(t *testing.T) {
	manager := NewRetentionManager(nil)
	state := manager.InitRetention(0.5, "", time.Now())

	metadata := state.ApplyToMetadata(nil)
	require.NotNil(t, metadata)

	restored, ok := RetentionFromMetadata(metadata)
	require.True(t, ok)
	assert.Equal(t, state.MemoryType, restored.MemoryType)
	assert.InDelta(t, state.CurrentRetention, restored.CurrentRetention, 1e-9)

	_, ok = RetentionFromMetadata(map[string]interface{}{"category": "preferences"})
	assert.False(t, ok, "metadata without a retention block yields none")
	_, ok = RetentionFromMetadata(nil)
	assert.False(t, ok)

	// Existing metadata keys survive the write.
	enriched := state.ApplyToMetadata(map[string]interface{}{"category": "preferences"})
	assert.Equal(t, "preferences", enriched["category"])
	_, ok = RetentionFromMetadata(enriched)
	assert.True(t, ok)
}
