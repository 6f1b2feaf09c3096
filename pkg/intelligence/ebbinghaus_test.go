package intelligence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecayMatchesClassicAnchors(t *testing.T) {
	m := NewEbbinghausManager(0, 0)

	// A fresh memory at full strength decays through the classical
	// anchor points.
	assert.InDelta(t, 0.44, m.CalculateRetention(1.0, 0, 1), 0.005, "one hour anchor")
	assert.InDelta(t, 0.33, m.CalculateRetention(1.0, 0, 24), 0.005, "one day anchor")
	assert.InDelta(t, 0.269, m.CalculateRetention(1.0, 0, 144), 0.005, "six day anchor")
	assert.InDelta(t, 0.216, m.CalculateRetention(1.0, 0, 744), 0.005, "one month anchor")
}

func TestDecayClampsToFloor(t *testing.T) {
	m := NewEbbinghausManager(0, 0)

	retention := m.CalculateRetention(0.5, 0, 10000)
	assert.Equal(t, 0.2, retention, "decayed retention should never drop below the floor")

	assert.Equal(t, 1.0, m.CalculateRetention(1.0, 0, 0), "no time elapsed means no decay")
	assert.Equal(t, 0.7, m.CalculateRetention(0.7, 0, -1), "negative elapsed time means no decay")
}

func TestShouldForgetUsesRawDecay(t *testing.T) {
	m := NewEbbinghausManager(0, 0)

	// The clamp floor equals the forget threshold, so the forget signal
	// must come from the unclamped curve.
	assert.True(t, m.ShouldForget(0.5, 0, 10000), "raw decay below threshold should flag forgetting")
	assert.False(t, m.ShouldForget(1.0, 0, 24), "fresh strong memory should not be forgotten after a day")

	// Working memories decay twice as fast and cross the threshold within
	// a day.
	workingRate := m.DecayRateForType(MemoryTypeWorking)
	assert.True(t, m.ShouldForget(1.0, workingRate, 24), "working memory should be forgotten after a day")
}

func TestReinforceStrengthensTowardOne(t *testing.T) {
	m := NewEbbinghausManager(0, 0)

	reinforced := m.Reinforce(0.44)
	assert.InDelta(t, 0.664, reinforced, 0.001, "one access should lift a decayed memory above 0.66")
	assert.GreaterOrEqual(t, reinforced, 0.66)

	assert.Equal(t, 1.0, m.Reinforce(1.0), "retention should saturate at 1.0")
	assert.Greater(t, m.Reinforce(0.2)-0.2, m.Reinforce(0.8)-0.8,
		"weak memories should gain more from one access than strong ones")
}

func TestInitialRetentionScalesWithImportance(t *testing.T) {
	m := NewEbbinghausManager(0, 0)

	assert.Equal(t, 0.5, m.InitialRetention(0), "zero importance should start at the base anchor")
	assert.Equal(t, 1.0, m.InitialRetention(1), "maximum importance should start at full strength")
	assert.InDelta(t, 0.825, m.InitialRetention(0.65), 1e-9)
	assert.Equal(t, 1.0, m.InitialRetention(2.5), "importance should be clamped before scaling")
}

func TestClassifyMemoryType(t *testing.T) {
	m := NewEbbinghausManager(0, 0)

	assert.Equal(t, MemoryTypeLongTerm, m.ClassifyMemoryType(0.9))
	assert.Equal(t, MemoryTypeLongTerm, m.ClassifyMemoryType(0.8))
	assert.Equal(t, MemoryTypeShortTerm, m.ClassifyMemoryType(0.65))
	assert.Equal(t, MemoryTypeWorking, m.ClassifyMemoryType(0.3))
}

func TestPromotionRequiresRepeatedReviews(t *testing.T) {
	m := NewEbbinghausManager(0, 0)

	assert.Equal(t, MemoryTypeShortTerm, m.PromotedType(MemoryTypeWorking, 0.85, 1),
		"high retention with one review should only reach short-term")
	assert.Equal(t, MemoryTypeLongTerm, m.PromotedType(MemoryTypeWorking, 0.85, 2),
		"high retention with two reviews should reach long-term")
	assert.Equal(t, MemoryTypeLongTerm, m.PromotedType(MemoryTypeLongTerm, 0.65, 5),
		"long-term memories are not demoted by decay")
	assert.Equal(t, MemoryTypeLongTerm, m.PromotedType(MemoryTypeLongTerm, 0.3, 5))
	assert.Equal(t, MemoryTypeShortTerm, m.PromotedType(MemoryTypeShortTerm, 0.3, 1),
		"short-term memories keep their tier when retention drops")
	assert.Equal(t, MemoryTypeWorking, m.PromotedType(MemoryTypeWorking, 0.3, 0))
}

func TestDecayRateByType(t *testing.T) {
	m := NewEbbinghausManager(0, 0)

	base := m.DecayRateForType(MemoryTypeLongTerm)
	assert.InDelta(t, 0.82098, base, 1e-6)
	assert.InDelta(t, base*2.0, m.DecayRateForType(MemoryTypeWorking), 1e-9)
	assert.InDelta(t, base*1.5, m.DecayRateForType(MemoryTypeShortTerm), 1e-9)
	assert.InDelta(t, base, m.DecayRateForType("unknown"), 1e-9)
}

func TestReviewSchedule(t *testing.T) {
	m := NewEbbinghausManager(0, 0)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	schedule := m.GenerateReviewSchedule(created)
	require.Len(t, schedule, 5)
	assert.Equal(t, created.Add(1*time.Hour), schedule[0])
	assert.Equal(t, created.Add(5*time.Hour), schedule[1])
	assert.Equal(t, created.Add(24*time.Hour), schedule[2])
	assert.Equal(t, created.Add(72*time.Hour), schedule[3])
	assert.Equal(t, created.Add(168*time.Hour), schedule[4])

	next, ok := m.NextReview(schedule, created)
	require.True(t, ok)
	assert.Equal(t, created.Add(1*time.Hour), next)

	next, ok = m.NextReview(schedule, created.Add(5*time.Hour))
	require.True(t, ok, "a review time that has exactly arrived is no longer pending")
	assert.Equal(t, created.Add(24*time.Hour), next)

	_, ok = m.NextReview(schedule, created.Add(200*time.Hour))
	assert.False(t, ok, "schedule should be exhausted after the last entry")
}

func TestConfigZeroValuesSelectDefaults(t *testing.T) {
	m := NewEbbinghausManagerWithConfig(0, 0, 0, 0, 0, 0, nil)

	assert.InDelta(t, 0.82098, m.decayRate, 1e-9)
	assert.Equal(t, 0.4, m.reinforcementFactor)
	assert.Equal(t, 0.8, m.longTermThreshold)
	assert.Equal(t, 0.6, m.shortTermThreshold)
	assert.Equal(t, 0.2, m.forgetThreshold)
	assert.Equal(t, 0.5, m.baseRetention)
	assert.Len(t, m.reviewOffsets, 5)
}
