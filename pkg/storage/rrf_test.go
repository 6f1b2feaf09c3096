package storage_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/storage"
)

func TestFuseRRFSingleChannel(t *testing.T) {
	channels := []storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: 1.0, IDs: []int64{10, 20, 30}},
	}

	fused := storage.FuseRRF(channels, 60)
	require.Len(t, fused, 3)

	assert.Equal(t, int64(10), fused[0].ID)
	assert.InDelta(t, 1.0/61.0, fused[0].Score, 1e-12, "single present channel should carry full weight")
	assert.InDelta(t, 1.0/62.0, fused[1].Score, 1e-12)
	assert.Equal(t, 1, fused[0].Ranks[storage.ChannelDense])
}

func TestFuseRRFCombinesChannels(t *testing.T) {
	// id 20 appears in both channels and should outrank channel-exclusive
	// candidates at similar depths.
	channels := []storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: 1.0, IDs: []int64{10, 20, 30}},
		{Name: storage.ChannelFTS, Weight: 0.6, IDs: []int64{20, 40}},
	}

	fused := storage.FuseRRF(channels, 60)
	require.Len(t, fused, 4)

	assert.Equal(t, int64(20), fused[0].ID, "a hit in both channels should fuse to the top")
	assert.Equal(t, 2, fused[0].Ranks[storage.ChannelDense])
	assert.Equal(t, 1, fused[0].Ranks[storage.ChannelFTS])

	wantTop := (1.0/1.6)/62.0 + (0.6/1.6)/61.0
	assert.InDelta(t, wantTop, fused[0].Score, 1e-12)
}

func TestFuseRRFRenormalizesOnMissingChannel(t *testing.T) {
	full := storage.FuseRRF([]storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: 1.0, IDs: []int64{1}},
	}, 60)
	withEmpty := storage.FuseRRF([]storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: 1.0, IDs: []int64{1}},
		{Name: storage.ChannelFTS, Weight: 0.6, IDs: nil},
		{Name: storage.ChannelSparse, Weight: 0.4, IDs: nil},
	}, 60)

	require.Len(t, full, 1)
	require.Len(t, withEmpty, 1)
	assert.InDelta(t, full[0].Score, withEmpty[0].Score, 1e-12,
		"empty channels should be dropped and weights renormalized")
}

func TestFuseRRFDeterministic(t *testing.T) {
	channels := []storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: 1.0, IDs: []int64{5, 3, 9, 1, 7}},
		{Name: storage.ChannelFTS, Weight: 0.6, IDs: []int64{9, 5, 2}},
		{Name: storage.ChannelSparse, Weight: 0.4, IDs: []int64{1, 2, 3}},
	}

	first := storage.FuseRRF(channels, 60)
	for i := 0; i < 20; i++ {
		again := storage.FuseRRF(channels, 60)
		require.Equal(t, first, again, "fusion must be deterministic for identical inputs")
	}
}

func TestFuseRRFTieBreaksByIDDescending(t *testing.T) {
	// Two candidates each exclusive to one equally-weighted channel at the
	// same rank: identical scores, higher id first.
	channels := []storage.RankedChannel{
		{Name: "a", Weight: 0.5, IDs: []int64{100}},
		{Name: "b", Weight: 0.5, IDs: []int64{200}},
	}

	fused := storage.FuseRRF(channels, 60)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-12)
	assert.Equal(t, int64(200), fused[0].ID)
	assert.Equal(t, int64(100), fused[1].ID)
}

func TestFuseRRFDuplicateIDsKeepBestRank(t *testing.T) {
	channels := []storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: 1.0, IDs: []int64{7, 7, 8}},
	}

	fused := storage.FuseRRF(channels, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, int64(7), fused[0].ID)
	assert.Equal(t, 1, fused[0].Ranks[storage.ChannelDense])
	assert.InDelta(t, 1.0/61.0, fused[0].Score, 1e-12, "a repeated id must not accumulate extra score")
}

func TestFuseRRFAllEmpty(t *testing.T) {
	fused := storage.FuseRRF([]storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: 1.0, IDs: nil},
	}, 60)
	assert.Empty(t, fused)

	fused = storage.FuseRRF(nil, 60)
	assert.Empty(t, fused)
}

func TestFuseRRFZeroWeightsTreatedEqually(t *testing.T) {
	channels := []storage.RankedChannel{
		{Name: "a", Weight: 0, IDs: []int64{1}},
		{Name: "b", Weight: 0, IDs: []int64{2}},
	}

	fused := storage.FuseRRF(channels, 60)
	require.Len(t, fused, 2)
	assert.False(t, math.IsNaN(fused[0].Score), "zero weights must not divide by zero")
	assert.InDelta(t, 0.5/61.0, fused[0].Score, 1e-12)
}

func TestApplyFusionInfo(t *testing.T) {
	m := &storage.Memory{ID: 42}
	storage.ApplyFusionInfo(m, storage.FusedHit{
		ID:    42,
		Score: 0.031,
		Ranks: map[string]int{storage.ChannelDense: 2, storage.ChannelSparse: 5},
	})

	require.NotNil(t, m.FusionInfo)
	assert.Equal(t, 2, m.FusionInfo.DenseRank)
	assert.Equal(t, 0, m.FusionInfo.FTSRank)
	assert.Equal(t, 5, m.FusionInfo.SparseRank)
	assert.InDelta(t, 0.031, m.Score, 1e-12)
}
