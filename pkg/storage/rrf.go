package storage

import "sort"

// RRFConstant is the k constant in the reciprocal rank fusion formula
// score(id) = Σ w_c / (k + rank_c(id)).
const RRFConstant = 60

// RankedChannel is one retrieval channel's ordered candidate list entering
// fusion. IDs are best-first; Weight is the channel's configured fusion
// weight.
type RankedChannel struct {
	Name   string
	Weight float64
	IDs    []int64
}

// FusedHit is one fused candidate.
type FusedHit struct {
	ID int64

	// Score is the weighted reciprocal rank fusion score.
	Score float64

	// Ranks maps channel name to the hit's 1-based rank in that channel.
	Ranks map[string]int
}

// FuseRRF merges ranked channels by weighted reciprocal rank fusion.
//
// Channels with no candidates are dropped and the remaining weights are
// renormalized to sum to one, so a backend missing a channel still
// produces scores on the same scale. Duplicate IDs within one channel
// keep their best rank. The result is ordered by score descending with
// ties broken by ID descending, which makes fusion deterministic for
// identical inputs.
func FuseRRF(channels []RankedChannel, k int) []FusedHit {
	if k <= 0 {
		k = RRFConstant
	}

	var total float64
	active := 0
	for _, ch := range channels {
		if len(ch.IDs) == 0 || ch.Weight < 0 {
			continue
		}
		total += ch.Weight
		active++
	}
	if active == 0 {
		return nil
	}

	hits := make(map[int64]*FusedHit)
	order := make([]int64, 0)
	for _, ch := range channels {
		if len(ch.IDs) == 0 || ch.Weight < 0 {
			continue
		}
		var weight float64
		if total > 0 {
			weight = ch.Weight / total
		} else {
			// All configured weights are zero; treat channels as equal.
			weight = 1.0 / float64(active)
		}
		for i, id := range ch.IDs {
			hit := hits[id]
			if hit == nil {
				hit = &FusedHit{ID: id, Ranks: make(map[string]int)}
				hits[id] = hit
				order = append(order, id)
			}
			if _, seen := hit.Ranks[ch.Name]; seen {
				continue
			}
			rank := i + 1
			hit.Ranks[ch.Name] = rank
			hit.Score += weight / float64(k+rank)
		}
	}

	fused := make([]FusedHit, 0, len(order))
	for _, id := range order {
		fused = append(fused, *hits[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID > fused[j].ID
	})
	return fused
}

// ApplyFusionInfo copies channel ranks from a fused hit onto a record.
func ApplyFusionInfo(m *Memory, hit FusedHit) {
	info := &FusionInfo{}
	if rank, ok := hit.Ranks[ChannelDense]; ok {
		info.DenseRank = rank
	}
	if rank, ok := hit.Ranks[ChannelFTS]; ok {
		info.FTSRank = rank
	}
	if rank, ok := hit.Ranks[ChannelSparse]; ok {
		info.SparseRank = rank
	}
	m.FusionInfo = info
	m.Score = hit.Score
}
