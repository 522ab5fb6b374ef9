package search

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter; k=60 is
// empirically validated across domains.
const DefaultRRFConstant = 60

// fused is one program after rank fusion of the chunk and document lists.
type fused struct {
	ProgramID int64
	Score     float64 // normalized 0-1
	ChunkRank int     // 1-indexed, 0 if absent from the chunk list
	DocRank   int     // 1-indexed, 0 if absent from the document list
	InBoth    bool
}

// rrfFusion combines the chunk-index and document-index rankings with
// Reciprocal Rank Fusion:
//
//	score(p) = Σ 1 / (k + rank_i(p))
//
// Programs missing from one list contribute that list's term at
// missing_rank = max(len(chunk), len(doc)) + 1.
type rrfFusion struct {
	k int
}

func newRRFFusion(k int) *rrfFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &rrfFusion{k: k}
}

// fuse merges two ranked program-id lists. Order within each input is
// its ranking; output is sorted by fused score desc with deterministic
// tie-breaking (both-lists first, then program id asc).
func (f *rrfFusion) fuse(chunkOrder, docOrder []int64) []*fused {
	if len(chunkOrder) == 0 && len(docOrder) == 0 {
		return []*fused{}
	}

	scores := make(map[int64]*fused, len(chunkOrder)+len(docOrder))
	get := func(id int64) *fused {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &fused{ProgramID: id}
		scores[id] = r
		return r
	}

	for rank, id := range chunkOrder {
		r := get(id)
		r.ChunkRank = rank + 1
		r.Score += 1 / float64(f.k+rank+1)
	}
	for rank, id := range docOrder {
		r := get(id)
		r.DocRank = rank + 1
		r.Score += 1 / float64(f.k+rank+1)
		if r.ChunkRank > 0 {
			r.InBoth = true
		}
	}

	missing := max(len(chunkOrder), len(docOrder)) + 1
	for _, r := range scores {
		if r.ChunkRank == 0 || r.DocRank == 0 {
			r.Score += 1 / float64(f.k+missing)
		}
	}

	out := make([]*fused, 0, len(scores))
	for _, r := range scores {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InBoth != b.InBoth {
			return a.InBoth
		}
		return a.ProgramID < b.ProgramID
	})

	// Normalize to 0-1 against the top score.
	if top := out[0].Score; top > 0 {
		for _, r := range out {
			r.Score /= top
		}
	}
	return out
}
