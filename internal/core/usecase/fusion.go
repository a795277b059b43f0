package usecase

import (
	"sort"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

const defaultRRFK = 60

// FusionConfig controls reciprocal-rank fusion of dense and sparse hits.
type FusionConfig struct {
	RRFK         int
	DenseWeight  float64
	SparseWeight float64
}

func (c FusionConfig) normalized() FusionConfig {
	if c.RRFK <= 0 {
		c.RRFK = defaultRRFK
	}
	if c.DenseWeight < 0 {
		c.DenseWeight = 0
	}
	if c.SparseWeight < 0 {
		c.SparseWeight = 0
	}
	if c.DenseWeight == 0 && c.SparseWeight == 0 {
		c.DenseWeight, c.SparseWeight = 1, 1
	}
	return c
}

// maxFusedScore is the score of a candidate ranked first by both methods.
func (c FusionConfig) maxFusedScore() float64 {
	c = c.normalized()
	return (c.DenseWeight + c.SparseWeight) / float64(c.RRFK+1)
}

// normalizeFused maps a fused score onto [0,1].
func (c FusionConfig) normalizeFused(score float64) float64 {
	maxScore := c.maxFusedScore()
	if maxScore <= 0 || score <= 0 {
		return 0
	}
	v := score / maxScore
	if v > 1 {
		return 1
	}
	return v
}

// dedupeHits keeps the best score per chunk id and returns hits ordered by
// score desc, chunk id asc. Hits with an empty id are dropped.
func dedupeHits(hits []domain.ScoredChunk) []domain.ScoredChunk {
	if len(hits) == 0 {
		return nil
	}
	best := make(map[string]float64, len(hits))
	for _, hit := range hits {
		if hit.ChunkID == "" {
			continue
		}
		if current, ok := best[hit.ChunkID]; !ok || hit.Score > current {
			best[hit.ChunkID] = hit.Score
		}
	}

	out := make([]domain.ScoredChunk, 0, len(best))
	for id, score := range best {
		out = append(out, domain.ScoredChunk{ChunkID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// fuseCandidates merges deduplicated dense and sparse lists with weighted
// reciprocal-rank fusion. A candidate absent from one list gets no
// contribution from it.
func fuseCandidates(dense, sparse []domain.ScoredChunk, cfg FusionConfig) []domain.CandidateHit {
	cfg = cfg.normalized()

	acc := make(map[string]*domain.CandidateHit, len(dense)+len(sparse))
	get := func(id string) *domain.CandidateHit {
		c, ok := acc[id]
		if !ok {
			c = &domain.CandidateHit{ChunkID: id}
			acc[id] = c
		}
		return c
	}

	for i, hit := range dense {
		c := get(hit.ChunkID)
		score := hit.Score
		c.DenseScore = &score
		c.DenseRank = i + 1
		c.FusedScore += cfg.DenseWeight / float64(cfg.RRFK+i+1)
	}
	for i, hit := range sparse {
		c := get(hit.ChunkID)
		score := hit.Score
		c.SparseScore = &score
		c.SparseRank = i + 1
		c.FusedScore += cfg.SparseWeight / float64(cfg.RRFK+i+1)
	}

	out := make([]domain.CandidateHit, 0, len(acc))
	for _, c := range acc {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return candidateLess(out[i], out[j])
	})
	return out
}

// candidateLess orders by fused score desc, then raw dense score desc (present
// before absent), then chunk id asc.
func candidateLess(a, b domain.CandidateHit) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	switch {
	case a.DenseScore != nil && b.DenseScore == nil:
		return true
	case a.DenseScore == nil && b.DenseScore != nil:
		return false
	case a.DenseScore != nil && b.DenseScore != nil && *a.DenseScore != *b.DenseScore:
		return *a.DenseScore > *b.DenseScore
	}
	return a.ChunkID < b.ChunkID
}

func trimCandidates(candidates []domain.CandidateHit, limit int) []domain.CandidateHit {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

// fusionLimit is the number of fused candidates kept for reranking.
func fusionLimit(topK, multiplier, maxCandidates int) int {
	if multiplier < 1 {
		multiplier = 1
	}
	limit := topK * multiplier
	if maxCandidates > 0 && limit > maxCandidates {
		limit = maxCandidates
	}
	if limit < topK {
		limit = topK
	}
	return limit
}
