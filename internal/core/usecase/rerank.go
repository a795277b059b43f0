package usecase

import (
	"math"
	"sort"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

const defaultRerankMaxCandidates = 20

// fusionOrderHits converts candidates to hits that keep fusion order and carry
// the normalized fused score as relevance.
func fusionOrderHits(candidates []domain.CandidateHit, fusion FusionConfig) []domain.RerankedHit {
	out := make([]domain.RerankedHit, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, fallbackHit(c, fusion))
	}
	return out
}

func fallbackHit(c domain.CandidateHit, fusion FusionConfig) domain.RerankedHit {
	return domain.RerankedHit{
		ChunkID:        c.ChunkID,
		RelevanceScore: fusion.normalizeFused(c.FusedScore),
		FusedScore:     c.FusedScore,
	}
}

// mergeRerankScores applies reranker scores to the first submitted candidates.
// Candidates without a usable score fall back to their normalized fused score.
// Candidates beyond submitted are appended in fusion order. It returns the
// merged hits and how many submitted candidates fell back.
func mergeRerankScores(
	candidates []domain.CandidateHit,
	submitted int,
	scores []domain.RerankScore,
	fusion FusionConfig,
) ([]domain.RerankedHit, int) {
	if submitted > len(candidates) {
		submitted = len(candidates)
	}

	byID := make(map[string]domain.RerankScore, len(scores))
	for _, s := range scores {
		if !usableScore(s) {
			continue
		}
		if _, seen := byID[s.ChunkID]; seen {
			continue
		}
		byID[s.ChunkID] = s
	}

	fallbacks := 0
	head := make([]domain.RerankedHit, 0, submitted)
	for _, c := range candidates[:submitted] {
		s, ok := byID[c.ChunkID]
		if !ok {
			fallbacks++
			head = append(head, fallbackHit(c, fusion))
			continue
		}
		head = append(head, domain.RerankedHit{
			ChunkID:        c.ChunkID,
			RelevanceScore: s.Score,
			Rationale:      s.Rationale,
			Reranked:       true,
			FusedScore:     c.FusedScore,
		})
	}

	// Stable: equal relevance keeps fusion order.
	sort.SliceStable(head, func(i, j int) bool {
		return head[i].RelevanceScore > head[j].RelevanceScore
	})

	out := make([]domain.RerankedHit, 0, len(candidates))
	out = append(out, head...)
	for _, c := range candidates[submitted:] {
		out = append(out, fallbackHit(c, fusion))
	}
	return out, fallbacks
}

func usableScore(s domain.RerankScore) bool {
	if !s.Valid || s.ChunkID == "" {
		return false
	}
	if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
		return false
	}
	return s.Score >= 0 && s.Score <= 1
}

func rerankCandidateCount(maxCandidates, available int) int {
	if maxCandidates <= 0 {
		maxCandidates = defaultRerankMaxCandidates
	}
	if maxCandidates > available {
		return available
	}
	return maxCandidates
}
