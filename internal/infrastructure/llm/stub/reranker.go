package stub

import (
	"context"
	"strings"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/textproc"
)

// Reranker scores candidates by query term overlap. It is deterministic and
// needs no external service.
type Reranker struct{}

func NewReranker() *Reranker {
	return &Reranker{}
}

func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTerms := textproc.TermSet(query)

	out := make([]domain.RerankScore, 0, len(candidates))
	for _, c := range candidates {
		chunkTerms := textproc.TermSet(c.Text)
		overlap := termOverlap(queryTerms, chunkTerms)
		coverage := phraseHit(query, c.Text)
		score := 0.8*overlap + 0.2*coverage
		out = append(out, domain.RerankScore{
			ChunkID:   c.ChunkID,
			Score:     score,
			Rationale: "term overlap",
			Valid:     true,
		})
	}
	return out, nil
}

func termOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for term := range query {
		if _, ok := chunk[term]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func phraseHit(query, text string) float64 {
	q := strings.Join(textproc.Terms(query), " ")
	if q == "" {
		return 0
	}
	if strings.Contains(strings.Join(textproc.Terms(text), " "), q) {
		return 1
	}
	return 0
}
