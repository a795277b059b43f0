package stub

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/textproc"
)

const (
	defaultDimension = 384
	termSaturationK  = 1.2
)

// Embedder produces deterministic feature-hashed vectors from the shared
// tokenizer. Texts sharing terms get similar vectors, which is enough for
// local runs and tests without an embedding service.
type Embedder struct {
	dim int
}

func NewEmbedder(dim int) *Embedder {
	if dim <= 0 {
		dim = defaultDimension
	}
	return &Embedder{dim: dim}
}

func (e *Embedder) Dimension() int {
	return e.dim
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.embed(text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text)
}

func (e *Embedder) embed(text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "stub embed", errors.New("text is empty"))
	}

	termFreq := make(map[string]float64, 32)
	for _, term := range textproc.Terms(text) {
		termFreq[term]++
	}

	vec := make([]float64, e.dim)
	for term, tf := range termFreq {
		weight := (tf * (termSaturationK + 1)) / (tf + termSaturationK)
		h := hashTerm(term)
		idx := int(h % uint32(e.dim))
		if h&(1<<31) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dim)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func hashTerm(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}
