package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/bovicare-rag/internal/core/ports"
)

// Embedder memoizes query embeddings in a bounded LRU. Batch embeddings used
// by ingestion bypass the cache.
type Embedder struct {
	next  ports.Embedder
	cache *lru.Cache[string, []float32]
}

func NewEmbedder(next ports.Embedder, size int) (*Embedder, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Embedder{next: next, cache: c}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.next.Embed(ctx, texts)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return clone(v), nil
	}
	v, err := e.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, clone(v))
	return v, nil
}

func (e *Embedder) Len() int {
	return e.cache.Len()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
