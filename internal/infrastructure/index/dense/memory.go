package dense

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/coder/hnsw"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

const (
	defaultHNSWThreshold = 5000
	defaultM             = 16
	defaultEfSearch      = 64
)

type Options struct {
	Metric domain.DenseMetric
	// Dimension is the expected vector size; 0 takes it from the first vector.
	Dimension int
	// HNSWThreshold is the corpus size from which an HNSW graph replaces the
	// exact scan. Negative disables the graph.
	HNSWThreshold int
	M             int
	EfSearch      int
}

// Index is an in-memory dense index. It is immutable after New and safe for
// concurrent Search calls.
type Index struct {
	metric  domain.DenseMetric
	dim     int
	ids     []string
	vectors [][]float32
	graph   *hnsw.Graph[uint32]
}

func New(entries []domain.IndexedPassage, opts Options) (*Index, error) {
	if opts.Metric == "" {
		opts.Metric = domain.MetricCosine
	}
	if opts.HNSWThreshold == 0 {
		opts.HNSWThreshold = defaultHNSWThreshold
	}
	if opts.M <= 0 {
		opts.M = defaultM
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = defaultEfSearch
	}

	dim := opts.Dimension
	if dim <= 0 && len(entries) > 0 {
		dim = len(entries[0].Vector)
	}

	sorted := make([]domain.IndexedPassage, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Passage.ChunkID < sorted[j].Passage.ChunkID })

	idx := &Index{
		metric:  opts.Metric,
		dim:     dim,
		ids:     make([]string, 0, len(sorted)),
		vectors: make([][]float32, 0, len(sorted)),
	}
	for i, entry := range sorted {
		id := entry.Passage.ChunkID
		if i > 0 && sorted[i-1].Passage.ChunkID == id {
			return nil, fmt.Errorf("%w: duplicate chunk id %s", domain.ErrInvalidInput, id)
		}
		if err := domain.CheckDimension(entry.Vector, dim); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", id, err)
		}
		vec := make([]float32, len(entry.Vector))
		copy(vec, entry.Vector)
		if opts.Metric == domain.MetricCosine {
			normalizeInPlace(vec)
		}
		idx.ids = append(idx.ids, id)
		idx.vectors = append(idx.vectors, vec)
	}

	if opts.HNSWThreshold > 0 && len(idx.ids) >= opts.HNSWThreshold {
		idx.graph = hnsw.NewGraph[uint32]()
		idx.graph.M = opts.M
		idx.graph.EfSearch = opts.EfSearch
		if opts.Metric == domain.MetricCosine {
			idx.graph.Distance = hnsw.CosineDistance
		} else {
			idx.graph.Distance = negativeDot
		}
		nodes := make([]hnsw.Node[uint32], 0, len(idx.vectors))
		for i, vec := range idx.vectors {
			nodes = append(nodes, hnsw.MakeNode(uint32(i), vec))
		}
		idx.graph.Add(nodes...)
	}
	return idx, nil
}

func (i *Index) Dimension() int {
	return i.dim
}

func (i *Index) Metric() domain.DenseMetric {
	return i.metric
}

func (i *Index) Len() int {
	return len(i.ids)
}

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if err := domain.CheckDimension(vector, i.dim); err != nil {
		return nil, err
	}
	if k <= 0 || len(i.ids) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	if i.metric == domain.MetricCosine {
		normalizeInPlace(query)
	}

	var positions []uint32
	if i.graph != nil {
		for _, node := range i.graph.Search(query, k) {
			positions = append(positions, node.Key)
		}
	} else {
		positions = make([]uint32, len(i.ids))
		for p := range positions {
			positions[p] = uint32(p)
		}
	}

	hits := make([]domain.ScoredChunk, 0, len(positions))
	for _, p := range positions {
		hits = append(hits, domain.ScoredChunk{
			ChunkID: i.ids[p],
			Score:   dot(query, i.vectors[p]),
		})
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].ChunkID < hits[b].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func negativeDot(a, b []float32) float32 {
	return float32(-dot(a, b))
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
