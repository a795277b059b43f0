package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
)

type embedderFake struct {
	vector []float32
	err    error
	calls  atomic.Int32
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, f.err
}

func (f *embedderFake) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type denseFake struct {
	hits []domain.ScoredChunk
	dim  int
	err  error
}

func (f *denseFake) Search(_ context.Context, _ []float32, k int) ([]domain.ScoredChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *denseFake) Dimension() int { return f.dim }
func (f *denseFake) Metric() domain.DenseMetric { return domain.MetricCosine }

type sparseFake struct {
	hits  []domain.ScoredChunk
	calls atomic.Int32
}

func (f *sparseFake) Search(_ context.Context, _ string, k int) ([]domain.ScoredChunk, error) {
	f.calls.Add(1)
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

type catalogFake map[string]domain.Passage

func (c catalogFake) Passage(id string) (domain.Passage, bool) {
	p, ok := c[id]
	return p, ok
}

func (c catalogFake) Len() int { return len(c) }

type providerFake struct {
	set      ports.IndexSet
	released *atomic.Int32
}

func (p providerFake) Acquire() (ports.IndexSet, func(), error) {
	return p.set, func() {
		if p.released != nil {
			p.released.Add(1)
		}
	}, nil
}

type rerankerFunc func(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankScore, error)

func (f rerankerFunc) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankScore, error) {
	return f(ctx, query, candidates)
}

type observerFake struct {
	modes  []domain.RetrievalMode
	states []domain.RetrievalState
}

func (o *observerFake) ObserveStage(domain.RetrievalState, time.Duration) {}

func (o *observerFake) ObserveRetrieval(mode domain.RetrievalMode, state domain.RetrievalState, _ int) {
	o.modes = append(o.modes, mode)
	o.states = append(o.states, state)
}

func passageFixture(id string) domain.Passage {
	return domain.Passage{
		DocumentID:  "doc-" + id,
		DiseaseName: "Bovine Respiratory Disease",
		ChunkID:     id,
		SectionType: domain.SectionSymptoms,
		PageRange:   domain.PageRange{Start: 2, End: 3},
		Text:        "passage " + id + " describes fever and nasal discharge",
		StartOffset: 0,
		EndOffset:   40,
	}
}

// Fusion order for these fixtures is p1, p3, p2, p4.
func newPipelineFixture(reranker ports.Reranker) (*RetrieveUseCase, *embedderFake, *sparseFake) {
	catalog := catalogFake{}
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		catalog[id] = passageFixture(id)
	}
	embedder := &embedderFake{vector: []float32{1, 0, 0}}
	sparse := &sparseFake{hits: []domain.ScoredChunk{{ChunkID: "p3", Score: 9}, {ChunkID: "p4", Score: 5}, {ChunkID: "p1", Score: 1}}}
	set := ports.IndexSet{
		Version: "v1",
		Dense:   &denseFake{dim: 3, hits: []domain.ScoredChunk{{ChunkID: "p1", Score: 0.9}, {ChunkID: "p2", Score: 0.8}, {ChunkID: "p3", Score: 0.7}}},
		Sparse:  sparse,
		Catalog: catalog,
	}
	uc := NewRetrieveUseCase(embedder, providerFake{set: set}, reranker, nil, RetrievalOptions{
		Fusion:        FusionConfig{RRFK: 60},
		RerankTimeout: 50 * time.Millisecond,
	})
	return uc, embedder, sparse
}

func chunkIDs(result *domain.EvidenceResult) []string {
	out := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		out = append(out, item.Passage.ChunkID)
	}
	return out
}

func assertOrder(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRetrieveWithoutRerankingReturnsFusionOrder(t *testing.T) {
	uc, _, _ := newPipelineFixture(nil)

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 4})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	assertOrder(t, chunkIDs(result), "p1", "p3", "p2", "p4")
	if result.Degraded || result.Mode != domain.ModeFusionOnly {
		t.Fatalf("expected fusion mode without degradation, got %+v", result)
	}
	for i, item := range result.Items {
		if item.Rank != i+1 {
			t.Fatalf("expected rank %d, got %d", i+1, item.Rank)
		}
		if item.Citation.DiseaseName == "" || item.Citation.ContentPreview == "" {
			t.Fatalf("expected citation metadata, got %+v", item.Citation)
		}
	}
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	uc, _, _ := newPipelineFixture(nil)

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 2})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	assertOrder(t, chunkIDs(result), "p1", "p3")
}

func TestRetrieveRejectsInvalidTopK(t *testing.T) {
	uc, embedder, _ := newPipelineFixture(nil)

	for _, topK := range []int{0, -1, 21} {
		_, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: topK})
		if !errors.Is(err, domain.ErrInvalidTopK) {
			t.Fatalf("top_k=%d: expected ErrInvalidTopK, got %v", topK, err)
		}
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("top_k=%d: expected InvalidTopK to be an invalid input error", topK)
		}
	}
	if embedder.calls.Load() != 0 {
		t.Fatalf("expected no embedding calls for invalid input")
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	uc, _, _ := newPipelineFixture(nil)

	_, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "   ", TopK: 3})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRetrieveTopKLargerThanCorpus(t *testing.T) {
	catalog := catalogFake{"1": passageFixture("1"), "2": passageFixture("2")}
	set := ports.IndexSet{
		Dense:   &denseFake{dim: 3, hits: []domain.ScoredChunk{{ChunkID: "1", Score: 0.8}}},
		Sparse:  &sparseFake{hits: []domain.ScoredChunk{{ChunkID: "2", Score: 3.2}}},
		Catalog: catalog,
	}
	uc := NewRetrieveUseCase(&embedderFake{vector: []float32{0, 1, 0}}, providerFake{set: set}, nil, nil, RetrievalOptions{})

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 3})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assertOrder(t, chunkIDs(result), "1", "2")
}

func TestRetrieveNeverReturnsDuplicates(t *testing.T) {
	catalog := catalogFake{"a": passageFixture("a"), "b": passageFixture("b")}
	set := ports.IndexSet{
		Dense:   &denseFake{dim: 3, hits: []domain.ScoredChunk{{ChunkID: "a", Score: 0.5}, {ChunkID: "a", Score: 0.9}, {ChunkID: "b", Score: 0.4}}},
		Sparse:  &sparseFake{hits: []domain.ScoredChunk{{ChunkID: "b", Score: 2}, {ChunkID: "b", Score: 1}, {ChunkID: "a", Score: 1}}},
		Catalog: catalog,
	}
	uc := NewRetrieveUseCase(&embedderFake{vector: []float32{1, 1, 1}}, providerFake{set: set}, nil, nil, RetrievalOptions{})

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "x", TopK: 2})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range chunkIDs(result) {
		if seen[id] {
			t.Fatalf("duplicate chunk id %s in %v", id, chunkIDs(result))
		}
		seen[id] = true
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
}

func TestRetrieveRerankerReorders(t *testing.T) {
	reranker := rerankerFunc(func(_ context.Context, _ string, candidates []domain.RerankCandidate) ([]domain.RerankScore, error) {
		scores := make([]domain.RerankScore, 0, len(candidates))
		for i, c := range candidates {
			scores = append(scores, domain.RerankScore{ChunkID: c.ChunkID, Score: float64(i) / 10, Valid: true})
		}
		return scores, nil
	})
	uc, _, _ := newPipelineFixture(reranker)

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 4, UseReranking: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	assertOrder(t, chunkIDs(result), "p4", "p2", "p3", "p1")
	if result.Mode != domain.ModeReranked || result.Degraded {
		t.Fatalf("expected reranked mode, got %+v", result)
	}
	if !result.Items[0].Reranked {
		t.Fatalf("expected items to be marked reranked")
	}
}

func TestRetrieveRerankerFailureDegradesToFusionOrder(t *testing.T) {
	reranker := rerankerFunc(func(context.Context, string, []domain.RerankCandidate) ([]domain.RerankScore, error) {
		return nil, errors.New("quota exceeded")
	})
	uc, _, _ := newPipelineFixture(reranker)
	observer := &observerFake{}
	uc.observer = observer

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 4, UseReranking: true})
	if err != nil {
		t.Fatalf("expected degraded result, got error %v", err)
	}
	assertOrder(t, chunkIDs(result), "p1", "p3", "p2", "p4")
	if !result.Degraded || result.Mode != domain.ModeDegraded || result.DegradedReason == "" {
		t.Fatalf("expected degraded tag, got %+v", result)
	}
	if len(observer.modes) != 1 || observer.modes[0] != domain.ModeDegraded {
		t.Fatalf("expected degraded observation, got %v", observer.modes)
	}
}

func TestRetrieveRerankerTimeoutDegrades(t *testing.T) {
	reranker := rerankerFunc(func(ctx context.Context, _ string, _ []domain.RerankCandidate) ([]domain.RerankScore, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	uc, _, _ := newPipelineFixture(reranker)

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 3, UseReranking: true})
	if err != nil {
		t.Fatalf("expected degraded result on timeout, got %v", err)
	}
	if !result.Degraded {
		t.Fatalf("expected degraded result")
	}
	assertOrder(t, chunkIDs(result), "p1", "p3", "p2")
}

func TestRetrieveRerankerWithoutUsableScoresDegrades(t *testing.T) {
	reranker := rerankerFunc(func(context.Context, string, []domain.RerankCandidate) ([]domain.RerankScore, error) {
		return []domain.RerankScore{{ChunkID: "p1", Score: 4, Valid: true}}, nil
	})
	uc, _, _ := newPipelineFixture(reranker)

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 4, UseReranking: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !result.Degraded {
		t.Fatalf("expected degraded result when no score is usable")
	}
	assertOrder(t, chunkIDs(result), "p1", "p3", "p2", "p4")
}

func TestRetrieveCallerCancellationDuringRerank(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reranker := rerankerFunc(func(rctx context.Context, _ string, _ []domain.RerankCandidate) ([]domain.RerankScore, error) {
		cancel()
		<-rctx.Done()
		return nil, rctx.Err()
	})
	uc, _, _ := newPipelineFixture(reranker)

	_, err := uc.Retrieve(ctx, domain.RetrieveRequest{Query: "fever", TopK: 3, UseReranking: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetrieveEmbeddingFailureFails(t *testing.T) {
	uc, embedder, sparse := newPipelineFixture(nil)
	embedder.err = errors.New("connection refused")

	_, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 3})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if sparse.calls.Load() != 0 {
		t.Fatalf("expected no sparse-only fallback, got %d sparse calls", sparse.calls.Load())
	}
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	uc, embedder, _ := newPipelineFixture(nil)
	embedder.vector = []float32{1, 2}

	_, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 3})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRetrieveDenseErrorFailsQuery(t *testing.T) {
	set := ports.IndexSet{
		Dense:   &denseFake{dim: 3, err: &domain.DimensionError{Expected: 3, Got: 4}},
		Sparse:  &sparseFake{},
		Catalog: catalogFake{"a": passageFixture("a")},
	}
	uc := NewRetrieveUseCase(&embedderFake{vector: []float32{1, 0, 0}}, providerFake{set: set}, nil, nil, RetrievalOptions{})

	_, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 1})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch from dense index, got %v", err)
	}
}

func TestRetrieveDropsHitsMissingFromCatalog(t *testing.T) {
	set := ports.IndexSet{
		Dense:   &denseFake{dim: 3, hits: []domain.ScoredChunk{{ChunkID: "ghost", Score: 0.99}, {ChunkID: "a", Score: 0.5}}},
		Sparse:  &sparseFake{hits: []domain.ScoredChunk{{ChunkID: "a", Score: 1}}},
		Catalog: catalogFake{"a": passageFixture("a")},
	}
	uc := NewRetrieveUseCase(&embedderFake{vector: []float32{1, 0, 0}}, providerFake{set: set}, nil, nil, RetrievalOptions{})

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 1})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	assertOrder(t, chunkIDs(result), "a")
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	set := ports.IndexSet{Dense: &denseFake{dim: 3}, Sparse: &sparseFake{}, Catalog: catalogFake{}}
	uc := NewRetrieveUseCase(&embedderFake{vector: []float32{1, 0, 0}}, providerFake{set: set}, nil, nil, RetrievalOptions{})

	_, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 1})
	if !errors.Is(err, domain.ErrCorpusEmpty) {
		t.Fatalf("expected ErrCorpusEmpty, got %v", err)
	}
}

func TestRetrieveIsIdempotent(t *testing.T) {
	uc, _, _ := newPipelineFixture(nil)
	req := domain.RetrieveRequest{Query: "fever", TopK: 4}

	first, err := uc.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	second, err := uc.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	assertOrder(t, chunkIDs(second), chunkIDs(first)...)
	for i := range first.Items {
		if first.Items[i].RelevanceScore != second.Items[i].RelevanceScore {
			t.Fatalf("expected identical scores at %d", i)
		}
	}
}

// legBarrier holds each search leg until the other one has started.
type legBarrier struct {
	dense  chan struct{}
	sparse chan struct{}
}

func newLegBarrier() *legBarrier {
	return &legBarrier{dense: make(chan struct{}), sparse: make(chan struct{})}
}

func (b *legBarrier) meet(mine, other chan struct{}) error {
	close(mine)
	select {
	case <-other:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("search legs did not overlap")
	}
}

type barrierDense struct {
	denseFake
	barrier *legBarrier
}

func (f *barrierDense) Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if err := f.barrier.meet(f.barrier.dense, f.barrier.sparse); err != nil {
		return nil, err
	}
	return f.denseFake.Search(ctx, vector, k)
}

type barrierSparse struct {
	sparseFake
	barrier *legBarrier
}

func (f *barrierSparse) Search(ctx context.Context, text string, k int) ([]domain.ScoredChunk, error) {
	if err := f.barrier.meet(f.barrier.sparse, f.barrier.dense); err != nil {
		return nil, err
	}
	return f.sparseFake.Search(ctx, text, k)
}

func TestRetrieveRunsDenseAndSparseConcurrently(t *testing.T) {
	barrier := newLegBarrier()
	set := ports.IndexSet{
		Dense: &barrierDense{
			denseFake: denseFake{dim: 3, hits: []domain.ScoredChunk{{ChunkID: "p1", Score: 0.9}}},
			barrier:   barrier,
		},
		Sparse: &barrierSparse{
			sparseFake: sparseFake{hits: []domain.ScoredChunk{{ChunkID: "p2", Score: 3}}},
			barrier:    barrier,
		},
		Catalog: catalogFake{"p1": passageFixture("p1"), "p2": passageFixture("p2")},
	}
	uc := NewRetrieveUseCase(&embedderFake{vector: []float32{1, 0, 0}}, providerFake{set: set}, nil, nil, RetrievalOptions{})

	result, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 2})
	if err != nil {
		t.Fatalf("expected overlapping legs to succeed, got %v", err)
	}
	assertOrder(t, chunkIDs(result), "p1", "p2")
}

type blockingSparse struct {
	cancelled atomic.Bool
}

func (f *blockingSparse) Search(ctx context.Context, _ string, _ int) ([]domain.ScoredChunk, error) {
	select {
	case <-ctx.Done():
		f.cancelled.Store(true)
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
		return nil, nil
	}
}

func TestRetrieveDenseErrorCancelsSparseLeg(t *testing.T) {
	errDense := errors.New("vector store unreachable")
	sparse := &blockingSparse{}
	set := ports.IndexSet{
		Dense:   &denseFake{dim: 3, err: errDense},
		Sparse:  sparse,
		Catalog: catalogFake{"p1": passageFixture("p1")},
	}
	uc := NewRetrieveUseCase(&embedderFake{vector: []float32{1, 0, 0}}, providerFake{set: set}, nil, nil, RetrievalOptions{})

	started := time.Now()
	_, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 1})
	if !errors.Is(err, errDense) {
		t.Fatalf("expected dense error, got %v", err)
	}
	if !sparse.cancelled.Load() {
		t.Fatalf("expected sparse leg to observe cancellation")
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected sparse leg to stop early, took %s", elapsed)
	}
}

func TestRetrieveReleasesIndexSet(t *testing.T) {
	released := &atomic.Int32{}
	set := ports.IndexSet{
		Dense:   &denseFake{dim: 3, err: errors.New("boom")},
		Sparse:  &sparseFake{},
		Catalog: catalogFake{"p1": passageFixture("p1")},
	}
	uc := NewRetrieveUseCase(&embedderFake{vector: []float32{1, 0, 0}}, providerFake{set: set, released: released}, nil, nil, RetrievalOptions{})

	if _, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 1}); err == nil {
		t.Fatalf("expected dense failure")
	}
	set.Dense = &denseFake{dim: 3, hits: []domain.ScoredChunk{{ChunkID: "p1", Score: 1}}}
	uc = NewRetrieveUseCase(&embedderFake{vector: []float32{1, 0, 0}}, providerFake{set: set, released: released}, nil, nil, RetrievalOptions{})
	if _, err := uc.Retrieve(context.Background(), domain.RetrieveRequest{Query: "fever", TopK: 1}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got := released.Load(); got != 2 {
		t.Fatalf("expected index set released after each retrieval, got %d", got)
	}
}
