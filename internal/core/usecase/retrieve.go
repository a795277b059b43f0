package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
)

const (
	defaultTopK              = 5
	defaultMaxTopK           = 20
	defaultCandidateMultiple = 3
	defaultRerankTimeout     = 8 * time.Second
	citationPreviewChars     = 200
)

type RetrievalOptions struct {
	DefaultTopK         int
	MaxTopK             int
	Fusion              FusionConfig
	CandidateMultiplier int
	MaxFusionCandidates int
	RerankMaxCandidates int
	RerankTimeout       time.Duration
}

func (o RetrievalOptions) normalized() RetrievalOptions {
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = defaultTopK
	}
	if o.MaxTopK <= 0 {
		o.MaxTopK = defaultMaxTopK
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = defaultCandidateMultiple
	}
	if o.RerankMaxCandidates <= 0 {
		o.RerankMaxCandidates = defaultRerankMaxCandidates
	}
	if o.RerankTimeout <= 0 {
		o.RerankTimeout = defaultRerankTimeout
	}
	o.Fusion = o.Fusion.normalized()
	return o
}

type RetrieveUseCase struct {
	embedder ports.Embedder
	indexes  ports.IndexProvider
	reranker ports.Reranker
	observer ports.RetrievalObserver
	opts     RetrievalOptions
	newID    func() string
}

func NewRetrieveUseCase(
	embedder ports.Embedder,
	indexes ports.IndexProvider,
	reranker ports.Reranker,
	observer ports.RetrievalObserver,
	opts RetrievalOptions,
) *RetrieveUseCase {
	if observer == nil {
		observer = noopObserver{}
	}
	return &RetrieveUseCase{
		embedder: embedder,
		indexes:  indexes,
		reranker: reranker,
		observer: observer,
		opts:     opts.normalized(),
		newID:    uuid.NewString,
	}
}

// DefaultTopK is the top_k applied by adapters when the caller sends none.
func (uc *RetrieveUseCase) DefaultTopK() int {
	return uc.opts.DefaultTopK
}

// Retrieve runs embedding, parallel dense/sparse search, fusion and optional
// reranking. Reranking failures degrade the result instead of failing it.
func (uc *RetrieveUseCase) Retrieve(ctx context.Context, req domain.RetrieveRequest) (*domain.EvidenceResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}
	if req.TopK < 1 || req.TopK > uc.opts.MaxTopK {
		return nil, fmt.Errorf("retrieve: %w: got %d, allowed 1..%d", domain.ErrInvalidTopK, req.TopK, uc.opts.MaxTopK)
	}

	set, release, err := uc.indexes.Acquire()
	if err != nil {
		return nil, fmt.Errorf("load indexes: %w", err)
	}
	defer release()
	corpusSize := set.Catalog.Len()
	if corpusSize == 0 {
		return nil, domain.WrapError(domain.ErrCorpusEmpty, "retrieve", errors.New("no passages indexed"))
	}
	topK := req.TopK
	if topK > corpusSize {
		topK = corpusSize
	}

	started := time.Now()
	vector, err := uc.embedQuery(ctx, query, set.Dense)
	if err != nil {
		uc.observer.ObserveRetrieval("", domain.StateFailed, 0)
		return nil, err
	}

	searchK := fusionLimit(topK, uc.opts.CandidateMultiplier, uc.opts.MaxFusionCandidates)
	dense, sparse, err := uc.search(ctx, set, vector, query, searchK)
	if err != nil {
		uc.observer.ObserveRetrieval("", domain.StateFailed, 0)
		return nil, err
	}

	stageStarted := time.Now()
	candidates := fuseCandidates(dense, sparse, uc.opts.Fusion)
	candidates = trimCandidates(candidates, searchK)
	uc.observer.ObserveStage(domain.StateFusion, time.Since(stageStarted))

	result := &domain.EvidenceResult{
		RetrievalID:    uc.newID(),
		Query:          query,
		CandidateCount: len(candidates),
		Mode:           domain.ModeFusionOnly,
	}

	var hits []domain.RerankedHit
	if req.UseReranking && len(candidates) > 0 {
		hits, err = uc.rerank(ctx, query, candidates, set.Catalog, result)
		if err != nil {
			uc.observer.ObserveRetrieval("", domain.StateFailed, 0)
			return nil, err
		}
	} else {
		hits = fusionOrderHits(candidates, uc.opts.Fusion)
	}

	if len(hits) > topK {
		hits = hits[:topK]
	}
	result.Items = buildEvidence(hits, set.Catalog)

	uc.observer.ObserveRetrieval(result.Mode, domain.StateDone, len(result.Items))
	slog.Debug("retrieval_completed",
		slog.String("retrieval_id", result.RetrievalID),
		slog.String("corpus_version", set.Version),
		slog.String("mode", string(result.Mode)),
		slog.Int("top_k", req.TopK),
		slog.Int("dense_hits", len(dense)),
		slog.Int("sparse_hits", len(sparse)),
		slog.Int("candidates", len(candidates)),
		slog.Int("results", len(result.Items)),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()),
	)
	return result, nil
}

func (uc *RetrieveUseCase) embedQuery(ctx context.Context, query string, dense ports.DenseIndex) ([]float32, error) {
	started := time.Now()
	defer func() { uc.observer.ObserveStage(domain.StateEmbedding, time.Since(started)) }()

	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("embed query: %w", ctxErr)
		}
		if domain.IsKind(err, domain.ErrInvalidInput) ||
			domain.IsKind(err, domain.ErrDimensionMismatch) ||
			domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", err)
	}
	if err := domain.CheckDimension(vector, dense.Dimension()); err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vector, nil
}

// search queries both indexes concurrently. Hits unknown to the catalog are
// dropped and each list is deduplicated by chunk id.
func (uc *RetrieveUseCase) search(
	ctx context.Context,
	set ports.IndexSet,
	vector []float32,
	query string,
	k int,
) ([]domain.ScoredChunk, []domain.ScoredChunk, error) {
	started := time.Now()
	defer func() { uc.observer.ObserveStage(domain.StateSearch, time.Since(started)) }()

	var dense, sparse []domain.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := set.Dense.Search(gctx, vector, k)
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		dense = hits
		return nil
	})
	g.Go(func() error {
		hits, err := set.Sparse.Search(gctx, query, k)
		if err != nil {
			return fmt.Errorf("sparse search: %w", err)
		}
		sparse = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	dense = dedupeHits(knownHits(dense, set.Catalog, "dense"))
	sparse = dedupeHits(knownHits(sparse, set.Catalog, "sparse"))
	return dense, sparse, nil
}

func knownHits(hits []domain.ScoredChunk, catalog ports.PassageCatalog, method string) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, len(hits))
	dropped := 0
	for _, hit := range hits {
		if _, ok := catalog.Passage(hit.ChunkID); !ok {
			dropped++
			continue
		}
		out = append(out, hit)
	}
	if dropped > 0 {
		slog.Warn("index_catalog_mismatch", slog.String("method", method), slog.Int("dropped", dropped))
	}
	return out
}

// rerank submits the head of the fused list to the reranker. Only a caller
// cancellation is returned as an error; everything else degrades.
func (uc *RetrieveUseCase) rerank(
	ctx context.Context,
	query string,
	candidates []domain.CandidateHit,
	catalog ports.PassageCatalog,
	result *domain.EvidenceResult,
) ([]domain.RerankedHit, error) {
	started := time.Now()
	defer func() { uc.observer.ObserveStage(domain.StateReranking, time.Since(started)) }()

	if uc.reranker == nil {
		uc.degrade(result, "reranker not configured")
		return fusionOrderHits(candidates, uc.opts.Fusion), nil
	}

	submitted := rerankCandidateCount(uc.opts.RerankMaxCandidates, len(candidates))
	batch := make([]domain.RerankCandidate, 0, submitted)
	for _, c := range candidates[:submitted] {
		passage, _ := catalog.Passage(c.ChunkID)
		batch = append(batch, domain.RerankCandidate{ChunkID: c.ChunkID, Text: passage.Text})
	}

	rctx, cancel := context.WithTimeout(ctx, uc.opts.RerankTimeout)
	defer cancel()

	scores, err := uc.reranker.Rerank(rctx, query, batch)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rerank: %w", ctxErr)
		}
		reason := domain.WrapError(domain.ErrRerankingUnavailable, "rerank", err).Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("rerank: %s: timed out after %s", domain.ErrRerankingUnavailable, uc.opts.RerankTimeout)
		}
		uc.degrade(result, reason)
		return fusionOrderHits(candidates, uc.opts.Fusion), nil
	}

	hits, fallbacks := mergeRerankScores(candidates, submitted, scores, uc.opts.Fusion)
	if fallbacks == submitted {
		uc.degrade(result, fmt.Sprintf("rerank: %s: no usable scores returned", domain.ErrRerankingUnavailable))
		return fusionOrderHits(candidates, uc.opts.Fusion), nil
	}
	if fallbacks > 0 {
		slog.Warn("rerank_partial_fallback",
			slog.String("retrieval_id", result.RetrievalID),
			slog.Int("submitted", submitted),
			slog.Int("fallbacks", fallbacks),
		)
	}
	result.Mode = domain.ModeReranked
	return hits, nil
}

func (uc *RetrieveUseCase) degrade(result *domain.EvidenceResult, reason string) {
	result.Mode = domain.ModeDegraded
	result.Degraded = true
	result.DegradedReason = reason
	slog.Warn("rerank_degraded",
		slog.String("retrieval_id", result.RetrievalID),
		slog.String("reason", reason),
	)
}

func buildEvidence(hits []domain.RerankedHit, catalog ports.PassageCatalog) []domain.EvidenceItem {
	items := make([]domain.EvidenceItem, 0, len(hits))
	for _, hit := range hits {
		passage, ok := catalog.Passage(hit.ChunkID)
		if !ok {
			continue
		}
		items = append(items, domain.EvidenceItem{
			Passage:        passage,
			RelevanceScore: hit.RelevanceScore,
			Rank:           len(items) + 1,
			Reranked:       hit.Reranked,
			Rationale:      hit.Rationale,
			Citation: domain.Citation{
				DiseaseName:    passage.DiseaseName,
				SectionType:    passage.SectionType,
				ChunkIndex:     passage.ChunkIndex,
				PageRange:      passage.PageRange,
				ContentPreview: passage.Preview(citationPreviewChars),
			},
		})
	}
	return items
}

type noopObserver struct{}

func (noopObserver) ObserveStage(domain.RetrievalState, time.Duration) {}

func (noopObserver) ObserveRetrieval(domain.RetrievalMode, domain.RetrievalState, int) {}
