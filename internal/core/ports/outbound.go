package ports

import (
	"context"
	"time"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

// Embedder builds vectors for passages and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DenseIndex performs nearest-neighbour lookup over passage vectors.
type DenseIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error)
	Dimension() int
	Metric() domain.DenseMetric
}

// SparseIndex performs BM25 keyword lookup over passage text.
type SparseIndex interface {
	Search(ctx context.Context, text string, k int) ([]domain.ScoredChunk, error)
}

// PassageCatalog resolves chunk ids to passages.
type PassageCatalog interface {
	Passage(chunkID string) (domain.Passage, bool)
	Len() int
}

// IndexSet is one consistent, read-only view of the corpus.
type IndexSet struct {
	Version string
	Dense   DenseIndex
	Sparse  SparseIndex
	Catalog PassageCatalog
}

// IndexProvider hands out the current index set. The set stays usable until
// release is called, even if a reload replaces it in the meantime.
type IndexProvider interface {
	Acquire() (set IndexSet, release func(), err error)
}

// Reranker scores candidates against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankScore, error)
}

// AnswerGenerator creates the final user-facing answer.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, evidence []domain.EvidenceItem) (string, error)
}

// DiagnosisGenerator produces structured diagnoses grounded in evidence.
type DiagnosisGenerator interface {
	GenerateDiagnoses(ctx context.Context, symptoms []string, evidence []domain.EvidenceItem) ([]domain.Diagnosis, error)
}

// Chunker splits section text into spans.
type Chunker interface {
	Split(text string) []domain.TextSpan
}

// PassageRepository persists passages, vectors and the corpus manifest.
type PassageRepository interface {
	UpsertPassages(ctx context.Context, passages []domain.IndexedPassage) error
	ListPassages(ctx context.Context) ([]domain.IndexedPassage, error)
	SaveManifest(ctx context.Context, manifest domain.CorpusManifest) error
	GetManifest(ctx context.Context) (*domain.CorpusManifest, error)
}

// VectorWriter mirrors passage vectors into an external dense index.
type VectorWriter interface {
	UpsertPassages(ctx context.Context, passages []domain.IndexedPassage) error
}

// CorpusEvents publishes/consumes corpus update notifications.
type CorpusEvents interface {
	PublishCorpusUpdated(ctx context.Context, version string) error
	SubscribeCorpusUpdated(ctx context.Context, handler func(context.Context, string) error) error
}

// RetrievalObserver receives per-query stage timings and outcomes.
type RetrievalObserver interface {
	ObserveStage(state domain.RetrievalState, duration time.Duration)
	ObserveRetrieval(mode domain.RetrievalMode, state domain.RetrievalState, results int)
}
