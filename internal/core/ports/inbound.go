package ports

import (
	"context"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

// EvidenceRetriever is the inbound contract for hybrid retrieval.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, req domain.RetrieveRequest) (*domain.EvidenceResult, error)
}

// QuestionAnswerer is the inbound contract for grounded answers with citations.
type QuestionAnswerer interface {
	Answer(ctx context.Context, req domain.RetrieveRequest) (*domain.Answer, error)
}

// SymptomDiagnoser ranks candidate diseases for a symptom list using
// retrieved evidence.
type SymptomDiagnoser interface {
	Diagnose(ctx context.Context, req domain.DiagnoseRequest) (*domain.DiagnosisReport, error)
}

// CorpusIngestor is the inbound contract for loading a disease corpus.
type CorpusIngestor interface {
	Ingest(ctx context.Context, docs []domain.SourceDocument) (*domain.IngestReport, error)
}

// IndexReloader rebuilds the in-memory indexes from the passage store.
type IndexReloader interface {
	Reload(ctx context.Context) error
}
