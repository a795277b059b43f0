package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
)

// sectionSeparator joins sections when computing document byte offsets.
const sectionSeparator = "\n\n"

type IngestOptions struct {
	EmbeddingModel   string
	TokenizerVersion string
	Metric           domain.DenseMetric
	Dimension        int
	BatchSize        int
	Concurrency      int
}

type IngestCorpusUseCase struct {
	repo     ports.PassageRepository
	mirror   ports.VectorWriter
	chunker  ports.Chunker
	embedder ports.Embedder
	events   ports.CorpusEvents
	opts     IngestOptions
	now      func() time.Time
}

// NewIngestCorpusUseCase wires ingestion. mirror and events may be nil.
func NewIngestCorpusUseCase(
	repo ports.PassageRepository,
	mirror ports.VectorWriter,
	chunker ports.Chunker,
	embedder ports.Embedder,
	events ports.CorpusEvents,
	opts IngestOptions,
) *IngestCorpusUseCase {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Metric == "" {
		opts.Metric = domain.MetricCosine
	}
	return &IngestCorpusUseCase{
		repo:     repo,
		mirror:   mirror,
		chunker:  chunker,
		embedder: embedder,
		events:   events,
		opts:     opts,
		now:      time.Now,
	}
}

func (uc *IngestCorpusUseCase) Ingest(ctx context.Context, docs []domain.SourceDocument) (*domain.IngestReport, error) {
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest corpus", fmt.Errorf("no documents"))
	}

	passages, err := uc.buildPassages(docs)
	if err != nil {
		return nil, err
	}

	vectors, err := uc.embedPassages(ctx, passages)
	if err != nil {
		return nil, err
	}

	indexed := make([]domain.IndexedPassage, len(passages))
	for i := range passages {
		indexed[i] = domain.IndexedPassage{Passage: passages[i], Vector: vectors[i]}
	}

	if err := uc.repo.UpsertPassages(ctx, indexed); err != nil {
		return nil, fmt.Errorf("store passages: %w", err)
	}
	if uc.mirror != nil {
		if err := uc.mirror.UpsertPassages(ctx, indexed); err != nil {
			return nil, fmt.Errorf("mirror vectors: %w", err)
		}
	}

	now := uc.now().UTC()
	manifest := domain.CorpusManifest{
		Version:          now.Format("20060102T150405Z"),
		TokenizerVersion: uc.opts.TokenizerVersion,
		EmbeddingModel:   uc.opts.EmbeddingModel,
		Dimension:        len(vectors[0]),
		Metric:           uc.opts.Metric,
		PassageCount:     len(indexed),
		UpdatedAt:        now,
	}
	if err := uc.repo.SaveManifest(ctx, manifest); err != nil {
		return nil, fmt.Errorf("save corpus manifest: %w", err)
	}

	if uc.events != nil {
		if err := uc.events.PublishCorpusUpdated(ctx, manifest.Version); err != nil {
			return nil, fmt.Errorf("publish corpus update: %w", err)
		}
	}

	slog.Info("corpus_ingested",
		slog.String("version", manifest.Version),
		slog.Int("documents", len(docs)),
		slog.Int("passages", len(indexed)),
		slog.Int("dimension", manifest.Dimension),
	)

	return &domain.IngestReport{
		CorpusVersion: manifest.Version,
		Documents:     len(docs),
		Passages:      len(indexed),
	}, nil
}

// buildPassages chunks every section. Offsets are relative to the document
// formed by joining sections with sectionSeparator; chunk indexes run across
// the whole document.
func (uc *IngestCorpusUseCase) buildPassages(docs []domain.SourceDocument) ([]domain.Passage, error) {
	seen := make(map[string]struct{})
	out := make([]domain.Passage, 0, len(docs)*8)
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return nil, err
		}
		base := 0
		chunkIndex := 0
		for _, section := range doc.Sections {
			for _, span := range uc.chunker.Split(section.Text) {
				p := domain.Passage{
					DocumentID:  doc.DocumentID,
					DiseaseType: doc.DiseaseType,
					DiseaseName: doc.DiseaseName,
					DiseaseID:   doc.DiseaseID,
					ChunkID:     fmt.Sprintf("%s-%04d", doc.DocumentID, chunkIndex),
					ChunkIndex:  chunkIndex,
					SectionType: domain.ParseSectionType(section.Type),
					PageRange:   section.Pages,
					Text:        span.Text,
					StartOffset: base + span.Start,
					EndOffset:   base + span.End,
				}
				if err := p.Validate(); err != nil {
					return nil, err
				}
				if _, dup := seen[p.ChunkID]; dup {
					return nil, fmt.Errorf("%w: duplicate chunk id %s", domain.ErrInvalidInput, p.ChunkID)
				}
				seen[p.ChunkID] = struct{}{}
				out = append(out, p)
				chunkIndex++
			}
			base += len(section.Text) + len(sectionSeparator)
		}
	}
	if len(out) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest corpus", fmt.Errorf("no passages produced"))
	}
	return out, nil
}

func (uc *IngestCorpusUseCase) embedPassages(ctx context.Context, passages []domain.Passage) ([][]float32, error) {
	vectors := make([][]float32, len(passages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.opts.Concurrency)
	for start := 0; start < len(passages); start += uc.opts.BatchSize {
		end := min(start+uc.opts.BatchSize, len(passages))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, p := range passages[start:end] {
				texts = append(texts, p.Text)
			}
			batch, err := uc.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed passages %d-%d: %w", start, end, err)
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("embed passages %d-%d: expected %d vectors, got %d", start, end, len(texts), len(batch))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := uc.opts.Dimension
	if dim <= 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if err := domain.CheckDimension(v, dim); err != nil {
			return nil, fmt.Errorf("passage %s: %w", passages[i].ChunkID, err)
		}
	}
	return vectors, nil
}
