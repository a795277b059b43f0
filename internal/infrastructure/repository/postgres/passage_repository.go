package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

const schemaLockID = int64(2026101701)

type PassageRepository struct {
	db *sql.DB
}

func NewPassageRepository(db *sql.DB) *PassageRepository {
	return &PassageRepository{db: db}
}

func (r *PassageRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/ingest startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS passages (
	chunk_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	disease_id TEXT NOT NULL,
	disease_name TEXT NOT NULL,
	disease_type TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL,
	section_type TEXT NOT NULL,
	page_start INTEGER NOT NULL,
	page_end INTEGER NOT NULL,
	text TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	embedding vector NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passages_document_id ON passages(document_id);

CREATE TABLE IF NOT EXISTS corpus_manifest (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	version TEXT NOT NULL,
	tokenizer_version TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	dimension INTEGER NOT NULL,
	metric TEXT NOT NULL,
	passage_count INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *PassageRepository) UpsertPassages(ctx context.Context, passages []domain.IndexedPassage) error {
	if len(passages) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
INSERT INTO passages (
	chunk_id, document_id, disease_id, disease_name, disease_type, chunk_index, section_type,
	page_start, page_end, text, start_offset, end_offset, embedding, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (chunk_id) DO UPDATE SET
	document_id = EXCLUDED.document_id,
	disease_id = EXCLUDED.disease_id,
	disease_name = EXCLUDED.disease_name,
	disease_type = EXCLUDED.disease_type,
	chunk_index = EXCLUDED.chunk_index,
	section_type = EXCLUDED.section_type,
	page_start = EXCLUDED.page_start,
	page_end = EXCLUDED.page_end,
	text = EXCLUDED.text,
	start_offset = EXCLUDED.start_offset,
	end_offset = EXCLUDED.end_offset,
	embedding = EXCLUDED.embedding,
	updated_at = EXCLUDED.updated_at
`
	now := time.Now().UTC()
	for _, entry := range passages {
		p := entry.Passage
		_, err := tx.ExecContext(ctx, query,
			p.ChunkID,
			p.DocumentID,
			p.DiseaseID,
			p.DiseaseName,
			p.DiseaseType,
			p.ChunkIndex,
			string(p.SectionType),
			p.PageRange.Start,
			p.PageRange.End,
			p.Text,
			p.StartOffset,
			p.EndOffset,
			pgvector.NewVector(entry.Vector),
			now,
		)
		if err != nil {
			return fmt.Errorf("upsert passage %s: %w", p.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

func (r *PassageRepository) ListPassages(ctx context.Context) ([]domain.IndexedPassage, error) {
	const query = `
SELECT chunk_id, document_id, disease_id, disease_name, disease_type, chunk_index, section_type,
	page_start, page_end, text, start_offset, end_offset, embedding
FROM passages
ORDER BY chunk_id
`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list passages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.IndexedPassage, 0)
	for rows.Next() {
		var (
			p           domain.Passage
			sectionType string
			embedding   pgvector.Vector
		)
		if err := rows.Scan(
			&p.ChunkID,
			&p.DocumentID,
			&p.DiseaseID,
			&p.DiseaseName,
			&p.DiseaseType,
			&p.ChunkIndex,
			&sectionType,
			&p.PageRange.Start,
			&p.PageRange.End,
			&p.Text,
			&p.StartOffset,
			&p.EndOffset,
			&embedding,
		); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		p.SectionType = domain.SectionType(sectionType)
		out = append(out, domain.IndexedPassage{Passage: p, Vector: embedding.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passages: %w", err)
	}
	return out, nil
}

func (r *PassageRepository) SaveManifest(ctx context.Context, manifest domain.CorpusManifest) error {
	const query = `
INSERT INTO corpus_manifest (id, version, tokenizer_version, embedding_model, dimension, metric, passage_count, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	version = EXCLUDED.version,
	tokenizer_version = EXCLUDED.tokenizer_version,
	embedding_model = EXCLUDED.embedding_model,
	dimension = EXCLUDED.dimension,
	metric = EXCLUDED.metric,
	passage_count = EXCLUDED.passage_count,
	updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, query,
		manifest.Version,
		manifest.TokenizerVersion,
		manifest.EmbeddingModel,
		manifest.Dimension,
		string(manifest.Metric),
		manifest.PassageCount,
		manifest.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save corpus manifest: %w", err)
	}
	return nil
}

// GetManifest returns nil when no corpus has been ingested yet.
func (r *PassageRepository) GetManifest(ctx context.Context) (*domain.CorpusManifest, error) {
	const query = `
SELECT version, tokenizer_version, embedding_model, dimension, metric, passage_count, updated_at
FROM corpus_manifest
WHERE id = 1
`
	var (
		m      domain.CorpusManifest
		metric string
	)
	err := r.db.QueryRowContext(ctx, query).Scan(
		&m.Version,
		&m.TokenizerVersion,
		&m.EmbeddingModel,
		&m.Dimension,
		&metric,
		&m.PassageCount,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get corpus manifest: %w", err)
	}
	m.Metric = domain.DenseMetric(metric)
	return &m, nil
}
