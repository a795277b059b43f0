package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

// VectorIndex runs exact nearest-neighbour search over the passages table.
type VectorIndex struct {
	db        *sql.DB
	dimension int
	metric    domain.DenseMetric
}

func NewVectorIndex(db *sql.DB, dimension int, metric domain.DenseMetric) *VectorIndex {
	if metric == "" {
		metric = domain.MetricCosine
	}
	return &VectorIndex{db: db, dimension: dimension, metric: metric}
}

func (v *VectorIndex) Dimension() int {
	return v.dimension
}

func (v *VectorIndex) Metric() domain.DenseMetric {
	return v.metric
}

func (v *VectorIndex) Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := domain.CheckDimension(vector, v.dimension); err != nil {
		return nil, err
	}

	// <=> is cosine distance, <#> is negative inner product.
	query := `
SELECT chunk_id, 1 - (embedding <=> $1) AS score
FROM passages
ORDER BY embedding <=> $1, chunk_id
LIMIT $2
`
	if v.metric == domain.MetricInnerProduct {
		query = `
SELECT chunk_id, (embedding <#> $1) * -1 AS score
FROM passages
ORDER BY embedding <#> $1, chunk_id
LIMIT $2
`
	}

	rows, err := v.db.QueryContext(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredChunk, 0, k)
	for rows.Next() {
		var hit domain.ScoredChunk
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan pgvector hit: %w", err)
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pgvector hits: %w", err)
	}
	return out, nil
}
