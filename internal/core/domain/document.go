package domain

import (
	"fmt"
	"strings"
	"time"
)

// SourceDocument is a disease reference document as delivered to ingestion.
type SourceDocument struct {
	DocumentID  string          `json:"document_id" yaml:"document_id"`
	DiseaseID   string          `json:"disease_id" yaml:"disease_id"`
	DiseaseName string          `json:"disease_name" yaml:"disease_name"`
	DiseaseType string          `json:"disease_type" yaml:"disease_type"`
	Sections    []SourceSection `json:"sections" yaml:"sections"`
}

type SourceSection struct {
	Type  string    `json:"type" yaml:"type"`
	Pages PageRange `json:"pages" yaml:"pages"`
	Text  string    `json:"text" yaml:"text"`
}

func (d SourceDocument) Validate() error {
	if strings.TrimSpace(d.DocumentID) == "" {
		return fmt.Errorf("%w: document_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(d.DiseaseName) == "" {
		return fmt.Errorf("%w: document %s: disease_name is required", ErrInvalidInput, d.DocumentID)
	}
	if len(d.Sections) == 0 {
		return fmt.Errorf("%w: document %s has no sections", ErrInvalidInput, d.DocumentID)
	}
	return nil
}

type DenseMetric string

const (
	MetricCosine       DenseMetric = "cosine"
	MetricInnerProduct DenseMetric = "ip"
)

func ParseDenseMetric(raw string) (DenseMetric, error) {
	switch m := DenseMetric(strings.ToLower(strings.TrimSpace(raw))); m {
	case MetricCosine, MetricInnerProduct:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unsupported dense metric %q", ErrInvalidInput, raw)
	}
}

// CorpusManifest records how the stored corpus was built.
type CorpusManifest struct {
	Version          string      `json:"version"`
	TokenizerVersion string      `json:"tokenizer_version"`
	EmbeddingModel   string      `json:"embedding_model"`
	Dimension        int         `json:"dimension"`
	Metric           DenseMetric `json:"metric"`
	PassageCount     int         `json:"passage_count"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// TextSpan is a piece of a section with byte offsets relative to the section start.
type TextSpan struct {
	Text  string
	Start int
	End   int
}

type IngestReport struct {
	CorpusVersion string `json:"corpus_version"`
	Documents     int    `json:"documents"`
	Passages      int    `json:"passages"`
}
