package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type SectionType string

const (
	SectionOverview     SectionType = "overview"
	SectionEtiology     SectionType = "etiology"
	SectionEpidemiology SectionType = "epidemiology"
	SectionSymptoms     SectionType = "symptoms"
	SectionDiagnosis    SectionType = "diagnosis"
	SectionTreatment    SectionType = "treatment"
	SectionPrevention   SectionType = "prevention"
	SectionPrognosis    SectionType = "prognosis"
	SectionOther        SectionType = "other"
)

// ParseSectionType maps free-form section labels to the known set, falling back to SectionOther.
func ParseSectionType(raw string) SectionType {
	switch s := SectionType(strings.ToLower(strings.TrimSpace(raw))); s {
	case SectionOverview, SectionEtiology, SectionEpidemiology, SectionSymptoms, SectionDiagnosis,
		SectionTreatment, SectionPrevention, SectionPrognosis:
		return s
	case "clinical signs", "clinical_signs", "signs":
		return SectionSymptoms
	case "control", "biosecurity":
		return SectionPrevention
	default:
		return SectionOther
	}
}

type PageRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

func (r PageRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("p. %d", r.Start)
	}
	return fmt.Sprintf("pp. %d-%d", r.Start, r.End)
}

// Passage is an immutable unit of retrievable text.
type Passage struct {
	DocumentID  string      `json:"document_id"`
	DiseaseType string      `json:"disease_type"`
	DiseaseName string      `json:"disease_name"`
	DiseaseID   string      `json:"disease_id"`
	ChunkID     string      `json:"chunk_id"`
	ChunkIndex  int         `json:"chunk_index"`
	SectionType SectionType `json:"section_type"`
	PageRange   PageRange   `json:"page_range"`
	Text        string      `json:"text"`
	StartOffset int         `json:"start_offset"`
	EndOffset   int         `json:"end_offset"`
}

func (p Passage) Validate() error {
	if strings.TrimSpace(p.ChunkID) == "" {
		return fmt.Errorf("%w: chunk_id is required", ErrInvalidInput)
	}
	if p.StartOffset < 0 || p.EndOffset <= p.StartOffset {
		return fmt.Errorf("%w: chunk %s has invalid offsets [%d,%d)", ErrInvalidInput, p.ChunkID, p.StartOffset, p.EndOffset)
	}
	if p.PageRange.Start > p.PageRange.End {
		return fmt.Errorf("%w: chunk %s has invalid page range %d-%d", ErrInvalidInput, p.ChunkID, p.PageRange.Start, p.PageRange.End)
	}
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("%w: chunk %s has empty text", ErrInvalidInput, p.ChunkID)
	}
	return nil
}

// Preview returns at most limit runes of the passage text.
func (p Passage) Preview(limit int) string {
	if limit <= 0 || utf8.RuneCountInString(p.Text) <= limit {
		return p.Text
	}
	runes := []rune(p.Text)
	return string(runes[:limit]) + "..."
}

// IndexedPassage pairs a passage with its dense vector.
type IndexedPassage struct {
	Passage Passage
	Vector  []float32
}
