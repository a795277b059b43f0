package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
)

const defaultMaxDiagnoses = 5

type DiagnoseUseCase struct {
	retriever ports.EvidenceRetriever
	generator ports.DiagnosisGenerator
}

func NewDiagnoseUseCase(retriever ports.EvidenceRetriever, generator ports.DiagnosisGenerator) *DiagnoseUseCase {
	return &DiagnoseUseCase{
		retriever: retriever,
		generator: generator,
	}
}

// Diagnose retrieves evidence for the symptom list and asks the generator for
// ranked diagnoses. Without evidence the report is empty and the generator is
// not called.
func (uc *DiagnoseUseCase) Diagnose(ctx context.Context, req domain.DiagnoseRequest) (*domain.DiagnosisReport, error) {
	symptoms, err := req.NormalizedSymptoms()
	if err != nil {
		return nil, err
	}

	evidence, err := uc.retriever.Retrieve(ctx, domain.RetrieveRequest{
		Query:        symptomQuery(symptoms),
		TopK:         req.TopK,
		UseReranking: req.UseReranking,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}

	report := &domain.DiagnosisReport{
		Symptoms:       symptoms,
		Diagnoses:      []domain.Diagnosis{},
		Sources:        make([]domain.Citation, 0, len(evidence.Items)),
		Degraded:       evidence.Degraded,
		DegradedReason: evidence.DegradedReason,
		RetrievalID:    evidence.RetrievalID,
	}
	if len(evidence.Items) == 0 {
		return report, nil
	}

	generated, err := uc.generator.GenerateDiagnoses(ctx, symptoms, evidence.Items)
	if err != nil {
		return nil, domain.WrapError(domain.ErrGenerationUnavailable, "generate diagnoses", err)
	}

	limit := req.MaxResults
	if limit <= 0 {
		limit = defaultMaxDiagnoses
	}
	report.Diagnoses = rankDiagnoses(generated, limit)
	if dropped := len(generated) - len(report.Diagnoses); dropped > 0 {
		slog.Debug("diagnoses_filtered",
			slog.String("retrieval_id", evidence.RetrievalID),
			slog.Int("generated", len(generated)),
			slog.Int("kept", len(report.Diagnoses)),
		)
	}
	for _, item := range evidence.Items {
		report.Sources = append(report.Sources, item.Citation)
	}
	return report, nil
}

func symptomQuery(symptoms []string) string {
	return "cattle disease with symptoms: " + strings.Join(symptoms, ", ")
}

// rankDiagnoses drops unnamed entries and probabilities outside [0,1], keeps
// the most probable entry per disease name and orders by probability desc,
// then name asc.
func rankDiagnoses(in []domain.Diagnosis, limit int) []domain.Diagnosis {
	best := make(map[string]domain.Diagnosis, len(in))
	for _, d := range in {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" || math.IsNaN(d.Probability) || d.Probability < 0 || d.Probability > 1 {
			continue
		}
		key := strings.ToLower(d.Name)
		if prev, ok := best[key]; ok && prev.Probability >= d.Probability {
			continue
		}
		best[key] = d
	}

	out := make([]domain.Diagnosis, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
