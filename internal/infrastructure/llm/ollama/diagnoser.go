package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/resilience"
)

// Diagnoser asks the generation model for ranked diagnoses as JSON
// constrained by diagnosisSchema.
type Diagnoser struct {
	client   *Client
	executor *resilience.Executor
}

func NewDiagnoser(client *Client, executor *resilience.Executor) *Diagnoser {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Diagnoser{client: client, executor: executor}
}

func (d *Diagnoser) GenerateDiagnoses(ctx context.Context, symptoms []string, evidence []domain.EvidenceItem) ([]domain.Diagnosis, error) {
	req := generateRequest{
		Model:   d.client.genModel,
		Prompt:  buildDiagnosisPrompt(symptoms, evidence),
		Stream:  false,
		Format:  diagnosisSchema(),
		Options: map[string]any{"temperature": 0},
	}
	raw, err := resilience.ExecuteValue(ctx, d.executor, "ollama_generate", func(ctx context.Context) (string, error) {
		return d.client.generate(ctx, req, "diagnose")
	}, classifyOllamaError)
	if err != nil {
		return nil, generationError("ollama diagnose", err)
	}
	return parseDiagnoses(raw)
}

func parseDiagnoses(raw string) ([]domain.Diagnosis, error) {
	var envelope struct {
		Diagnoses []domain.Diagnosis `json:"diagnoses"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &envelope); err != nil {
		return nil, fmt.Errorf("parse diagnosis json: %w", err)
	}
	return envelope.Diagnoses, nil
}
