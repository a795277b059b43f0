package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
)

const noEvidenceAnswer = "I could not find relevant information in the disease reference corpus to answer this question."

type AnswerUseCase struct {
	retriever ports.EvidenceRetriever
	generator ports.AnswerGenerator
}

func NewAnswerUseCase(retriever ports.EvidenceRetriever, generator ports.AnswerGenerator) *AnswerUseCase {
	return &AnswerUseCase{
		retriever: retriever,
		generator: generator,
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.RetrieveRequest) (*domain.Answer, error) {
	evidence, err := uc.retriever.Retrieve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}

	answer := &domain.Answer{
		Sources:        make([]domain.Citation, 0, len(evidence.Items)),
		Degraded:       evidence.Degraded,
		DegradedReason: evidence.DegradedReason,
		RetrievalID:    evidence.RetrievalID,
	}
	if len(evidence.Items) == 0 {
		answer.Text = noEvidenceAnswer
		return answer, nil
	}

	text, err := uc.generator.GenerateAnswer(ctx, evidence.Query, evidence.Items)
	if err != nil {
		return nil, domain.WrapError(domain.ErrGenerationUnavailable, "generate answer", err)
	}
	answer.Text = text
	for _, item := range evidence.Items {
		answer.Sources = append(answer.Sources, item.Citation)
	}
	return answer, nil
}
