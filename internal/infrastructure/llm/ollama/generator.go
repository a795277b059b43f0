package ollama

import (
	"context"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/resilience"
)

type Generator struct {
	client   *Client
	executor *resilience.Executor
}

func NewGenerator(client *Client, executor *resilience.Executor) *Generator {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Generator{client: client, executor: executor}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, evidence []domain.EvidenceItem) (string, error) {
	req := generateRequest{
		Model:  g.client.genModel,
		Prompt: buildAnswerPrompt(question, evidence),
		Stream: false,
	}
	text, err := resilience.ExecuteValue(ctx, g.executor, "ollama_generate", func(ctx context.Context) (string, error) {
		return g.client.generate(ctx, req, "generate")
	}, classifyOllamaError)
	if err != nil {
		return "", generationError("ollama generate", err)
	}
	return text, nil
}
