package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/resilience"
)

const defaultMaxInputChars = 8192

type EmbedderOptions struct {
	Dimension     int
	MaxInputChars int
}

// Embedder calls /api/embed through the resilience executor. It keeps no
// state between calls.
type Embedder struct {
	client   *Client
	executor *resilience.Executor
	opts     EmbedderOptions
}

func NewEmbedder(client *Client, executor *resilience.Executor, opts EmbedderOptions) *Embedder {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = defaultMaxInputChars
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Embedder{client: client, executor: executor, opts: opts}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if err := e.validate(text); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}

	vectors, err := resilience.ExecuteValue(ctx, e.executor, "ollama_embed", func(ctx context.Context) ([][]float32, error) {
		return e.client.embed(ctx, texts)
	}, classifyOllamaError)
	if err != nil {
		return nil, embeddingError("ollama embed", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "ollama embed",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors)))
	}
	for _, v := range vectors {
		if err := domain.CheckDimension(v, e.opts.Dimension); err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "embed", errors.New("text is empty"))
	}
	if n := utf8.RuneCountInString(text); n > e.opts.MaxInputChars {
		return domain.WrapError(domain.ErrInvalidInput, "embed",
			fmt.Errorf("text has %d characters, limit is %d", n, e.opts.MaxInputChars))
	}
	return nil
}
