package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/resilience"
)

const defaultRerankDocChars = 1000

type RerankerOptions struct {
	MaxDocChars int
}

// Reranker asks the generation model to score all candidates in one call
// with a JSON schema constrained response.
type Reranker struct {
	client   *Client
	executor *resilience.Executor
	opts     RerankerOptions
}

func NewReranker(client *Client, executor *resilience.Executor, opts RerankerOptions) *Reranker {
	if opts.MaxDocChars <= 0 {
		opts.MaxDocChars = defaultRerankDocChars
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig().WithoutRetries())
	}
	return &Reranker{client: client, executor: executor, opts: opts}
}

type rerankEntry struct {
	ID        int      `json:"id"`
	Score     *float64 `json:"score"`
	Rationale string   `json:"rationale"`
}

func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankScore, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	req := generateRequest{
		Model:   r.client.rerankModel,
		Prompt:  buildRerankPrompt(query, candidates, r.opts.MaxDocChars),
		Stream:  false,
		Format:  rerankSchema(),
		Options: map[string]any{"temperature": 0},
	}
	raw, err := resilience.ExecuteValue(ctx, r.executor, "ollama_rerank", func(ctx context.Context) (string, error) {
		return r.client.generate(ctx, req, "rerank")
	}, classifyOllamaError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerankingUnavailable, "ollama rerank", err)
	}

	scores, err := parseRerankScores(raw, candidates)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerankingUnavailable, "ollama rerank", err)
	}
	return scores, nil
}

// parseRerankScores decodes entries one by one so a single malformed entry
// only invalidates that candidate.
func parseRerankScores(raw string, candidates []domain.RerankCandidate) ([]domain.RerankScore, error) {
	var envelope struct {
		Scores []json.RawMessage `json:"scores"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &envelope); err != nil {
		return nil, fmt.Errorf("parse rerank json: %w", err)
	}

	out := make([]domain.RerankScore, 0, len(candidates))
	for _, item := range envelope.Scores {
		var entry rerankEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		if entry.ID < 1 || entry.ID > len(candidates) {
			continue
		}
		score := domain.RerankScore{
			ChunkID:   candidates[entry.ID-1].ChunkID,
			Rationale: entry.Rationale,
		}
		if entry.Score != nil {
			score.Score = *entry.Score
			score.Valid = true
		}
		out = append(out, score)
	}
	return out, nil
}
