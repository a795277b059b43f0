package ollama

import (
	"context"
	"strings"
	"time"
)

type Client struct {
	baseURL     string
	genModel    string
	embedModel  string
	rerankModel string
	httpClient  httpDoer
}

func New(baseURL, genModel, embedModel, rerankModel string) *Client {
	if strings.TrimSpace(rerankModel) == "" {
		rerankModel = genModel
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    genModel,
		embedModel:  embedModel,
		rerankModel: rerankModel,
		httpClient:  newHTTPClient(120 * time.Second),
	}
}

func (c *Client) EmbedModel() string {
	return c.embedModel
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  any            `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

func (c *Client) generate(ctx context.Context, req generateRequest, operation string) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", req, &response, operation); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	request := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	return response.Embeddings, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
