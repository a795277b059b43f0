package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

const upsertBatchSize = 256

type Options struct {
	Dimension int
	Metric    domain.DenseMetric
}

// Client is a dense index and vector mirror backed by a Qdrant collection.
type Client struct {
	baseURL    string
	collection string
	dimension  int
	metric     domain.DenseMetric
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, opts Options) *Client {
	if opts.Metric == "" {
		opts.Metric = domain.MetricCosine
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		dimension:  opts.Dimension,
		metric:     opts.Metric,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) Metric() domain.DenseMetric {
	return c.metric
}

// PointID maps a chunk id to a stable Qdrant point id so re-ingestion overwrites.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("passage:"+chunkID)).String()
}

func (c *Client) UpsertPassages(ctx context.Context, passages []domain.IndexedPassage) error {
	if len(passages) == 0 {
		return nil
	}
	size := len(passages[0].Vector)
	for _, p := range passages {
		if err := domain.CheckDimension(p.Vector, size); err != nil {
			return fmt.Errorf("qdrant upsert %s: %w", p.Passage.ChunkID, err)
		}
	}
	if err := c.ensureCollection(ctx, size); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	for start := 0; start < len(passages); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(passages))
		points := make([]point, 0, end-start)
		for _, p := range passages[start:end] {
			points = append(points, point{
				ID:     PointID(p.Passage.ChunkID),
				Vector: p.Vector,
				Payload: map[string]any{
					"chunk_id":     p.Passage.ChunkID,
					"document_id":  p.Passage.DocumentID,
					"disease_id":   p.Passage.DiseaseID,
					"section_type": string(p.Passage.SectionType),
					"chunk_index":  p.Passage.ChunkIndex,
				},
			})
		}
		url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
		if err := c.send(ctx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := domain.CheckDimension(vector, c.dimension); err != nil {
		return nil, err
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": []string{"chunk_id"},
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.send(ctx, http.MethodPost, url, reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, "chunk_id")
		if id == "" {
			continue
		}
		out = append(out, domain.ScoredChunk{ChunkID: id, Score: r.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	distance := "Cosine"
	if c.metric == domain.MetricInnerProduct {
		distance = "Dot"
	}
	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": distance,
		},
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.send(ctx, http.MethodPut, url, reqBody, nil, "ensure collection")
	// 409 if the collection already exists (depends on version/config).
	if err != nil && !isConflict(err) {
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

type statusError struct {
	op     string
	status int
	text   string
	body   string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("qdrant %s status: %s: %s", e.op, e.text, e.body)
	}
	return fmt.Sprintf("qdrant %s status: %s", e.op, e.text)
}

func isConflict(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusConflict
}

func (c *Client) send(ctx context.Context, method, url string, payload, out any, op string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{op: op, status: resp.StatusCode, text: resp.Status, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
