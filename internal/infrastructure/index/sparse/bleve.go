package sparse

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/textproc"
)

const (
	tokenizerName = "passage_tokenizer_" + textproc.TokenizerVersion
	analyzerName  = "passage_analyzer"
	contentField  = "content"
	bm25Scoring   = "bm25"
)

func init() {
	_ = registry.RegisterTokenizer(tokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return passageTokenizer{}, nil
	})
}

// passageTokenizer adapts textproc.Tokenize so indexing and query analysis
// share one tokenization contract.
type passageTokenizer struct{}

func (passageTokenizer) Tokenize(input []byte) analysis.TokenStream {
	tokens := textproc.Tokenize(string(input))
	stream := make(analysis.TokenStream, 0, len(tokens))
	for i, tok := range tokens {
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok.Term),
			Start:    tok.Start,
			End:      tok.End,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}

type passageDocument struct {
	Content string `json:"content"`
}

// Index is an in-memory BM25 index over passage text. It is built once and
// only read afterwards.
type Index struct {
	index bleve.Index
	size  int
}

func New(passages []domain.Passage) (*Index, error) {
	indexMapping, err := newIndexMapping()
	if err != nil {
		return nil, err
	}
	// Only scorch implements the bm25 scoring model; an empty path keeps it in memory.
	idx, err := bleve.NewUsing("", indexMapping, scorch.Name, scorch.Name, nil)
	if err != nil {
		return nil, fmt.Errorf("create bm25 index: %w", err)
	}

	batch := idx.NewBatch()
	for _, p := range passages {
		if err := batch.Index(p.ChunkID, passageDocument{Content: p.Text}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("index passage %s: %w", p.ChunkID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("execute bm25 batch: %w", err)
	}
	return &Index{index: idx, size: len(passages)}, nil
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(analyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": tokenizerName,
	})
	if err != nil {
		return nil, fmt.Errorf("add passage analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = analyzerName
	indexMapping.ScoringModel = bm25Scoring
	return indexMapping, nil
}

// TokenizerVersion is the tokenization contract the index was built with.
func (i *Index) TokenizerVersion() string {
	return textproc.TokenizerVersion
}

func (i *Index) Len() int {
	return i.size
}

func (i *Index) Search(ctx context.Context, text string, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 || strings.TrimSpace(text) == "" || len(textproc.Tokenize(text)) == 0 {
		return nil, nil
	}

	query := bleve.NewMatchQuery(text)
	query.SetField(contentField)
	req := bleve.NewSearchRequest(query)
	req.Size = k

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	hits := make([]domain.ScoredChunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, domain.ScoredChunk{ChunkID: hit.ID, Score: hit.Score})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].ChunkID < hits[b].ChunkID
	})
	return hits, nil
}

func (i *Index) Close() error {
	return i.index.Close()
}
