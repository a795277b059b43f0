package sparse

import (
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

func corpus() []domain.Passage {
	return []domain.Passage{
		{ChunkID: "mastitis-1", Text: "Mastitis is inflammation of the udder, usually caused by bacteria."},
		{ChunkID: "mastitis-2", Text: "Treat clinical mastitis with intramammary antibiotics. Mastitis control needs milking hygiene."},
		{ChunkID: "bloat-1", Text: "Frothy bloat follows grazing on legume pasture."},
		{ChunkID: "bvd-1", Text: "Bovine viral diarrhea causes diarrhea, fever and reproductive losses."},
	}
}

func TestSearchRanksByTermRelevance(t *testing.T) {
	idx, err := New(corpus())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer idx.Close()

	hits, err := idx.Search(context.Background(), "MASTITIS treatment", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 mastitis hits, got %+v", hits)
	}
	if hits[0].ChunkID != "mastitis-2" {
		t.Fatalf("expected mastitis-2 first, got %+v", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("expected strictly decreasing scores, got %+v", hits)
	}
}

func TestSearchSaturatesTermFrequencyAndNormalizesLength(t *testing.T) {
	idx, err := New([]domain.Passage{
		{ChunkID: "repetitive", Text: strings.Repeat("mastitis ", 8) + "cow"},
		{ChunkID: "short", Text: "mastitis udder"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer idx.Close()

	hits, err := idx.Search(context.Background(), "mastitis", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %+v", hits)
	}
	if hits[0].ChunkID != "short" {
		t.Fatalf("expected short passage to outrank repeated term, got %+v", hits)
	}
}

func TestSearchRespectsK(t *testing.T) {
	idx, _ := New(corpus())
	defer idx.Close()

	hits, err := idx.Search(context.Background(), "mastitis diarrhea bloat", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
}

func TestSearchSharedTokenizerSplitsPunctuation(t *testing.T) {
	idx, _ := New(corpus())
	defer idx.Close()

	hits, err := idx.Search(context.Background(), "udder,", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "mastitis-1" {
		t.Fatalf("expected punctuation-insensitive match, got %+v", hits)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	idx, _ := New(corpus())
	defer idx.Close()

	hits, err := idx.Search(context.Background(), " ?! ", 5)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected no hits and no error, got %+v, %v", hits, err)
	}
}

func TestPassageTokenizerMatchesContract(t *testing.T) {
	stream := passageTokenizer{}.Tokenize([]byte("Foot-and-mouth"))
	if len(stream) != 3 || string(stream[0].Term) != "foot" || stream[2].Position != 3 {
		t.Fatalf("unexpected token stream %+v", stream)
	}
}
