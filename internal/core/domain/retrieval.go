package domain

// ScoredChunk is a single hit returned by a dense or sparse index.
type ScoredChunk struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// CandidateHit is a fused candidate. A nil score or zero rank means the method did not return it.
type CandidateHit struct {
	ChunkID     string   `json:"chunk_id"`
	DenseScore  *float64 `json:"dense_score,omitempty"`
	SparseScore *float64 `json:"sparse_score,omitempty"`
	DenseRank   int      `json:"dense_rank,omitempty"`
	SparseRank  int      `json:"sparse_rank,omitempty"`
	FusedScore  float64  `json:"fused_score"`
}

type RerankCandidate struct {
	ChunkID string
	Text    string
}

// RerankScore is one judgement returned by a reranker. Valid is false when the
// service returned nothing usable for that candidate.
type RerankScore struct {
	ChunkID   string
	Score     float64
	Rationale string
	Valid     bool
}

type RerankedHit struct {
	ChunkID        string  `json:"chunk_id"`
	RelevanceScore float64 `json:"relevance_score"`
	Rationale      string  `json:"rationale,omitempty"`
	Reranked       bool    `json:"reranked"`
	FusedScore     float64 `json:"fused_score"`
}

type RetrievalState string

const (
	StateEmbedding RetrievalState = "embedding"
	StateSearch    RetrievalState = "dense_and_sparse_search"
	StateFusion    RetrievalState = "fusion"
	StateReranking RetrievalState = "reranking"
	StateDegraded  RetrievalState = "degraded"
	StateDone      RetrievalState = "done"
	StateFailed    RetrievalState = "failed"
)

type RetrievalMode string

const (
	ModeReranked   RetrievalMode = "reranked"
	ModeFusionOnly RetrievalMode = "fusion"
	ModeDegraded   RetrievalMode = "degraded"
)

type RetrieveRequest struct {
	Query        string `json:"query"`
	TopK         int    `json:"top_k"`
	UseReranking bool   `json:"use_reranking"`
}

type Citation struct {
	DiseaseName    string      `json:"disease_name"`
	SectionType    SectionType `json:"section_type"`
	ChunkIndex     int         `json:"chunk_index"`
	PageRange      PageRange   `json:"page_range"`
	ContentPreview string      `json:"content_preview"`
}

type EvidenceItem struct {
	Passage        Passage  `json:"passage"`
	RelevanceScore float64  `json:"relevance_score"`
	Rank           int      `json:"rank"`
	Reranked       bool     `json:"reranked"`
	Rationale      string   `json:"rationale,omitempty"`
	Citation       Citation `json:"citation"`
}

// EvidenceResult is the ordered, deduplicated output of a retrieval.
type EvidenceResult struct {
	RetrievalID    string         `json:"retrieval_id"`
	Query          string         `json:"query"`
	Items          []EvidenceItem `json:"items"`
	Mode           RetrievalMode  `json:"mode"`
	Degraded       bool           `json:"degraded"`
	DegradedReason string         `json:"degraded_reason,omitempty"`
	CandidateCount int            `json:"candidate_count"`
}

type Answer struct {
	Text           string     `json:"text"`
	Sources        []Citation `json:"sources"`
	Degraded       bool       `json:"degraded"`
	DegradedReason string     `json:"degraded_reason,omitempty"`
	RetrievalID    string     `json:"retrieval_id"`
}
