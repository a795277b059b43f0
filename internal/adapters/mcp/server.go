package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
)

const (
	serverName        = "bovicare-rag"
	retrieveToolName  = "retrieve_evidence"
	retrieveToolUsage = "Retrieve ranked evidence passages about cattle diseases from the veterinary reference corpus. " +
		"Results carry disease name, section, page range and a relevance score."
)

type Server struct {
	retriever   ports.EvidenceRetriever
	defaultTopK int
	maxTopK     int
}

func New(retriever ports.EvidenceRetriever, defaultTopK, maxTopK int) *Server {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if maxTopK < defaultTopK {
		maxTopK = defaultTopK
	}
	return &Server{retriever: retriever, defaultTopK: defaultTopK, maxTopK: maxTopK}
}

// MCPServer builds the tool server; callers choose the transport.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer(serverName, version, server.WithToolCapabilities(false))
	srv.AddTool(s.retrieveTool(), s.handleRetrieve)
	return srv
}

func (s *Server) ServeStdio(version string) error {
	return server.ServeStdio(s.MCPServer(version))
}

func (s *Server) retrieveTool() mcp.Tool {
	return mcp.NewTool(retrieveToolName,
		mcp.WithDescription(retrieveToolUsage),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language question, e.g. \"treatment of clinical mastitis\""),
		),
		mcp.WithNumber("top_k",
			mcp.Description(fmt.Sprintf("Number of passages to return (1-%d, default %d)", s.maxTopK, s.defaultTopK)),
		),
		mcp.WithBoolean("use_reranking",
			mcp.Description("Rescore fused candidates with the LLM relevance judge (default true)"),
		),
	)
}

type evidencePayload struct {
	RetrievalID    string         `json:"retrieval_id"`
	Mode           string         `json:"mode"`
	Degraded       bool           `json:"degraded"`
	DegradedReason string         `json:"degraded_reason,omitempty"`
	Items          []evidenceItem `json:"items"`
}

type evidenceItem struct {
	Rank           int     `json:"rank"`
	ChunkID        string  `json:"chunk_id"`
	ChunkIndex     int     `json:"chunk_index"`
	DocumentID     string  `json:"document_id"`
	DiseaseName    string  `json:"disease_name"`
	SectionType    string  `json:"section_type"`
	Pages          string  `json:"pages"`
	RelevanceScore float64 `json:"relevance_score"`
	Reranked       bool    `json:"reranked"`
	Text           string  `json:"text"`
}

func (s *Server) handleRetrieve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req := domain.RetrieveRequest{
		Query:        query,
		TopK:         request.GetInt("top_k", s.defaultTopK),
		UseReranking: request.GetBool("use_reranking", true),
	}

	result, err := s.retriever.Retrieve(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("mcp_retrieve_failed", slog.String("query", query), slog.Any("error", err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload := evidencePayload{
		RetrievalID:    result.RetrievalID,
		Mode:           string(result.Mode),
		Degraded:       result.Degraded,
		DegradedReason: result.DegradedReason,
		Items:          make([]evidenceItem, 0, len(result.Items)),
	}
	for _, item := range result.Items {
		payload.Items = append(payload.Items, evidenceItem{
			Rank:           item.Rank,
			ChunkID:        item.Passage.ChunkID,
			ChunkIndex:     item.Passage.ChunkIndex,
			DocumentID:     item.Passage.DocumentID,
			DiseaseName:    item.Passage.DiseaseName,
			SectionType:    string(item.Passage.SectionType),
			Pages:          item.Passage.PageRange.String(),
			RelevanceScore: item.RelevanceScore,
			Reranked:       item.Reranked,
			Text:           item.Passage.Text,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}
