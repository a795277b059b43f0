package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
	"github.com/kirillkom/bovicare-rag/internal/observability/metrics"
)

const maxRequestBodyBytes = 64 << 10

// BreakerReporter exposes circuit breaker state per outbound operation.
type BreakerReporter interface {
	State(operation string) string
}

type BreakerCheck struct {
	Operation string
	Reporter  BreakerReporter
}

type Options struct {
	DefaultTopK     int
	MaxInFlight     int
	BackpressureMax time.Duration
	Breakers        []BreakerCheck
	Metrics         *metrics.HTTPServerMetrics
	// Diagnoser enables POST /v1/diagnose when set.
	Diagnoser       ports.SymptomDiagnoser
}

type Router struct {
	retriever ports.EvidenceRetriever
	answerer  ports.QuestionAnswerer
	indexes   ports.IndexProvider
	opts      Options
}

func NewRouter(
	retriever ports.EvidenceRetriever,
	answerer ports.QuestionAnswerer,
	indexes ports.IndexProvider,
	opts Options,
) *Router {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	return &Router{
		retriever: retriever,
		answerer:  answerer,
		indexes:   indexes,
		opts:      opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/retrieve", rt.retrieve)
	mux.HandleFunc("POST /v1/rag/query", rt.queryRAG)
	if rt.opts.Diagnoser != nil {
		mux.HandleFunc("POST /v1/diagnose", rt.diagnose)
	}

	var handler http.Handler = mux
	if rt.opts.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.BackpressureMax)
	}
	if rt.opts.Metrics != nil {
		mux.Handle("GET /metrics", rt.opts.Metrics.Handler())
		handler = rt.opts.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	handler = recoverMiddleware(handler)
	return requestIDMiddleware(handler)
}

type retrieveRequest struct {
	Query        string `json:"query"`
	TopK         *int   `json:"top_k"`
	UseReranking *bool  `json:"use_reranking"`
}

func (rt *Router) decodeRetrieveRequest(w http.ResponseWriter, r *http.Request) (domain.RetrieveRequest, bool) {
	var req retrieveRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json: "+err.Error())
		return domain.RetrieveRequest{}, false
	}

	out := domain.RetrieveRequest{
		Query:        req.Query,
		TopK:         rt.opts.DefaultTopK,
		UseReranking: true,
	}
	if req.TopK != nil {
		out.TopK = *req.TopK
	}
	if req.UseReranking != nil {
		out.UseReranking = *req.UseReranking
	}
	return out, true
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeRetrieveRequest(w, r)
	if !ok {
		return
	}

	result, err := rt.retriever.Retrieve(r.Context(), req)
	if err != nil {
		rt.writeDomainError(w, r, "retrieve", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) queryRAG(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeRetrieveRequest(w, r)
	if !ok {
		return
	}

	answer, err := rt.answerer.Answer(r.Context(), req)
	if err != nil {
		rt.writeDomainError(w, r, "rag_query", err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordAnswer(len(answer.Sources))
	}
	writeJSON(w, http.StatusOK, answer)
}

type diagnoseRequest struct {
	Symptoms     []string `json:"symptoms"`
	TopK         *int     `json:"top_k"`
	UseReranking *bool    `json:"use_reranking"`
	MaxResults   int      `json:"max_results"`
}

func (rt *Router) diagnose(w http.ResponseWriter, r *http.Request) {
	var body diagnoseRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	req := domain.DiagnoseRequest{
		Symptoms:     body.Symptoms,
		TopK:         rt.opts.DefaultTopK,
		UseReranking: true,
		MaxResults:   body.MaxResults,
	}
	if body.TopK != nil {
		req.TopK = *body.TopK
	}
	if body.UseReranking != nil {
		req.UseReranking = *body.UseReranking
	}

	report, err := rt.opts.Diagnoser.Diagnose(r.Context(), req)
	if err != nil {
		rt.writeDomainError(w, r, "diagnose", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type healthResponse struct {
	Status        string            `json:"status"`
	CorpusVersion string            `json:"corpus_version,omitempty"`
	Passages      int               `json:"passages"`
	Breakers      map[string]string `json:"breakers,omitempty"`
	Error         string            `json:"error,omitempty"`
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if len(rt.opts.Breakers) > 0 {
		resp.Breakers = make(map[string]string, len(rt.opts.Breakers))
		for _, check := range rt.opts.Breakers {
			state := check.Reporter.State(check.Operation)
			resp.Breakers[check.Operation] = state
			if state == "open" {
				resp.Status = "degraded"
			}
		}
	}

	set, release, err := rt.indexes.Acquire()
	if err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	defer release()
	resp.CorpusVersion = set.Version
	resp.Passages = set.Catalog.Len()
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	if errors.Is(r.Context().Err(), context.Canceled) {
		status = statusClientClosedRequest
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			slog.String("request_id", requestIDFromContext(r.Context())),
			slog.String("operation", op),
			slog.Any("error", err),
		)
	}
	writeError(w, r, status, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
