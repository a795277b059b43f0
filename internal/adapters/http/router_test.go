package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
	"github.com/kirillkom/bovicare-rag/internal/observability/metrics"
)

type retrieverFake struct {
	got    domain.RetrieveRequest
	result *domain.EvidenceResult
	err    error
}

func (f *retrieverFake) Retrieve(_ context.Context, req domain.RetrieveRequest) (*domain.EvidenceResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.EvidenceResult{Query: req.Query, Mode: domain.ModeReranked}, nil
}

type answererFake struct {
	got    domain.RetrieveRequest
	answer *domain.Answer
	err    error
}

func (f *answererFake) Answer(_ context.Context, req domain.RetrieveRequest) (*domain.Answer, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type catalogFake int

func (c catalogFake) Passage(string) (domain.Passage, bool) { return domain.Passage{}, false }

func (c catalogFake) Len() int { return int(c) }

type indexesFake struct {
	err error
}

func (f indexesFake) Acquire() (ports.IndexSet, func(), error) {
	if f.err != nil {
		return ports.IndexSet{}, func() {}, f.err
	}
	return ports.IndexSet{Version: "v7", Catalog: catalogFake(12)}, func() {}, nil
}

type breakerFake map[string]string

func (b breakerFake) State(op string) string { return b[op] }

func post(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch v := body.(type) {
	case string:
		payload = []byte(v)
	default:
		payload, _ = json.Marshal(v)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRetrieveAppliesDefaults(t *testing.T) {
	retriever := &retrieverFake{}
	handler := NewRouter(retriever, &answererFake{}, indexesFake{}, Options{DefaultTopK: 5}).Handler()

	res := post(t, handler, "/v1/retrieve", map[string]any{"query": "mastitis treatment"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if retriever.got.TopK != 5 || !retriever.got.UseReranking {
		t.Fatalf("expected top_k=5 and reranking on by default, got %+v", retriever.got)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRetrievePassesExplicitValues(t *testing.T) {
	retriever := &retrieverFake{}
	handler := NewRouter(retriever, &answererFake{}, indexesFake{}, Options{}).Handler()

	res := post(t, handler, "/v1/retrieve", map[string]any{"query": "bloat", "top_k": 0, "use_reranking": false})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if retriever.got.TopK != 0 || retriever.got.UseReranking {
		t.Fatalf("expected explicit top_k=0 and reranking off to pass through, got %+v", retriever.got)
	}
}

func TestRetrieveMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid top k", domain.ErrInvalidTopK, http.StatusBadRequest},
		{"embedding", domain.WrapError(domain.ErrEmbeddingUnavailable, "embed", errors.New("connection refused")), http.StatusServiceUnavailable},
		{"empty corpus", domain.ErrCorpusEmpty, http.StatusNotFound},
		{"dimension", &domain.DimensionError{Expected: 768, Got: 384}, http.StatusInternalServerError},
		{"tokenizer", domain.ErrTokenizerMismatch, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewRouter(&retrieverFake{err: tc.err}, &answererFake{}, indexesFake{}, Options{}).Handler()
			res := post(t, handler, "/v1/retrieve", map[string]any{"query": "q"})
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Fatalf("expected error body, got %s", res.Body.String())
			}
		})
	}
}

func TestRetrieveRejectsMalformedJSON(t *testing.T) {
	handler := NewRouter(&retrieverFake{}, &answererFake{}, indexesFake{}, Options{}).Handler()

	for _, body := range []string{`{"query":`, `{"question":"old field"}`} {
		res := post(t, handler, "/v1/retrieve", body)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, res.Code)
		}
	}
}

func TestRetrieveRejectsWrongMethod(t *testing.T) {
	handler := NewRouter(&retrieverFake{}, &answererFake{}, indexesFake{}, Options{}).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/retrieve", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestQueryRAGReturnsAnswerAndCountsIt(t *testing.T) {
	answerer := &answererFake{answer: &domain.Answer{
		Text:     "Use intramammary antibiotics.",
		Sources:  []domain.Citation{{DiseaseName: "Mastitis", SectionType: domain.SectionTreatment}},
		Degraded: true,
	}}
	m := metrics.NewHTTPServerMetrics("api")
	handler := NewRouter(&retrieverFake{}, answerer, indexesFake{}, Options{Metrics: m}).Handler()

	res := post(t, handler, "/v1/rag/query", map[string]any{"query": "how to treat mastitis", "top_k": 3})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var got domain.Answer
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if !got.Degraded || len(got.Sources) != 1 || answerer.got.TopK != 3 {
		t.Fatalf("unexpected answer %+v for request %+v", got, answerer.got)
	}

	scrape := httptest.NewRecorder()
	handler.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), `bovicare_rag_answers_total{evidence="found",service="api"} 1`) {
		t.Fatalf("expected answer counter in metrics, got:\n%s", scrape.Body.String())
	}
}

func TestHealthzReportsIndexAndBreakers(t *testing.T) {
	handler := NewRouter(&retrieverFake{}, &answererFake{}, indexesFake{}, Options{
		Breakers: []BreakerCheck{
			{Operation: "ollama_embed", Reporter: breakerFake{"ollama_embed": "closed"}},
			{Operation: "ollama_rerank", Reporter: breakerFake{"ollama_rerank": "open"}},
		},
	}).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var got healthResponse
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if got.Status != "degraded" || got.CorpusVersion != "v7" || got.Passages != 12 || got.Breakers["ollama_rerank"] != "open" {
		t.Fatalf("unexpected health: %+v", got)
	}
}

func TestHealthzUnavailableBeforeIndexesLoad(t *testing.T) {
	handler := NewRouter(&retrieverFake{}, &answererFake{}, indexesFake{err: domain.ErrTemporary}, Options{}).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

type diagnoserFake struct {
	got domain.DiagnoseRequest
	err error
}

func (f *diagnoserFake) Diagnose(_ context.Context, req domain.DiagnoseRequest) (*domain.DiagnosisReport, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DiagnosisReport{
		Symptoms:  req.Symptoms,
		Diagnoses: []domain.Diagnosis{{Name: "Mastitis", Probability: 0.8}},
	}, nil
}

func TestDiagnoseAppliesDefaultsAndReturnsReport(t *testing.T) {
	diagnoser := &diagnoserFake{}
	handler := NewRouter(&retrieverFake{}, &answererFake{}, indexesFake{}, Options{DefaultTopK: 4, Diagnoser: diagnoser}).Handler()

	rec := post(t, handler, "/v1/diagnose", map[string]any{"symptoms": []string{"fever", "swollen udder"}, "max_results": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if diagnoser.got.TopK != 4 || !diagnoser.got.UseReranking || diagnoser.got.MaxResults != 3 || len(diagnoser.got.Symptoms) != 2 {
		t.Fatalf("unexpected diagnose request %+v", diagnoser.got)
	}
	var report domain.DiagnosisReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Diagnoses) != 1 || report.Diagnoses[0].Name != "Mastitis" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestDiagnoseMapsInvalidSymptomsToBadRequest(t *testing.T) {
	diagnoser := &diagnoserFake{err: domain.WrapError(domain.ErrInvalidInput, "diagnose", errors.New("at least one symptom is required"))}
	handler := NewRouter(&retrieverFake{}, &answererFake{}, indexesFake{}, Options{Diagnoser: diagnoser}).Handler()

	rec := post(t, handler, "/v1/diagnose", map[string]any{"symptoms": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDiagnoseRouteDisabledWithoutDiagnoser(t *testing.T) {
	handler := NewRouter(&retrieverFake{}, &answererFake{}, indexesFake{}, Options{}).Handler()

	rec := post(t, handler, "/v1/diagnose", map[string]any{"symptoms": []string{"cough"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
