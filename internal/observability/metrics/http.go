package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

const namespace = "bovicare"

// HTTPServerMetrics owns the API registry. Besides HTTP traffic it records
// retrieval pipeline stages and outbound call resilience events.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalStageDuration *prometheus.HistogramVec
	retrievalTotal         *prometheus.CounterVec
	retrievalResults       *prometheus.HistogramVec
	degradedTotal          prometheus.Counter
	outboundRetriesTotal   *prometheus.CounterVec
	breakerTransitions     *prometheus.CounterVec
	answersTotal           *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalStageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "stage_duration_seconds",
			Help:      "Retrieval pipeline stage duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "stage"},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval requests by mode and terminal state.",
		},
		[]string{"service", "mode", "state"},
	)
	retrievalResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Distribution of evidence items per successful retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
		},
		[]string{"service", "mode"},
	)
	degradedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Total retrievals that fell back to fusion order.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	outboundRetriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "retries_total",
			Help:      "Total retried outbound calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation.",
		},
		[]string{"service", "operation", "from", "to"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Total generated answers by evidence availability.",
		},
		[]string{"service", "evidence"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalStageDuration,
		retrievalTotal,
		retrievalResults,
		degradedTotal,
		outboundRetriesTotal,
		breakerTransitions,
		answersTotal,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		service:                service,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		retrievalStageDuration: retrievalStageDuration,
		retrievalTotal:         retrievalTotal,
		retrievalResults:       retrievalResults,
		degradedTotal:          degradedTotal,
		outboundRetriesTotal:   outboundRetriesTotal,
		breakerTransitions:     breakerTransitions,
		answersTotal:           answersTotal,
	}
}

func (m *HTTPServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded for unknown paths.
func normalizePath(path string) string {
	switch path {
	case "/v1/retrieve", "/v1/rag/query", "/v1/diagnose", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

func (m *HTTPServerMetrics) ObserveStage(state domain.RetrievalState, duration time.Duration) {
	m.retrievalStageDuration.WithLabelValues(m.service, string(state)).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) ObserveRetrieval(mode domain.RetrievalMode, state domain.RetrievalState, results int) {
	modeLabel := string(mode)
	if modeLabel == "" {
		modeLabel = "none"
	}
	m.retrievalTotal.WithLabelValues(m.service, modeLabel, string(state)).Inc()
	if state != domain.StateDone {
		return
	}
	m.retrievalResults.WithLabelValues(m.service, modeLabel).Observe(float64(results))
	if mode == domain.ModeDegraded {
		m.degradedTotal.Inc()
	}
}

func (m *HTTPServerMetrics) OnRetry(operation string, _ int) {
	m.outboundRetriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *HTTPServerMetrics) OnBreakerStateChange(operation string, from, to string) {
	m.breakerTransitions.WithLabelValues(m.service, operation, from, to).Inc()
}

func (m *HTTPServerMetrics) RecordAnswer(sourceCount int) {
	evidence := "found"
	if sourceCount == 0 {
		evidence = "none"
	}
	m.answersTotal.WithLabelValues(m.service, evidence).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
