package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IndexMetrics tracks in-memory index rebuilds.
type IndexMetrics struct {
	service string

	reloadTotal    *prometheus.CounterVec
	reloadDuration prometheus.Histogram
	passages       prometheus.Gauge
}

func NewIndexMetrics(registerer prometheus.Registerer, service string) *IndexMetrics {
	reloadTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "reload_total",
			Help:      "Total index reloads by status.",
		},
		[]string{"service", "status"},
	)
	reloadDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "reload_duration_seconds",
			Help:      "Index rebuild duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	passages := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "passages",
			Help:      "Number of passages in the active index set.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registerer.MustRegister(reloadTotal, reloadDuration, passages)

	return &IndexMetrics{
		service:        service,
		reloadTotal:    reloadTotal,
		reloadDuration: reloadDuration,
		passages:       passages,
	}
}

func (m *IndexMetrics) ObserveReload(passages int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.reloadTotal.WithLabelValues(m.service, status).Inc()
	m.reloadDuration.Observe(duration.Seconds())
	if err == nil {
		m.passages.Set(float64(passages))
	}
}
