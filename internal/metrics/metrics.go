// Package metrics exposes Prometheus collectors for the entity index, the
// synchronization manager and the search pipeline.
//
// All methods are safe on a nil *Metrics so components can take an optional
// metrics dependency without branching.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrypster/entityindex/internal/embedding"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	searchesTotal  *prometheus.CounterVec
	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram

	embedTexts    prometheus.Counter
	embedErrors   prometheus.Counter
	embedDuration prometheus.Histogram

	ticksTotal   *prometheus.CounterVec
	tickDuration prometheus.Histogram
	issuesTotal  *prometheus.CounterVec
	indexRecords *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates the collectors under namespace (default "entityindex").
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "entityindex"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of search pipeline calls",
		},
		[]string{"status"},
	)

	m.searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search pipeline latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.searchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of entities returned per search",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	m.embedTexts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedded_texts_total",
			Help:      "Texts sent to the embedding provider",
		},
	)

	m.embedErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_errors_total",
			Help:      "Failed embedding provider calls",
		},
	)

	m.embedDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Embedding provider call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	m.ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_ticks_total",
			Help:      "Reconciliation ticks by outcome",
		},
		[]string{"outcome"},
	)

	m.tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_tick_duration_seconds",
			Help:      "Reconciliation tick duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	m.issuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Validation issues found by kind",
		},
		[]string{"kind"},
	)

	m.indexRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_records",
			Help:      "Index records per category",
		},
		[]string{"category"},
	)

	m.registry.MustRegister(
		m.searchesTotal,
		m.searchDuration,
		m.searchResults,
		m.embedTexts,
		m.embedErrors,
		m.embedDuration,
		m.ticksTotal,
		m.tickDuration,
		m.issuesTotal,
		m.indexRecords,
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one search call.
func (m *Metrics) ObserveSearch(d time.Duration, results int, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.searchesTotal.WithLabelValues(status).Inc()
	m.searchDuration.Observe(d.Seconds())
	m.searchResults.Observe(float64(results))
}

// ObserveTick records one reconciliation tick. outcome is one of
// "noop", "changed", "failed".
func (m *Metrics) ObserveTick(outcome string, d time.Duration, issues map[string]int) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(d.Seconds())
	for kind, n := range issues {
		if n > 0 {
			m.issuesTotal.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// SetIndexSize records the row count of one category table.
func (m *Metrics) SetIndexSize(category string, n int) {
	if m == nil {
		return
	}
	m.indexRecords.WithLabelValues(category).Set(float64(n))
}

// InstrumentEmbedder wraps e so every provider call is counted and timed.
// A nil *Metrics returns e unchanged.
func (m *Metrics) InstrumentEmbedder(e embedding.Embedder) embedding.Embedder {
	if m == nil || e == nil {
		return e
	}
	return &instrumentedEmbedder{next: e, m: m}
}

type instrumentedEmbedder struct {
	next embedding.Embedder
	m    *Metrics
}

func (ie *instrumentedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := ie.next.Embed(ctx, texts)
	ie.m.embedDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		ie.m.embedErrors.Inc()
		return nil, err
	}
	ie.m.embedTexts.Add(float64(len(texts)))
	return vecs, nil
}

func (ie *instrumentedEmbedder) GetModel() string {
	return ie.next.GetModel()
}
