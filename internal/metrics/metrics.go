// Package metrics provides Prometheus metrics for the RAG service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ingestion metrics
	CommitsIndexed   prometheus.Counter
	CommitsSkipped   prometheus.Counter
	CommitFailures   prometheus.Counter
	ChunksEmbedded   prometheus.Counter
	IngestDuration   prometheus.Histogram
	JobsQueued       prometheus.Gauge
	EmbeddingsPurged prometheus.Counter

	// Query metrics
	Queries           *prometheus.CounterVec
	QueryDuration     prometheus.Histogram
	QueryResultCount  prometheus.Histogram
	OverviewFailures  prometheus.Counter
	EmbedCacheLookups *prometheus.CounterVec

	// Resilience
	CircuitBreakerState *prometheus.GaugeVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CommitsIndexed: f.NewCounter(prometheus.CounterOpts{
			Name: "gitrag_commits_indexed_total",
			Help: "Total number of commits embedded and marked processed",
		}),
		CommitsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "gitrag_commits_skipped_total",
			Help: "Total number of commits skipped because they were already processed",
		}),
		CommitFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gitrag_commit_failures_total",
			Help: "Total number of commits whose ingestion failed",
		}),
		ChunksEmbedded: f.NewCounter(prometheus.CounterOpts{
			Name: "gitrag_chunks_embedded_total",
			Help: "Total number of chunks written to the index",
		}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gitrag_commit_ingest_duration_seconds",
			Help:    "Duration of a single commit ingestion",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		JobsQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "gitrag_ingest_jobs_queued",
			Help: "Number of ingest jobs waiting for a worker",
		}),
		EmbeddingsPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "gitrag_embeddings_purged_total",
			Help: "Total number of embeddings deleted by commit purges",
		}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gitrag_queries_total",
			Help: "Repository questions by outcome",
		}, []string{"outcome"}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gitrag_query_duration_seconds",
			Help:    "End to end duration of repository questions",
			Buckets: prometheus.DefBuckets,
		}),
		QueryResultCount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gitrag_query_result_count",
			Help:    "Number of retrieved chunks per question",
			Buckets: prometheus.LinearBuckets(0, 2, 11),
		}),
		OverviewFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gitrag_commit_overview_failures_total",
			Help: "Commit overviews that could not be fetched while building context",
		}),
		EmbedCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gitrag_embed_cache_lookups_total",
			Help: "Embedding cache lookups by result",
		}, []string{"result"}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gitrag_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gitrag_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitrag_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RegisterSizeGauge exposes a length sampled from size on every scrape.
func RegisterSizeGauge(reg prometheus.Registerer, name, help string, size func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
		return float64(size())
	})
}
