package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recommender",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recommender",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	RecommendationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recommender",
		Name:      "recommendations_total",
		Help:      "Total shortlist computations by outcome (ok, not_found, error).",
	}, []string{"status"})

	RecommendationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "recommender",
		Name:      "recommendation_duration_seconds",
		Help:      "Time spent ranking a single shortlist.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	EnrichmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recommender",
		Name:      "enrichments_total",
		Help:      "Per-item metadata enrichment attempts by provider and result status.",
	}, []string{"provider", "status"})

	EnrichmentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recommender",
		Name:      "enrichment_duration_seconds",
		Help:      "Per-item metadata enrichment duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	ProviderAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "recommender",
		Name:      "provider_available",
		Help:      "Whether the metadata provider is available (1) or blocked after repeated failures (0).",
	}, []string{"provider"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recommender",
		Name:      "details_cache_hits_total",
		Help:      "Total number of in-process details cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recommender",
		Name:      "details_cache_misses_total",
		Help:      "Total number of in-process details cache misses.",
	})

	CatalogMovies = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "recommender",
		Name:      "catalog_movies",
		Help:      "Number of movies in the loaded catalog.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RecommendationsTotal,
		RecommendationDuration,
		EnrichmentsTotal,
		EnrichmentDuration,
		ProviderAvailable,
		CacheHitsTotal,
		CacheMissesTotal,
		CatalogMovies,
	)
}
