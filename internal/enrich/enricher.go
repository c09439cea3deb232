// Package enrich attaches display metadata to recommendations. Every item is
// fetched independently; a failure only downgrades that item to placeholder
// details.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"movierecs/internal/domain"
	"movierecs/internal/metrics"
)

const (
	defaultItemTimeout = 8 * time.Second
	defaultConcurrency = 5
	defaultCacheSize   = 512
	defaultCacheTTL    = time.Hour
)

// MetadataProvider fetches display metadata for a single movie id.
type MetadataProvider interface {
	Name() string
	Details(ctx context.Context, id int) (domain.MovieDetails, error)
	// Trailer returns "" when the movie has no matching trailer.
	Trailer(ctx context.Context, id int) (string, error)
}

type Enricher struct {
	provider    MetadataProvider
	timeout     time.Duration
	concurrency int64
	retry       RetryPolicy
	cacheSize   int
	cacheTTL    time.Duration
	cache       *expirable.LRU[int, domain.MovieDetails]
	health      *providerHealth
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Enricher)

func WithItemTimeout(timeout time.Duration) Option {
	return func(e *Enricher) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

func WithConcurrency(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.concurrency = int64(n)
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Enricher) {
		e.retry = policy
	}
}

// WithCache sizes the in-process details cache. A size of zero or less
// disables it.
func WithCache(size int, ttl time.Duration) Option {
	return func(e *Enricher) {
		e.cacheSize = size
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Enricher) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(provider MetadataProvider, opts ...Option) *Enricher {
	e := &Enricher{
		provider:    provider,
		timeout:     defaultItemTimeout,
		concurrency: defaultConcurrency,
		retry:       DefaultRetryPolicy(),
		cacheSize:   defaultCacheSize,
		cacheTTL:    defaultCacheTTL,
		logger:      slog.Default(),
		tracer:      otel.Tracer("movierecs/internal/enrich"),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.cacheSize > 0 {
		e.cache = expirable.NewLRU[int, domain.MovieDetails](e.cacheSize, nil, e.cacheTTL)
	}
	name := "none"
	if provider != nil {
		name = provider.Name()
	}
	e.health = newProviderHealth(name)
	return e
}

// Enrich fetches metadata for every recommendation concurrently and returns
// the cards in the input order.
func (e *Enricher) Enrich(ctx context.Context, recs []domain.Recommendation) []domain.RecommendationCard {
	cards := make([]domain.RecommendationCard, len(recs))
	e.fanOut(ctx, recs, func(index int, card domain.RecommendationCard) {
		cards[index] = card
	})
	return cards
}

// Stream delivers cards as they complete. The channel is closed once every
// recommendation has produced exactly one card.
func (e *Enricher) Stream(ctx context.Context, recs []domain.Recommendation) <-chan domain.RecommendationCard {
	ch := make(chan domain.RecommendationCard, len(recs))
	go func() {
		defer close(ch)
		e.fanOut(ctx, recs, func(_ int, card domain.RecommendationCard) {
			ch <- card
		})
	}()
	return ch
}

func (e *Enricher) fanOut(ctx context.Context, recs []domain.Recommendation, emit func(int, domain.RecommendationCard)) {
	sem := semaphore.NewWeighted(e.concurrency)
	var emitMu sync.Mutex
	var wg sync.WaitGroup
	for index, rec := range recs {
		wg.Add(1)
		go func(index int, rec domain.Recommendation) {
			defer wg.Done()
			var card domain.RecommendationCard
			if err := sem.Acquire(ctx, 1); err != nil {
				card = placeholderCard(rec, "context cancelled")
			} else {
				card = e.EnrichOne(ctx, rec)
				sem.Release(1)
			}
			emitMu.Lock()
			emit(index, card)
			emitMu.Unlock()
		}(index, rec)
	}
	wg.Wait()
}

// EnrichOne never fails: any provider problem is reported on the card.
func (e *Enricher) EnrichOne(ctx context.Context, rec domain.Recommendation) domain.RecommendationCard {
	if e.provider == nil {
		return placeholderCard(rec, "metadata provider not configured")
	}
	providerName := e.provider.Name()

	if e.cache != nil {
		if details, ok := e.cache.Get(rec.ID); ok {
			metrics.CacheHitsTotal.Inc()
			return domain.RecommendationCard{Recommendation: rec, Details: details, Enriched: true}
		}
		metrics.CacheMissesTotal.Inc()
	}

	if blocked, until, lastErr := e.health.blocked(e.now()); blocked {
		metrics.EnrichmentsTotal.WithLabelValues(providerName, "blocked").Inc()
		e.logger.Debug("metadata provider blocked, using placeholder",
			slog.Int("movieId", rec.ID),
			slog.Time("blockedUntil", until),
			slog.String("lastError", lastErr),
		)
		return placeholderCard(rec, "metadata provider temporarily unavailable")
	}

	itemCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	itemCtx, span := e.tracer.Start(itemCtx, "enrich.item",
		trace.WithAttributes(
			attribute.Int("movie.id", rec.ID),
			attribute.String("metadata.provider", providerName),
		),
	)
	defer span.End()

	startedAt := e.now()
	var details domain.MovieDetails
	err := retry(itemCtx, e.retry, func(ctx context.Context) error {
		var callErr error
		details, callErr = e.provider.Details(ctx, rec.ID)
		return callErr
	})
	latency := e.now().Sub(startedAt)
	// A caller that went away says nothing about the provider.
	callerGone := errors.Is(err, context.Canceled) && ctx.Err() != nil
	if !callerGone {
		e.health.record(err, latency, e.now())
		metrics.EnrichmentDuration.WithLabelValues(providerName).Observe(latency.Seconds())
	}

	if callerGone {
		metrics.EnrichmentsTotal.WithLabelValues(providerName, "canceled").Inc()
		span.SetStatus(codes.Error, "canceled")
		return placeholderCard(rec, domain.ErrEnrichmentUnavailable.Error())
	}
	if err != nil {
		status := "error"
		reason := domain.ErrEnrichmentUnavailable.Error()
		if isTimeoutLike(err) {
			status = "timeout"
			reason += ": timeout"
		}
		metrics.EnrichmentsTotal.WithLabelValues(providerName, status).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		e.logger.Warn("movie enrichment failed",
			slog.Int("movieId", rec.ID),
			slog.String("title", rec.Title),
			slog.String("provider", providerName),
			slog.Int64("elapsedMs", latency.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return placeholderCard(rec, reason)
	}

	trailerErr := retry(itemCtx, e.retry, func(ctx context.Context) error {
		trailer, callErr := e.provider.Trailer(ctx, rec.ID)
		details.TrailerURL = trailer
		return callErr
	})
	if trailerErr != nil {
		details.TrailerURL = ""
		span.AddEvent("trailer lookup failed", trace.WithAttributes(attribute.String("error", trailerErr.Error())))
		e.logger.Debug("trailer lookup failed",
			slog.Int("movieId", rec.ID),
			slog.String("error", trailerErr.Error()),
		)
	}

	if details.Overview == "" {
		details.Overview = domain.PlaceholderOverview
	}
	if e.cache != nil && trailerErr == nil {
		e.cache.Add(rec.ID, details)
	}
	metrics.EnrichmentsTotal.WithLabelValues(providerName, "ok").Inc()
	return domain.RecommendationCard{Recommendation: rec, Details: details, Enriched: true}
}

func (e *Enricher) Diagnostics() domain.ProviderDiagnostics {
	item := e.health.snapshot()
	if e.cache != nil {
		item.CacheEntries = e.cache.Len()
	}
	return item
}

func placeholderCard(rec domain.Recommendation, reason string) domain.RecommendationCard {
	return domain.RecommendationCard{
		Recommendation:  rec,
		Details:         domain.PlaceholderDetails(),
		EnrichmentError: reason,
	}
}
