package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"movierecs/internal/catalog"
	"movierecs/internal/domain"
	"movierecs/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type CatalogService interface {
	Len() int
	Titles() []string
	Suggest(query string, limit int) []string
}

type RecommendService interface {
	Recommend(title string, k int) ([]domain.Recommendation, error)
}

type EnrichService interface {
	Enrich(ctx context.Context, recs []domain.Recommendation) []domain.RecommendationCard
	Stream(ctx context.Context, recs []domain.Recommendation) <-chan domain.RecommendationCard
	Diagnostics() domain.ProviderDiagnostics
}

type Server struct {
	catalog     CatalogService
	recommender RecommendService
	enricher    EnrichService
	logger      *slog.Logger
	posterHosts map[string]struct{}
	// backendHosts are never proxied to, even if allowlisted.
	backendHosts map[string]struct{}
	rateRPS      float64
	rateBurst    int
}

const (
	maxQueryLength     = 500
	maxShortlistSize   = 50
	notFoundMessage    = "movie not found, please pick from the list"
	defaultSuggestions = 10
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithEnricher(enricher EnrichService) ServerOption {
	return func(s *Server) {
		s.enricher = enricher
	}
}

// WithPosterHosts sets the hosts /posters may fetch from.
func WithPosterHosts(hosts ...string) ServerOption {
	return func(s *Server) {
		for _, host := range hosts {
			host = strings.ToLower(strings.TrimSpace(host))
			if host != "" {
				s.posterHosts[host] = struct{}{}
			}
		}
	}
}

// WithBackendHosts names the storage and cache hosts /posters must refuse.
func WithBackendHosts(hosts ...string) ServerOption {
	return func(s *Server) {
		for _, host := range hosts {
			host = strings.ToLower(strings.TrimSpace(host))
			if host != "" {
				s.backendHosts[host] = struct{}{}
			}
		}
	}
}

// WithRateLimit configures the global token bucket. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func NewServer(catalogService CatalogService, recommender RecommendService, options ...ServerOption) *Server {
	server := &Server{
		catalog:      catalogService,
		recommender:  recommender,
		logger:       slog.Default(),
		posterHosts:  make(map[string]struct{}),
		backendHosts: make(map[string]struct{}),
		rateRPS:      20,
		rateBurst:    40,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

const (
	bucketAPI     = "api"
	bucketPosters = "posters"
)

// routes is the single list of endpoints; the mux and every middleware read
// it.
func (s *Server) routes() []route {
	return []route{
		{path: "/health", handler: http.HandlerFunc(s.handleHealth), quiet: true, internal: true},
		{path: "/metrics", handler: promhttp.Handler(), quiet: true, internal: true},
		{path: "/movies", handler: http.HandlerFunc(s.handleMovies), bucket: bucketAPI, logParams: []string{"q", "limit"}},
		{path: "/recommend/stream", handler: http.HandlerFunc(s.handleRecommendStream), bucket: bucketAPI, logParams: []string{"title", "k"}},
		{path: "/recommend", handler: http.HandlerFunc(s.handleRecommend), bucket: bucketAPI, logParams: []string{"title", "k", "enrich"}},
		// A results page loads one poster per card, so posters get their own
		// bucket.
		{path: "/posters", handler: http.HandlerFunc(s.handlePosterProxy), bucket: bucketPosters, quiet: true},
		{path: "/enrich/health", handler: http.HandlerFunc(s.handleEnrichHealth)},
	}
}

func (s *Server) Handler() http.Handler {
	routes := s.routes()
	table := newRouteTable(routes)
	mux := http.NewServeMux()
	for _, rt := range routes {
		mux.Handle(rt.path, rt.handler)
	}
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, table, mux), "movie-recommender",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !table[r.URL.Path].internal
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + table.label(r.URL.Path)
		}),
	)
	var handler http.Handler = metricsMiddleware(table, traced)
	if s.rateRPS > 0 {
		handler = rateLimitMiddleware(table, s.rateRPS, s.rateBurst, handler)
	}
	return recoveryMiddleware(s.logger, handler)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	movies := 0
	if s.catalog != nil {
		movies = s.catalog.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"movies":    movies,
	})
}

func (s *Server) handleMovies(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/movies" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "catalog is not loaded")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}

	var items []string
	if query == "" {
		items = s.catalog.Titles()
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
	} else {
		items = s.catalog.Suggest(query, limit)
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query": query,
		"items": items,
		"total": s.catalog.Len(),
	})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/recommend" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()
	title, k, ok := s.parseRecommendRequest(w, r)
	if !ok {
		return
	}
	recs, ok := s.shortlist(w, title, k)
	if !ok {
		return
	}

	enrich := s.enricher != nil && parseOptionalBoolDefault(r.URL.Query().Get("enrich"), true)
	var cards []domain.RecommendationCard
	if enrich {
		cards = s.enricher.Enrich(r.Context(), recs)
	} else {
		cards = plainCards(recs)
	}

	writeJSON(w, http.StatusOK, domain.RecommendResponse{
		Query:     title,
		Items:     cards,
		Enriched:  enrich,
		ElapsedMS: time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleRecommendStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/recommend/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}
	title, k, ok := s.parseRecommendRequest(w, r)
	if !ok {
		return
	}
	recs, ok := s.shortlist(w, title, k)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "shortlist", map[string]any{
		"query": title,
		"items": recs,
	}); err != nil {
		return // Client disconnected
	}

	var cards <-chan domain.RecommendationCard
	if s.enricher != nil {
		cards = s.enricher.Stream(r.Context(), recs)
	} else {
		plain := make(chan domain.RecommendationCard, len(recs))
		for _, card := range plainCards(recs) {
			plain <- card
		}
		close(plain)
		cards = plain
	}

	sent := 0
	for card := range cards {
		select {
		case <-r.Context().Done():
			return // Client disconnected
		default:
		}
		if err := writeSSEEvent(w, flusher, "card", card); err != nil {
			return // Client disconnected
		}
		sent++
	}

	_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true, "count": sent})
}

func (s *Server) handleEnrichHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.enricher == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  true,
		"provider": s.enricher.Diagnostics(),
	})
}

func (s *Server) parseRecommendRequest(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	if s.recommender == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "recommender is not configured")
		return "", 0, false
	}
	// Titles are matched exactly, so only the query length is checked here.
	title := r.URL.Query().Get("title")
	if strings.TrimSpace(title) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return "", 0, false
	}
	if len(title) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title too long (max 500 characters)")
		return "", 0, false
	}
	k, err := parsePositiveInt(r, "k", 0)
	if err != nil || k > maxShortlistSize {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid k (1-%d)", maxShortlistSize))
		return "", 0, false
	}
	return title, k, true
}

// shortlist runs the recommender and writes the error response itself when it
// fails.
func (s *Server) shortlist(w http.ResponseWriter, title string, k int) ([]domain.Recommendation, bool) {
	started := time.Now()
	recs, err := s.recommender.Recommend(title, k)
	metrics.RecommendationDuration.Observe(time.Since(started).Seconds())
	if err == nil {
		metrics.RecommendationsTotal.WithLabelValues("ok").Inc()
		return recs, true
	}

	switch {
	case errors.Is(err, catalog.ErrMovieNotFound):
		metrics.RecommendationsTotal.WithLabelValues("not_found").Inc()
		var suggestions []string
		if s.catalog != nil {
			suggestions = s.catalog.Suggest(title, defaultSuggestions)
		}
		if suggestions == nil {
			suggestions = []string{}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]string{
				"code":    "movie_not_found",
				"message": notFoundMessage,
			},
			"suggestions": suggestions,
		})
	default:
		metrics.RecommendationsTotal.WithLabelValues("error").Inc()
		s.logger.Error("recommendation failed",
			slog.String("title", truncate(title, 80)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "recommendation failed")
	}
	return nil, false
}

func plainCards(recs []domain.Recommendation) []domain.RecommendationCard {
	cards := make([]domain.RecommendationCard, len(recs))
	for i, rec := range recs {
		cards[i] = domain.RecommendationCard{Recommendation: rec, Details: domain.PlaceholderDetails()}
	}
	return cards
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseOptionalBoolDefault(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
