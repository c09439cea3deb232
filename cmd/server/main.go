package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "movierecs/internal/api/http"
	"movierecs/internal/app"
	"movierecs/internal/catalog"
	"movierecs/internal/enrich"
	"movierecs/internal/metrics"
	"movierecs/internal/providers/tmdb"
	"movierecs/internal/recommend"
	"movierecs/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Options{
		ServiceName: "movie-recommender",
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "movie-recommender"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("catalogSource", cfg.CatalogSource),
		slog.Int("recommendLimit", cfg.RecommendLimit),
		slog.String("recommendExclusion", cfg.RecommendExclusion),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.Bool("hasTMDBCredentials", cfg.TMDBEnabled()),
		slog.Duration("enrichTimeout", cfg.EnrichTimeout),
		slog.Int("enrichConcurrency", cfg.EnrichConcurrency),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	movieCatalog, err := loadCatalog(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("catalog load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	metrics.CatalogMovies.Set(float64(movieCatalog.Len()))

	policy, err := recommend.ParseExclusionPolicy(cfg.RecommendExclusion)
	if err != nil {
		logger.Error("invalid recommend exclusion policy", slog.String("error", err.Error()))
		os.Exit(1)
	}
	recommender := recommend.New(movieCatalog,
		recommend.WithDefaultLimit(cfg.RecommendLimit),
		recommend.WithExclusionPolicy(policy),
	)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithRateLimit(rateLimitRPS(cfg), cfg.APIRateLimitBurst),
		apihttp.WithBackendHosts(cfg.BackendHosts()...),
	}
	if tmdbClient := buildTMDBClient(cfg, logger); tmdbClient != nil {
		enricher := enrich.New(tmdbClient,
			enrich.WithItemTimeout(cfg.EnrichTimeout),
			enrich.WithConcurrency(cfg.EnrichConcurrency),
			enrich.WithCache(cfg.EnrichCacheSize, cfg.EnrichCacheTTL),
			enrich.WithLogger(logger),
		)
		serverOpts = append(serverOpts,
			apihttp.WithEnricher(enricher),
			apihttp.WithPosterHosts(tmdbClient.ImageHost()),
		)
	}

	handler := apihttp.NewServer(movieCatalog, recommender, serverOpts...).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// /recommend/stream holds the connection open while cards are enriched.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("movie recommender started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("movies", movieCatalog.Len()),
		slog.String("exclusion", string(recommender.Policy())),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("movie recommender stopped")
}

func loadCatalog(ctx context.Context, cfg app.Config, logger *slog.Logger) (*catalog.Catalog, error) {
	started := time.Now()
	c, err := app.LoadCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	attrs := []any{
		slog.String("source", cfg.CatalogSource),
		slog.Int("movies", c.Len()),
		slog.Duration("elapsed", time.Since(started)),
	}
	if cfg.CatalogSource == app.CatalogSourceMongo {
		attrs = append(attrs, slog.String("database", cfg.MongoDatabase))
	} else {
		attrs = append(attrs,
			slog.String("moviesPath", cfg.CatalogMoviesPath),
			slog.String("similarityPath", cfg.CatalogSimilarityPath),
		)
	}
	logger.Info("catalog loaded", attrs...)
	return c, nil
}

func rateLimitRPS(cfg app.Config) float64 {
	if cfg.RateLimitDisabled {
		return 0
	}
	return cfg.APIRateLimitRPS
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	handlerOpts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildTMDBClient(cfg app.Config, logger *slog.Logger) *tmdb.Client {
	if !cfg.TMDBEnabled() {
		logger.Info("tmdb credentials not configured, enrichment disabled")
		return nil
	}

	// Try to reuse Redis for TMDB caching.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid redis url, tmdb cache disabled", slog.String("error", err.Error()))
		} else {
			redisClient = redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Warn("redis not reachable, tmdb cache disabled", slog.String("error", err.Error()))
				_ = redisClient.Close()
				redisClient = nil
			} else {
				logger.Info("redis connected", slog.String("addr", opts.Addr))
			}
			cancel()
		}
	}

	client := tmdb.NewClient(tmdb.Config{
		APIKey:            cfg.TMDBAPIKey,
		AccessToken:       cfg.TMDBAccessToken,
		BaseURL:           cfg.TMDBBaseURL,
		Language:          cfg.TMDBLanguage,
		Client:            &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Redis:             redisClient,
		CacheTTL:          cfg.TMDBCacheTTL,
		RequestsPerSecond: cfg.TMDBRateLimitRPS,
	})
	logger.Info("tmdb client initialized",
		slog.Bool("enabled", client.Enabled()),
		slog.String("imageHost", client.ImageHost()),
	)
	return client
}
