package app

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	CatalogSourceFile  = "file"
	CatalogSourceMongo = "mongo"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	CatalogSource         string
	CatalogMoviesPath     string
	CatalogSimilarityPath string

	MongoURI                  string
	MongoDatabase             string
	MongoMoviesCollection     string
	MongoSimilarityCollection string

	RecommendLimit     int
	RecommendExclusion string

	RedisURL          string
	TMDBAPIKey        string
	TMDBAccessToken   string
	TMDBBaseURL       string
	TMDBLanguage      string
	TMDBCacheTTL      time.Duration
	TMDBRateLimitRPS  float64
	EnrichTimeout     time.Duration
	EnrichConcurrency int
	EnrichCacheSize   int
	EnrichCacheTTL    time.Duration
	OTLPEndpoint      string
	APIRateLimitRPS   float64
	APIRateLimitBurst int
	RateLimitDisabled bool
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8095"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		CatalogSource:         normalizeCatalogSource(getEnv("CATALOG_SOURCE", CatalogSourceFile)),
		CatalogMoviesPath:     getEnv("CATALOG_MOVIES_PATH", "data/movies.json"),
		CatalogSimilarityPath: getEnv("CATALOG_SIMILARITY_PATH", "data/similarity.bin"),

		MongoURI:                  getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:             getEnv("MONGO_DB", "movierecs"),
		MongoMoviesCollection:     getEnv("MONGO_MOVIES_COLLECTION", "movies"),
		MongoSimilarityCollection: getEnv("MONGO_SIMILARITY_COLLECTION", "similarity"),

		RecommendLimit:     getEnvInt("RECOMMEND_LIMIT", 5),
		RecommendExclusion: strings.ToLower(getEnv("RECOMMEND_EXCLUSION", "exclude-self")),

		RedisURL:          getEnv("REDIS_URL", ""),
		TMDBAPIKey:        strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		TMDBAccessToken:   strings.TrimSpace(os.Getenv("TMDB_ACCESS_TOKEN")),
		TMDBBaseURL:       getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBLanguage:      getEnv("TMDB_LANGUAGE", "en-US"),
		TMDBCacheTTL:      time.Duration(getEnvInt("TMDB_CACHE_TTL_DAYS", 7)) * 24 * time.Hour,
		TMDBRateLimitRPS:  getEnvFloat("TMDB_RATE_LIMIT_RPS", 40),
		EnrichTimeout:     time.Duration(getEnvInt("ENRICH_TIMEOUT_SECONDS", 8)) * time.Second,
		EnrichConcurrency: getEnvInt("ENRICH_CONCURRENCY", 5),
		EnrichCacheSize:   getEnvInt("ENRICH_CACHE_SIZE", 512),
		EnrichCacheTTL:    time.Duration(getEnvInt("ENRICH_CACHE_TTL_MINUTES", 60)) * time.Minute,
		OTLPEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		APIRateLimitRPS:   getEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst: getEnvInt("API_RATE_LIMIT_BURST", 40),
		RateLimitDisabled: getEnvBool("API_RATE_LIMIT_DISABLED", false),
	}
}

// TMDBEnabled reports whether any TMDB credential is configured.
func (c Config) TMDBEnabled() bool {
	return c.TMDBAPIKey != "" || c.TMDBAccessToken != ""
}

// BackendHosts lists the hostnames of the Mongo and Redis deployments this
// process talks to. The poster proxy refuses to fetch from them.
func (c Config) BackendHosts() []string {
	var hosts []string
	for _, raw := range []string{c.MongoURI, c.RedisURL} {
		hosts = append(hosts, uriHosts(raw)...)
	}
	return hosts
}

// uriHosts extracts hostnames from a connection URI, including the
// comma-separated seed lists Mongo allows.
func uriHosts(raw string) []string {
	_, rest, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok {
		return nil
	}
	if end := strings.IndexAny(rest, "/?"); end >= 0 {
		rest = rest[:end]
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	var hosts []string
	for _, part := range strings.Split(rest, ",") {
		host := strings.TrimSpace(part)
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = strings.ToLower(strings.Trim(host, "[]"))
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func normalizeCatalogSource(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case CatalogSourceMongo, "mongodb":
		return CatalogSourceMongo
	default:
		return CatalogSourceFile
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
