package domain

import (
	"errors"
	"strconv"
	"time"
)

const (
	// DefaultShortlistSize is the number of recommendations returned when the
	// caller does not ask for a specific count.
	DefaultShortlistSize = 5

	RatingUnavailable   = "N/A"
	PlaceholderOverview = "No description available."
)

var ErrEnrichmentUnavailable = errors.New("enrichment unavailable")

type Movie struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type Recommendation struct {
	Rank  int     `json:"rank"`
	ID    int     `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

type MovieDetails struct {
	PosterURL  string   `json:"posterUrl,omitempty"`
	Overview   string   `json:"overview"`
	Rating     *float64 `json:"rating"`
	TrailerURL string   `json:"trailerUrl,omitempty"`
}

// RatingText renders the rating the way the cards show it.
func (d MovieDetails) RatingText() string {
	if d.Rating == nil {
		return RatingUnavailable
	}
	return strconv.FormatFloat(*d.Rating, 'f', 1, 64)
}

func PlaceholderDetails() MovieDetails {
	return MovieDetails{Overview: PlaceholderOverview}
}

type RecommendationCard struct {
	Recommendation
	Details         MovieDetails `json:"details"`
	Enriched        bool         `json:"enriched"`
	EnrichmentError string       `json:"enrichmentError,omitempty"`
}

type RecommendResponse struct {
	Query     string               `json:"query"`
	Items     []RecommendationCard `json:"items"`
	Enriched  bool                 `json:"enriched"`
	ElapsedMS int64                `json:"elapsedMs"`
}

// ProviderDiagnostics reports the health bookkeeping the enricher keeps for
// its metadata provider.
type ProviderDiagnostics struct {
	Name                string     `json:"name"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs"`
	LastTimeout         bool       `json:"lastTimeout"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	TimeoutCount        int64      `json:"timeoutCount"`
	CacheEntries        int        `json:"cacheEntries"`
}
