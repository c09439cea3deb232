package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"movierecs/internal/domain"
)

const (
	defaultBaseURL      = "https://api.themoviedb.org/3"
	defaultImageBaseURL = "https://image.tmdb.org/t/p/"
	defaultPosterSize   = "w500"
	defaultLanguage     = "en-US"
	youtubeWatchURL     = "https://www.youtube.com/watch?v="
	redisCacheKey       = "movierecs:tmdb:"
	maxResponseBytes    = 512 * 1024
)

var ErrDisabled = errors.New("tmdb credentials not configured")

type Client struct {
	apiKey       string
	accessToken  string
	baseURL      string
	imageBaseURL string
	posterSize   string
	language     string
	http         *http.Client
	redis        *redis.Client
	cacheTTL     time.Duration
	limiter      *rate.Limiter
}

type Config struct {
	APIKey string
	// AccessToken is a v4 read token sent as a bearer header instead of api_key.
	AccessToken       string
	BaseURL           string
	ImageBaseURL      string
	PosterSize        string
	Language          string
	Client            *http.Client
	Redis             *redis.Client
	CacheTTL          time.Duration
	RequestsPerSecond float64
}

// StatusError is returned for any non-200 TMDB response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tmdb HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Movie struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Overview    *string  `json:"overview"`
	PosterPath  *string  `json:"poster_path"`
	VoteAverage *float64 `json:"vote_average"`
	ReleaseDate string   `json:"release_date,omitempty"`
}

type Video struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Site     string `json:"site"`
	Type     string `json:"type"`
	Official bool   `json:"official"`
}

type videosResponse struct {
	Results []Video `json:"results"`
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	imageBaseURL := strings.TrimSpace(cfg.ImageBaseURL)
	if imageBaseURL == "" {
		imageBaseURL = defaultImageBaseURL
	}
	posterSize := strings.Trim(strings.TrimSpace(cfg.PosterSize), "/")
	if posterSize == "" {
		posterSize = defaultPosterSize
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = defaultLanguage
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 7 * 24 * time.Hour
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		apiKey:       strings.TrimSpace(cfg.APIKey),
		accessToken:  strings.TrimSpace(cfg.AccessToken),
		baseURL:      strings.TrimRight(baseURL, "/"),
		imageBaseURL: strings.TrimRight(imageBaseURL, "/") + "/",
		posterSize:   posterSize,
		language:     language,
		http:         httpClient,
		redis:        cfg.Redis,
		cacheTTL:     cacheTTL,
		limiter:      limiter,
	}
}

func (c *Client) Name() string {
	return "tmdb"
}

func (c *Client) Enabled() bool {
	return c.apiKey != "" || c.accessToken != ""
}

// ImageHost is the host posters are served from.
func (c *Client) ImageHost() string {
	parsed, err := url.Parse(c.imageBaseURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// PosterURL joins a relative poster path with the image base and size.
func (c *Client) PosterURL(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	return c.imageBaseURL + c.posterSize + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) Movie(ctx context.Context, id int) (Movie, error) {
	var movie Movie
	if err := c.getJSON(ctx, "/movie/"+strconv.Itoa(id), "movie:"+strconv.Itoa(id), &movie); err != nil {
		return Movie{}, err
	}
	return movie, nil
}

func (c *Client) Videos(ctx context.Context, id int) ([]Video, error) {
	var response videosResponse
	if err := c.getJSON(ctx, "/movie/"+strconv.Itoa(id)+"/videos", "videos:"+strconv.Itoa(id), &response); err != nil {
		return nil, err
	}
	return response.Results, nil
}

// Details fetches poster, overview and rating for a movie. Missing overview
// falls back to the placeholder text and a missing rating stays nil.
func (c *Client) Details(ctx context.Context, id int) (domain.MovieDetails, error) {
	movie, err := c.Movie(ctx, id)
	if err != nil {
		return domain.MovieDetails{}, err
	}
	details := domain.MovieDetails{
		Overview: domain.PlaceholderOverview,
		Rating:   movie.VoteAverage,
	}
	if movie.PosterPath != nil {
		details.PosterURL = c.PosterURL(*movie.PosterPath)
	}
	if movie.Overview != nil && strings.TrimSpace(*movie.Overview) != "" {
		details.Overview = *movie.Overview
	}
	return details, nil
}

// Trailer returns the watch URL of the first YouTube trailer, or "" if none.
func (c *Client) Trailer(ctx context.Context, id int) (string, error) {
	videos, err := c.Videos(ctx, id)
	if err != nil {
		return "", err
	}
	return PickTrailer(videos), nil
}

func PickTrailer(videos []Video) string {
	for _, video := range videos {
		if video.Type == "Trailer" && video.Site == "YouTube" && strings.TrimSpace(video.Key) != "" {
			return youtubeWatchURL + url.QueryEscape(video.Key)
		}
	}
	return ""
}

func (c *Client) getJSON(ctx context.Context, path, cacheKey string, dest any) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	cacheKey = redisCacheKey + cacheKey + ":" + c.language

	// Check Redis cache
	if c.redis != nil {
		data, err := c.redis.Get(ctx, cacheKey).Bytes()
		if err == nil && json.Unmarshal(data, dest) == nil {
			return nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	params := url.Values{"language": {c.language}}
	if c.accessToken == "" {
		params.Set("api_key", c.apiKey)
	}
	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode tmdb %s: %w", path, err)
	}

	if c.redis != nil {
		_ = c.redis.Set(ctx, cacheKey, body, c.cacheTTL).Err()
	}
	return nil
}
