package apihttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"movierecs/internal/domain"
	"movierecs/internal/enrich"
	"movierecs/internal/providers/tmdb"
)

// fakeTMDB serves the two TMDB endpoints the enricher uses. Movie 285 has no
// rating and no overview, movie 49026 fails outright.
func fakeTMDB(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/movie/206647":
			_, _ = w.Write([]byte(`{"id":206647,"title":"Spectre","overview":"A cryptic message.","poster_path":"/spectre.jpg","vote_average":6.4}`))
		case "/movie/206647/videos":
			_, _ = w.Write([]byte(`{"results":[{"key":"teaser1","site":"YouTube","type":"Teaser"},{"key":"7GqClqvlObY","site":"YouTube","type":"Trailer"}]}`))
		case "/movie/285":
			_, _ = w.Write([]byte(`{"id":285,"title":"Pirates","overview":"","poster_path":"/pirates.jpg"}`))
		case "/movie/285/videos":
			_, _ = w.Write([]byte(`{"results":[]}`))
		case "/movie/49026", "/movie/49026/videos":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status_code":34}`))
		default:
			t.Errorf("unexpected tmdb path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newE2EServer(t *testing.T) *Server {
	t.Helper()
	upstream := fakeTMDB(t)
	t.Cleanup(upstream.Close)

	client := tmdb.NewClient(tmdb.Config{
		APIKey:  "test-key",
		BaseURL: upstream.URL,
		Client:  upstream.Client(),
	})
	enricher := enrich.New(client,
		enrich.WithItemTimeout(2*time.Second),
		enrich.WithRetryPolicy(enrich.RetryPolicy{MaxAttempts: 1}),
	)
	return newTestServer(t, WithEnricher(enricher), WithPosterHosts(client.ImageHost()))
}

func TestE2ERecommendBuildsCards(t *testing.T) {
	rec := serve(newE2EServer(t), "/recommend?title=Avatar&k=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.RecommendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(resp.Items))
	}

	spectre, tdkr, pirates := resp.Items[0], resp.Items[1], resp.Items[2]
	if spectre.Title != "Spectre" || tdkr.Title != "The Dark Knight Rises" || pirates.Rank != 3 {
		t.Fatalf("unexpected order: %+v", resp.Items)
	}

	if !spectre.Enriched {
		t.Fatalf("spectre should be enriched: %+v", spectre)
	}
	if spectre.Details.PosterURL != "https://image.tmdb.org/t/p/w500/spectre.jpg" {
		t.Errorf("poster = %q", spectre.Details.PosterURL)
	}
	if spectre.Details.TrailerURL != "https://www.youtube.com/watch?v=7GqClqvlObY" {
		t.Errorf("trailer = %q", spectre.Details.TrailerURL)
	}
	if spectre.Details.RatingText() != "6.4" {
		t.Errorf("rating = %q", spectre.Details.RatingText())
	}

	// A failed lookup only downgrades its own card.
	if tdkr.Enriched || tdkr.Details.Overview != domain.PlaceholderOverview || tdkr.EnrichmentError == "" {
		t.Errorf("tdkr should be a placeholder card: %+v", tdkr)
	}

	if !pirates.Enriched {
		t.Fatalf("pirates should be enriched: %+v", pirates)
	}
	if pirates.Details.Overview != domain.PlaceholderOverview {
		t.Errorf("empty overview should fall back, got %q", pirates.Details.Overview)
	}
	if pirates.Details.RatingText() != domain.RatingUnavailable {
		t.Errorf("missing rating should render N/A, got %q", pirates.Details.RatingText())
	}
	if pirates.Details.TrailerURL != "" {
		t.Errorf("no trailer expected, got %q", pirates.Details.TrailerURL)
	}
}

func TestE2EStreamDeliversEveryCard(t *testing.T) {
	rec := serve(newE2EServer(t), "/recommend/stream?title=Avatar&k=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, title := range []string{"Spectre", "The Dark Knight Rises", "Pirates of the Caribbean"} {
		if strings.Count(body, `"title":"`+title) < 2 {
			t.Fatalf("%s should appear in the shortlist and in a card: %s", title, body)
		}
	}
	if !strings.Contains(body, "event: done") {
		t.Fatalf("stream should end with done event")
	}
}

func TestE2EPosterHostComesFromClient(t *testing.T) {
	server := newE2EServer(t)
	if _, ok := server.posterHosts["image.tmdb.org"]; !ok {
		t.Fatalf("poster hosts = %v", server.posterHosts)
	}
}
