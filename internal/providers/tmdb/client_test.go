package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Client:  server.Client(),
	})
	return server, client
}

func TestDetailsBuildsPosterURLAndFields(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/550" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("api_key"); got != "test-key" {
			t.Errorf("expected api_key, got %q", got)
		}
		if got := r.URL.Query().Get("language"); got != "en-US" {
			t.Errorf("expected en-US language, got %q", got)
		}
		_, _ = w.Write([]byte(`{"id":550,"title":"Fight Club","overview":"An insomniac office worker.","poster_path":"/pB8BM7pdSp6B6Ih7QZ4DrQ3PmJK.jpg","vote_average":8.4}`))
	})

	details, err := client.Details(context.Background(), 550)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if details.PosterURL != "https://image.tmdb.org/t/p/w500/pB8BM7pdSp6B6Ih7QZ4DrQ3PmJK.jpg" {
		t.Fatalf("unexpected poster url: %s", details.PosterURL)
	}
	if details.Overview != "An insomniac office worker." {
		t.Fatalf("unexpected overview: %q", details.Overview)
	}
	if details.Rating == nil || *details.Rating != 8.4 {
		t.Fatalf("unexpected rating: %v", details.Rating)
	}
	if details.RatingText() != "8.4" {
		t.Fatalf("unexpected rating text: %s", details.RatingText())
	}
}

func TestDetailsDefaultsForMissingFields(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":42,"title":"Obscure"}`))
	})

	details, err := client.Details(context.Background(), 42)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if details.Overview != "No description available." {
		t.Fatalf("expected placeholder overview, got %q", details.Overview)
	}
	if details.Rating != nil {
		t.Fatalf("expected nil rating, got %v", *details.Rating)
	}
	if details.RatingText() != "N/A" {
		t.Fatalf("expected N/A rating text, got %s", details.RatingText())
	}
	if details.PosterURL != "" {
		t.Fatalf("expected empty poster url, got %s", details.PosterURL)
	}
}

func TestTrailerPicksFirstYouTubeTrailer(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/550/videos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":550,"results":[
			{"key":"teaser1","site":"YouTube","type":"Teaser"},
			{"key":"vimeo1","site":"Vimeo","type":"Trailer"},
			{"key":"SUXWAEX2jlg","site":"YouTube","type":"Trailer"},
			{"key":"later","site":"YouTube","type":"Trailer"}
		]}`))
	})

	trailer, err := client.Trailer(context.Background(), 550)
	if err != nil {
		t.Fatalf("Trailer: %v", err)
	}
	if trailer != "https://www.youtube.com/watch?v=SUXWAEX2jlg" {
		t.Fatalf("unexpected trailer: %s", trailer)
	}
}

func TestTrailerAbsentWhenNoMatch(t *testing.T) {
	if got := PickTrailer([]Video{{Key: "x", Site: "Vimeo", Type: "Trailer"}, {Key: "y", Site: "YouTube", Type: "Clip"}}); got != "" {
		t.Fatalf("expected no trailer, got %s", got)
	}
	if got := PickTrailer(nil); got != "" {
		t.Fatalf("expected no trailer for nil, got %s", got)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	var calls atomic.Int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasSuffix(r.URL.Path, "/404") {
			http.Error(w, `{"status_message":"not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := client.Details(context.Background(), 404)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound || statusErr.Temporary() {
		t.Fatalf("unexpected 404 classification: %+v", statusErr)
	}

	_, err = client.Details(context.Background(), 7)
	if !errors.As(err, &statusErr) || !statusErr.Temporary() {
		t.Fatalf("expected temporary 429, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestBearerTokenReplacesAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer v4-token" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if r.URL.Query().Has("api_key") {
			t.Errorf("api_key must not be sent with a bearer token")
		}
		_, _ = w.Write([]byte(`{"id":1,"title":"Token"}`))
	}))
	defer server.Close()

	client := NewClient(Config{AccessToken: "v4-token", BaseURL: server.URL, Client: server.Client()})
	if _, err := client.Details(context.Background(), 1); err != nil {
		t.Fatalf("Details: %v", err)
	}
}

func TestDisabledClient(t *testing.T) {
	client := NewClient(Config{})
	if client.Enabled() {
		t.Fatal("expected disabled client without credentials")
	}
	if _, err := client.Details(context.Background(), 1); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestPosterURLAndImageHost(t *testing.T) {
	client := NewClient(Config{APIKey: "k", PosterSize: "/w342/"})
	if got := client.PosterURL("poster.jpg"); got != "https://image.tmdb.org/t/p/w342/poster.jpg" {
		t.Fatalf("unexpected poster url %s", got)
	}
	if got := client.PosterURL(""); got != "" {
		t.Fatalf("expected empty poster url, got %s", got)
	}
	if got := client.ImageHost(); got != "image.tmdb.org" {
		t.Fatalf("unexpected image host %s", got)
	}
}
