package enrich

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"movierecs/internal/domain"
)

type fakeStatusError struct {
	code int
}

func (e *fakeStatusError) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e *fakeStatusError) Temporary() bool { return e.code >= 500 || e.code == 429 }

type fakeProvider struct {
	mu           sync.Mutex
	detailsCalls map[int]int
	trailerCalls map[int]int
	fail         map[int]error
	trailerFail  map[int]error
	delay        time.Duration
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		detailsCalls: make(map[int]int),
		trailerCalls: make(map[int]int),
		fail:         make(map[int]error),
		trailerFail:  make(map[int]error),
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Details(ctx context.Context, id int) (domain.MovieDetails, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxInFlight.Load()
		if current <= seen || f.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	f.mu.Lock()
	f.detailsCalls[id]++
	err := f.fail[id]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.MovieDetails{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err != nil {
		return domain.MovieDetails{}, err
	}
	rating := float64(id) / 10
	return domain.MovieDetails{
		PosterURL: fmt.Sprintf("https://image.tmdb.org/t/p/w500/%d.jpg", id),
		Overview:  fmt.Sprintf("overview %d", id),
		Rating:    &rating,
	}, nil
}

func (f *fakeProvider) Trailer(ctx context.Context, id int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trailerCalls[id]++
	if err := f.trailerFail[id]; err != nil {
		return "", err
	}
	return fmt.Sprintf("https://www.youtube.com/watch?v=k%d", id), nil
}

func (f *fakeProvider) calls(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailsCalls[id]
}

func shortlist(ids ...int) []domain.Recommendation {
	recs := make([]domain.Recommendation, len(ids))
	for i, id := range ids {
		recs[i] = domain.Recommendation{Rank: i + 1, ID: id, Title: fmt.Sprintf("Movie %d", id), Score: 1 - float64(i)/10}
	}
	return recs
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestEnrichOneFailureDoesNotAffectOthers(t *testing.T) {
	provider := newFakeProvider()
	provider.fail[30] = &fakeStatusError{code: 502}
	e := New(provider, WithRetryPolicy(fastRetry()))

	cards := e.Enrich(context.Background(), shortlist(10, 20, 30, 40, 50))
	if len(cards) != 5 {
		t.Fatalf("expected 5 cards, got %d", len(cards))
	}
	for i, card := range cards {
		if card.Rank != i+1 {
			t.Fatalf("card %d out of order: %+v", i, card.Recommendation)
		}
		if card.ID == 30 {
			if card.Enriched {
				t.Fatal("expected failed card to be marked unenriched")
			}
			if card.Details.Overview != domain.PlaceholderOverview || card.Details.Rating != nil {
				t.Fatalf("expected placeholder details, got %+v", card.Details)
			}
			if card.EnrichmentError == "" {
				t.Fatal("expected enrichment error on failed card")
			}
			continue
		}
		if !card.Enriched {
			t.Fatalf("card %d should be enriched: %+v", card.ID, card)
		}
		if card.Details.TrailerURL == "" || card.Details.PosterURL == "" {
			t.Fatalf("card %d missing details: %+v", card.ID, card.Details)
		}
	}
	if got := provider.calls(30); got != 2 {
		t.Fatalf("expected transient failure to be retried once, got %d calls", got)
	}
}

func TestEnrichPermanentErrorIsNotRetried(t *testing.T) {
	provider := newFakeProvider()
	provider.fail[404] = &fakeStatusError{code: 404}
	e := New(provider, WithRetryPolicy(fastRetry()))

	card := e.EnrichOne(context.Background(), shortlist(404)[0])
	if card.Enriched {
		t.Fatal("expected placeholder card")
	}
	if got := provider.calls(404); got != 1 {
		t.Fatalf("expected single call for permanent error, got %d", got)
	}
	if diag := e.Diagnostics(); diag.ConsecutiveFailures != 0 {
		t.Fatalf("permanent errors must not count toward blocking: %+v", diag)
	}
}

func TestEnrichTimeoutFallsBackToPlaceholder(t *testing.T) {
	provider := newFakeProvider()
	provider.delay = 200 * time.Millisecond
	e := New(provider,
		WithItemTimeout(20*time.Millisecond),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 1}),
	)

	started := time.Now()
	cards := e.Enrich(context.Background(), shortlist(1, 2))
	if elapsed := time.Since(started); elapsed > 150*time.Millisecond {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
	for _, card := range cards {
		if card.Enriched {
			t.Fatalf("expected timeout placeholder, got %+v", card)
		}
		if card.EnrichmentError != "enrichment unavailable: timeout" {
			t.Fatalf("unexpected error text %q", card.EnrichmentError)
		}
	}
}

func TestEnrichTrailerFailureKeepsDetails(t *testing.T) {
	provider := newFakeProvider()
	provider.trailerFail[7] = &fakeStatusError{code: 404}
	e := New(provider, WithRetryPolicy(fastRetry()))

	card := e.EnrichOne(context.Background(), shortlist(7)[0])
	if !card.Enriched {
		t.Fatalf("expected enriched card, got %+v", card)
	}
	if card.Details.TrailerURL != "" {
		t.Fatalf("expected no trailer, got %s", card.Details.TrailerURL)
	}
	if card.Details.Overview != "overview 7" {
		t.Fatalf("unexpected overview %q", card.Details.Overview)
	}
}

func TestEnrichUsesCache(t *testing.T) {
	provider := newFakeProvider()
	e := New(provider, WithCache(8, time.Minute))

	first := e.EnrichOne(context.Background(), shortlist(5)[0])
	second := e.EnrichOne(context.Background(), shortlist(5)[0])
	if !first.Enriched || !second.Enriched {
		t.Fatal("expected both cards enriched")
	}
	if got := provider.calls(5); got != 1 {
		t.Fatalf("expected cached second lookup, got %d provider calls", got)
	}
	if diag := e.Diagnostics(); diag.CacheEntries != 1 {
		t.Fatalf("expected 1 cache entry, got %d", diag.CacheEntries)
	}
}

func TestEnrichBlocksProviderAfterRepeatedFailures(t *testing.T) {
	provider := newFakeProvider()
	for _, id := range []int{1, 2, 3, 4} {
		provider.fail[id] = &fakeStatusError{code: 503}
	}
	e := New(provider, WithRetryPolicy(RetryPolicy{MaxAttempts: 1}), WithCache(0, 0))

	for _, rec := range shortlist(1, 2, 3) {
		e.EnrichOne(context.Background(), rec)
	}
	diag := e.Diagnostics()
	if diag.BlockedUntil == nil || diag.ConsecutiveFailures != 3 {
		t.Fatalf("expected provider blocked after 3 failures: %+v", diag)
	}

	card := e.EnrichOne(context.Background(), shortlist(4)[0])
	if card.Enriched || card.EnrichmentError != "metadata provider temporarily unavailable" {
		t.Fatalf("expected blocked placeholder, got %+v", card)
	}
	if got := provider.calls(4); got != 0 {
		t.Fatalf("blocked provider must not be called, got %d", got)
	}

	e.now = func() time.Time { return time.Now().Add(providerBlockBase + time.Second) }
	provider.mu.Lock()
	delete(provider.fail, 4)
	provider.mu.Unlock()
	if card := e.EnrichOne(context.Background(), shortlist(4)[0]); !card.Enriched {
		t.Fatalf("expected recovery after block expiry, got %+v", card)
	}
	if diag := e.Diagnostics(); diag.ConsecutiveFailures != 0 || diag.BlockedUntil != nil {
		t.Fatalf("expected health reset after success: %+v", diag)
	}
}

func TestEnrichCallerCancelLeavesHealthUntouched(t *testing.T) {
	provider := newFakeProvider()
	provider.fail[1] = &fakeStatusError{code: 503}
	provider.fail[2] = &fakeStatusError{code: 503}
	e := New(provider, WithRetryPolicy(RetryPolicy{MaxAttempts: 1}), WithCache(0, 0))
	for _, rec := range shortlist(1, 2) {
		e.EnrichOne(context.Background(), rec)
	}
	before := e.Diagnostics()

	provider.delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	card := e.EnrichOne(ctx, shortlist(3)[0])
	if card.Enriched {
		t.Fatalf("expected placeholder for cancelled caller, got %+v", card)
	}

	after := e.Diagnostics()
	if after.TotalRequests != before.TotalRequests || after.TotalFailures != before.TotalFailures {
		t.Fatalf("cancel must not be counted: before %+v, after %+v", before, after)
	}
	if after.LastError != "HTTP 503" || after.ConsecutiveFailures != 2 {
		t.Fatalf("cancel must keep the failure streak: %+v", after)
	}
}

func TestEnrichRespectsConcurrencyLimit(t *testing.T) {
	provider := newFakeProvider()
	provider.delay = 20 * time.Millisecond
	e := New(provider, WithConcurrency(2))

	cards := e.Enrich(context.Background(), shortlist(1, 2, 3, 4, 5, 6))
	for _, card := range cards {
		if !card.Enriched {
			t.Fatalf("expected enriched card: %+v", card)
		}
	}
	if got := provider.maxInFlight.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", got)
	}
}

func TestStreamEmitsEveryCardOnce(t *testing.T) {
	provider := newFakeProvider()
	provider.fail[2] = &fakeStatusError{code: 500}
	e := New(provider, WithRetryPolicy(RetryPolicy{MaxAttempts: 1}))

	seen := make(map[int]int)
	for card := range e.Stream(context.Background(), shortlist(1, 2, 3)) {
		seen[card.ID]++
	}
	for _, id := range []int{1, 2, 3} {
		if seen[id] != 1 {
			t.Fatalf("expected exactly one card for %d, got %d", id, seen[id])
		}
	}
}

func TestEnrichWithoutProvider(t *testing.T) {
	e := New(nil)
	cards := e.Enrich(context.Background(), shortlist(1, 2))
	for _, card := range cards {
		if card.Enriched || card.Details.Overview != domain.PlaceholderOverview {
			t.Fatalf("expected placeholder without provider: %+v", card)
		}
	}
}

func TestBlockDurationGrowsAndCaps(t *testing.T) {
	if got := blockDuration(3); got != providerBlockBase {
		t.Fatalf("blockDuration(3) = %v", got)
	}
	if got := blockDuration(4); got != 2*providerBlockBase {
		t.Fatalf("blockDuration(4) = %v", got)
	}
	if got := blockDuration(20); got != providerBlockMax {
		t.Fatalf("blockDuration(20) = %v", got)
	}
}
