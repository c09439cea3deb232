// Package recommend ranks catalog rows by similarity to a selected title.
package recommend

import (
	"fmt"
	"sort"
	"strings"

	"movierecs/internal/catalog"
	"movierecs/internal/domain"
)

// ExclusionPolicy decides how the query movie is kept out of its own shortlist.
type ExclusionPolicy string

const (
	// ExcludeSelf removes the query row by index, whatever its score.
	ExcludeSelf ExclusionPolicy = "exclude-self"
	// DropTop removes whichever row ranks first. This assumes the diagonal is
	// the strict row maximum; when another row ties or beats it, that row is
	// dropped instead and the query itself can appear in the results.
	DropTop ExclusionPolicy = "drop-top"
)

func ParseExclusionPolicy(raw string) (ExclusionPolicy, error) {
	switch ExclusionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExcludeSelf:
		return ExcludeSelf, nil
	case DropTop:
		return DropTop, nil
	default:
		return "", fmt.Errorf("unknown exclusion policy %q", raw)
	}
}

type Recommender struct {
	catalog *catalog.Catalog
	limit   int
	policy  ExclusionPolicy
}

type Option func(*Recommender)

func WithDefaultLimit(limit int) Option {
	return func(r *Recommender) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

func WithExclusionPolicy(policy ExclusionPolicy) Option {
	return func(r *Recommender) {
		if policy != "" {
			r.policy = policy
		}
	}
}

func New(c *catalog.Catalog, opts ...Option) *Recommender {
	r := &Recommender{
		catalog: c,
		limit:   domain.DefaultShortlistSize,
		policy:  ExcludeSelf,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recommender) Policy() ExclusionPolicy {
	return r.policy
}

type scoredRow struct {
	index int
	score float32
}

// Recommend returns up to k movies most similar to title, best first. A k of
// zero or less uses the default shortlist size. Ties in score are broken by
// ascending catalog row so output is reproducible.
func (r *Recommender) Recommend(title string, k int) ([]domain.Recommendation, error) {
	index, err := r.catalog.Resolve(title)
	if err != nil {
		return nil, err
	}
	return r.RecommendIndex(index, k)
}

func (r *Recommender) RecommendIndex(index, k int) ([]domain.Recommendation, error) {
	scores, err := r.catalog.Scores(index)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = r.limit
	}

	ranked := make([]scoredRow, 0, len(scores))
	for row, score := range scores {
		if r.policy == ExcludeSelf && row == index {
			continue
		}
		ranked = append(ranked, scoredRow{index: row, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})
	if r.policy == DropTop && len(ranked) > 0 {
		ranked = ranked[1:]
	}
	if k > len(ranked) {
		k = len(ranked)
	}

	out := make([]domain.Recommendation, 0, k)
	for rank, entry := range ranked[:k] {
		movie, err := r.catalog.RecordAt(entry.index)
		if err != nil {
			return nil, fmt.Errorf("ranked row %d: %w", entry.index, err)
		}
		out = append(out, domain.Recommendation{
			Rank:  rank + 1,
			ID:    movie.ID,
			Title: movie.Title,
			Score: float64(entry.score),
		})
	}
	return out, nil
}
