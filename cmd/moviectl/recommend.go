package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"movierecs/internal/app"
	"movierecs/internal/catalog"
	"movierecs/internal/domain"
	"movierecs/internal/enrich"
	"movierecs/internal/providers/tmdb"
	"movierecs/internal/recommend"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <title>",
	Short: "Print the movies most similar to a title",
	Long: `Rank the catalog by similarity to the given title. The title must match a
catalog entry exactly; close matches are suggested otherwise.

Examples:
  moviectl recommend "Avatar"
  moviectl recommend "Spectre" --k 10 --enrich`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		exclusion, _ := cmd.Flags().GetString("exclusion")
		withDetails, _ := cmd.Flags().GetBool("enrich")
		return runRecommend(cmd, args[0], k, exclusion, withDetails)
	},
}

func init() {
	recommendCmd.Flags().Int("k", 0, "Number of recommendations (defaults to RECOMMEND_LIMIT)")
	recommendCmd.Flags().String("exclusion", cfg.RecommendExclusion, "How the query movie is excluded: exclude-self or drop-top")
	recommendCmd.Flags().Bool("enrich", false, "Fetch poster, overview, rating and trailer from TMDB")
}

func runRecommend(cmd *cobra.Command, title string, k int, exclusion string, withDetails bool) error {
	movieCatalog, err := loadCatalog(cmd)
	if err != nil {
		return err
	}
	policy, err := recommend.ParseExclusionPolicy(exclusion)
	if err != nil {
		return err
	}
	recommender := recommend.New(movieCatalog,
		recommend.WithDefaultLimit(cfg.RecommendLimit),
		recommend.WithExclusionPolicy(policy),
	)

	started := time.Now()
	recs, err := recommender.Recommend(title, k)
	if errors.Is(err, catalog.ErrMovieNotFound) {
		printNotFound(cmd.ErrOrStderr(), movieCatalog.Suggest(title, 10))
		return errors.New("movie not found, please pick from the list")
	}
	if err != nil {
		return err
	}

	var cards []domain.RecommendationCard
	if withDetails {
		if !cfg.TMDBEnabled() {
			return errors.New("TMDB_API_KEY or TMDB_ACCESS_TOKEN must be set for --enrich")
		}
		client := tmdb.NewClient(tmdb.Config{
			APIKey:            cfg.TMDBAPIKey,
			AccessToken:       cfg.TMDBAccessToken,
			BaseURL:           cfg.TMDBBaseURL,
			Language:          cfg.TMDBLanguage,
			Client:            &http.Client{Timeout: 10 * time.Second},
			RequestsPerSecond: cfg.TMDBRateLimitRPS,
		})
		enricher := enrich.New(client,
			enrich.WithItemTimeout(cfg.EnrichTimeout),
			enrich.WithConcurrency(cfg.EnrichConcurrency),
			enrich.WithCache(0, 0),
		)
		cards = enricher.Enrich(cmd.Context(), recs)
	} else {
		cards = make([]domain.RecommendationCard, len(recs))
		for i, rec := range recs {
			cards[i] = domain.RecommendationCard{Recommendation: rec, Details: domain.PlaceholderDetails()}
		}
	}

	response := domain.RecommendResponse{
		Query:     title,
		Items:     cards,
		Enriched:  withDetails,
		ElapsedMS: time.Since(started).Milliseconds(),
	}
	if output == "json" {
		return printJSON(cmd.OutOrStdout(), response)
	}
	printCards(cmd.OutOrStdout(), response)
	return nil
}

func printNotFound(w io.Writer, suggestions []string) {
	fmt.Fprintln(w, "movie not found, please pick from the list")
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintln(w, "Did you mean:")
	for _, title := range suggestions {
		fmt.Fprintf(w, "  %s\n", title)
	}
}

func printCards(w io.Writer, response domain.RecommendResponse) {
	fmt.Fprintf(w, "Movies similar to %q:\n", response.Query)
	for _, card := range response.Items {
		fmt.Fprintf(w, "%2d. %s (score %.3f)\n", card.Rank, card.Title, card.Score)
		if !response.Enriched {
			continue
		}
		fmt.Fprintf(w, "    Rating: %s\n", card.Details.RatingText())
		fmt.Fprintf(w, "    %s\n", card.Details.Overview)
		if card.Details.PosterURL != "" {
			fmt.Fprintf(w, "    Poster: %s\n", card.Details.PosterURL)
		}
		if card.Details.TrailerURL != "" {
			fmt.Fprintf(w, "    Trailer: %s\n", card.Details.TrailerURL)
		}
		if card.EnrichmentError != "" {
			fmt.Fprintf(w, "    (%s)\n", card.EnrichmentError)
		}
	}
}

func printJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	c, err := app.LoadCatalog(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return c, nil
}
