package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"movierecs/internal/app"
	"movierecs/internal/catalog"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Copy the file catalog into MongoDB",
	Long: `Read movies.json and the similarity matrix from disk and upsert them into
the MongoDB collections the server reads with CATALOG_SOURCE=mongo. Rows past
the new catalog size are removed.

Examples:
  moviectl seed --movies data/movies.json --similarity data/similarity.bin
  moviectl seed --mongo-uri mongodb://mongo:27017 --mongo-db movierecs`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		movieCatalog, err := catalog.LoadFiles(cfg.CatalogMoviesPath, cfg.CatalogSimilarityPath)
		if err != nil {
			return fmt.Errorf("load catalog files: %w", err)
		}

		client, err := app.ConnectMongo(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = client.Disconnect(cmd.Context())
		}()

		repo := app.CatalogRepository(client, cfg)
		if err := repo.EnsureIndexes(cmd.Context()); err != nil {
			slog.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		if err := repo.Save(cmd.Context(), movieCatalog); err != nil {
			return fmt.Errorf("seed mongo: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d movies into %s (%s)\n",
			movieCatalog.Len(), cfg.MongoDatabase, time.Since(started).Round(time.Millisecond))
		return nil
	},
}
