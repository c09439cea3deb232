package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"movierecs/internal/app"
)

var (
	cfg      = app.LoadConfig()
	output   = "text" // "text" or "json"
	logLevel = cfg.LogLevel
)

var rootCmd = &cobra.Command{
	Use:   "moviectl",
	Short: "moviectl - query and maintain the movie recommender catalog",
	Long: `moviectl runs recommendations against the catalog from the command line
and converts or seeds the catalog data the server loads.

Defaults come from the same environment variables the server reads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg.CatalogSource = strings.ToLower(strings.TrimSpace(cfg.CatalogSource))
		if cfg.CatalogSource != app.CatalogSourceFile && cfg.CatalogSource != app.CatalogSourceMongo {
			return fmt.Errorf("unsupported catalog source %q", cfg.CatalogSource)
		}
		if output != "text" && output != "json" {
			return fmt.Errorf("unsupported output format %q", output)
		}
		level := slog.LevelWarn
		if strings.EqualFold(logLevel, "debug") {
			level = slog.LevelDebug
		} else if strings.EqualFold(logLevel, "info") {
			level = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.CatalogSource, "source", cfg.CatalogSource, "Catalog source: file or mongo")
	flags.StringVar(&cfg.CatalogMoviesPath, "movies", cfg.CatalogMoviesPath, "Path to movies.json")
	flags.StringVar(&cfg.CatalogSimilarityPath, "similarity", cfg.CatalogSimilarityPath, "Path to the similarity matrix (.bin or .json)")
	flags.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection URI")
	flags.StringVar(&cfg.MongoDatabase, "mongo-db", cfg.MongoDatabase, "MongoDB database name")
	flags.StringVar(&output, "output", output, "Output format: text or json")
	flags.StringVar(&logLevel, "log-level", logLevel, "Log level: debug, info, warn")

	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(convertCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
