package app

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"movierecs/internal/catalog"
	mongorepo "movierecs/internal/repository/mongo"
)

// LoadCatalog reads the catalog from the configured source.
func LoadCatalog(ctx context.Context, cfg Config) (*catalog.Catalog, error) {
	if cfg.CatalogSource != CatalogSourceMongo {
		return catalog.LoadFiles(cfg.CatalogMoviesPath, cfg.CatalogSimilarityPath)
	}

	client, err := ConnectMongo(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// The catalog is immutable once loaded, so the connection is not kept.
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	loadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	return CatalogRepository(client, cfg).Load(loadCtx)
}

// ConnectMongo dials and pings MongoDB with command tracing enabled.
func ConnectMongo(ctx context.Context, cfg Config) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func CatalogRepository(client *mongo.Client, cfg Config) *mongorepo.CatalogRepository {
	return mongorepo.NewCatalogRepository(client, cfg.MongoDatabase, cfg.MongoMoviesCollection, cfg.MongoSimilarityCollection)
}
