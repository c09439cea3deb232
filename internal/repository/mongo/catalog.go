package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"movierecs/internal/catalog"
	"movierecs/internal/domain"
)

const (
	DefaultMoviesCollection     = "movies"
	DefaultSimilarityCollection = "similarity"

	saveBatchSize = 500
)

var ErrRowsNotContiguous = errors.New("catalog rows are not contiguous")

// CatalogRepository stores the movie table and the similarity matrix in two
// collections keyed by row index.
type CatalogRepository struct {
	movies     *mongo.Collection
	similarity *mongo.Collection
}

type movieDoc struct {
	Index   int    `bson:"_id"`
	MovieID int    `bson:"movieId"`
	Title   string `bson:"title"`
}

type similarityDoc struct {
	Index  int       `bson:"_id"`
	Scores []float64 `bson:"scores"`
}

func NewCatalogRepository(client *mongo.Client, dbName, moviesCollection, similarityCollection string) *CatalogRepository {
	if moviesCollection == "" {
		moviesCollection = DefaultMoviesCollection
	}
	if similarityCollection == "" {
		similarityCollection = DefaultSimilarityCollection
	}
	db := client.Database(dbName)
	return &CatalogRepository{
		movies:     db.Collection(moviesCollection),
		similarity: db.Collection(similarityCollection),
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *CatalogRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.movies == nil {
		return nil
	}
	_, err := r.movies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "title", Value: 1}}},
		{Keys: bson.D{{Key: "movieId", Value: 1}}},
	})
	return err
}

// Load reads both collections and assembles a catalog. The two reads run
// concurrently; either failing aborts the load.
func (r *CatalogRepository) Load(ctx context.Context) (*catalog.Catalog, error) {
	var (
		movieDocs []movieDoc
		rowDocs   []similarityDoc
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := findAll[movieDoc](gctx, r.movies)
		if err != nil {
			return fmt.Errorf("read movies: %w", err)
		}
		movieDocs = docs
		return nil
	})
	g.Go(func() error {
		docs, err := findAll[similarityDoc](gctx, r.similarity)
		if err != nil {
			return fmt.Errorf("read similarity: %w", err)
		}
		rowDocs = docs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buildCatalog(movieDocs, rowDocs)
}

func findAll[T any](ctx context.Context, collection *mongo.Collection) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []T
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func buildCatalog(movieDocs []movieDoc, rowDocs []similarityDoc) (*catalog.Catalog, error) {
	sort.Slice(movieDocs, func(i, j int) bool { return movieDocs[i].Index < movieDocs[j].Index })
	sort.Slice(rowDocs, func(i, j int) bool { return rowDocs[i].Index < rowDocs[j].Index })

	movies := make([]domain.Movie, len(movieDocs))
	for i, doc := range movieDocs {
		if doc.Index != i {
			return nil, fmt.Errorf("%w: movies row %d has _id %d", ErrRowsNotContiguous, i, doc.Index)
		}
		movies[i] = fromMovieDoc(doc)
	}
	rows := make([][]float64, len(rowDocs))
	for i, doc := range rowDocs {
		if doc.Index != i {
			return nil, fmt.Errorf("%w: similarity row %d has _id %d", ErrRowsNotContiguous, i, doc.Index)
		}
		rows[i] = doc.Scores
	}
	if len(movies) == 0 {
		return nil, catalog.ErrEmptyCatalog
	}

	matrix, err := catalog.MatrixFromRows(rows)
	if err != nil {
		return nil, err
	}
	return catalog.New(movies, matrix)
}

// Save replaces every row of both collections with the contents of c and
// removes rows beyond its size.
func (r *CatalogRepository) Save(ctx context.Context, c *catalog.Catalog) error {
	movies := c.Movies()
	matrix := c.Similarity()

	movieModels := make([]mongo.WriteModel, 0, len(movies))
	for index, movie := range movies {
		movieModels = append(movieModels, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": index}).
			SetReplacement(toMovieDoc(index, movie)).
			SetUpsert(true))
	}
	rowModels := make([]mongo.WriteModel, 0, matrix.Dim())
	for index := 0; index < matrix.Dim(); index++ {
		rowModels = append(rowModels, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": index}).
			SetReplacement(toSimilarityDoc(index, matrix.Row(index))).
			SetUpsert(true))
	}

	if err := bulkWrite(ctx, r.movies, movieModels); err != nil {
		return fmt.Errorf("write movies: %w", err)
	}
	if err := bulkWrite(ctx, r.similarity, rowModels); err != nil {
		return fmt.Errorf("write similarity: %w", err)
	}

	stale := bson.M{"_id": bson.M{"$gte": len(movies)}}
	if _, err := r.movies.DeleteMany(ctx, stale); err != nil {
		return fmt.Errorf("trim movies: %w", err)
	}
	if _, err := r.similarity.DeleteMany(ctx, stale); err != nil {
		return fmt.Errorf("trim similarity: %w", err)
	}
	return nil
}

func bulkWrite(ctx context.Context, collection *mongo.Collection, models []mongo.WriteModel) error {
	opts := options.BulkWrite().SetOrdered(false)
	for start := 0; start < len(models); start += saveBatchSize {
		end := min(start+saveBatchSize, len(models))
		if _, err := collection.BulkWrite(ctx, models[start:end], opts); err != nil {
			return err
		}
	}
	return nil
}

func toMovieDoc(index int, movie domain.Movie) movieDoc {
	return movieDoc{Index: index, MovieID: movie.ID, Title: movie.Title}
}

func fromMovieDoc(doc movieDoc) domain.Movie {
	return domain.Movie{ID: doc.MovieID, Title: doc.Title}
}

func toSimilarityDoc(index int, row []float32) similarityDoc {
	scores := make([]float64, len(row))
	for i, v := range row {
		scores[i] = float64(v)
	}
	return similarityDoc{Index: index, Scores: scores}
}
