package mongo

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"movierecs/internal/catalog"
	"movierecs/internal/domain"
)

func TestMovieDocRoundtrip(t *testing.T) {
	movie := domain.Movie{ID: 19995, Title: "Avatar"}
	doc := toMovieDoc(3, movie)
	if doc.Index != 3 || doc.MovieID != 19995 || doc.Title != "Avatar" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	if got := fromMovieDoc(doc); got != movie {
		t.Fatalf("roundtrip: got %+v, want %+v", got, movie)
	}
}

func TestMovieDocBSONFieldNames(t *testing.T) {
	raw, err := bson.Marshal(toMovieDoc(0, domain.Movie{ID: 285, Title: "Pirates"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"_id", "movieId", "title"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing bson key %q in %v", key, m)
		}
	}
}

func TestSimilarityDocWidensScores(t *testing.T) {
	doc := toSimilarityDoc(1, []float32{0.5, 1, 0.25})
	if doc.Index != 1 || len(doc.Scores) != 3 {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	if doc.Scores[0] != 0.5 || doc.Scores[1] != 1 || doc.Scores[2] != 0.25 {
		t.Fatalf("unexpected scores: %v", doc.Scores)
	}
}

func TestBuildCatalogSortsRows(t *testing.T) {
	movies := []movieDoc{
		{Index: 1, MovieID: 20, Title: "B"},
		{Index: 0, MovieID: 10, Title: "A"},
	}
	rows := []similarityDoc{
		{Index: 1, Scores: []float64{0.2, 1}},
		{Index: 0, Scores: []float64{1, 0.2}},
	}
	c, err := buildCatalog(movies, rows)
	if err != nil {
		t.Fatalf("buildCatalog: %v", err)
	}
	index, err := c.Resolve("B")
	if err != nil || index != 1 {
		t.Fatalf("Resolve(B) = %d, %v", index, err)
	}
	scores, err := c.Scores(0)
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if scores[0] != 1 || scores[1] != 0.2 {
		t.Fatalf("row 0 scores: %v", scores)
	}
}

func TestBuildCatalogRejectsGaps(t *testing.T) {
	movies := []movieDoc{{Index: 0, Title: "A"}, {Index: 2, Title: "C"}}
	rows := []similarityDoc{{Index: 0, Scores: []float64{1, 0}}, {Index: 1, Scores: []float64{0, 1}}}
	if _, err := buildCatalog(movies, rows); !errors.Is(err, ErrRowsNotContiguous) {
		t.Fatalf("expected ErrRowsNotContiguous, got %v", err)
	}
}

func TestBuildCatalogRejectsMismatchedSizes(t *testing.T) {
	movies := []movieDoc{{Index: 0, Title: "A"}, {Index: 1, Title: "B"}, {Index: 2, Title: "C"}}
	rows := []similarityDoc{{Index: 0, Scores: []float64{1, 0}}, {Index: 1, Scores: []float64{0, 1}}}
	if _, err := buildCatalog(movies, rows); !errors.Is(err, catalog.ErrMisaligned) {
		t.Fatalf("expected ErrMisaligned, got %v", err)
	}
}

func TestBuildCatalogEmpty(t *testing.T) {
	if _, err := buildCatalog(nil, nil); !errors.Is(err, catalog.ErrEmptyCatalog) {
		t.Fatalf("expected ErrEmptyCatalog, got %v", err)
	}
}
