// Package catalog holds the immutable movie table and the similarity matrix
// aligned to it. A Catalog is safe for concurrent use once constructed.
package catalog

import (
	"errors"
	"fmt"

	"movierecs/internal/domain"
)

var (
	ErrMovieNotFound   = errors.New("movie not found")
	ErrIndexOutOfRange = errors.New("catalog index out of range")
	ErrMisaligned      = errors.New("catalog and similarity matrix are not aligned")
	ErrInvalidMatrix   = errors.New("invalid similarity matrix")
	ErrEmptyCatalog    = errors.New("catalog is empty")
)

type Catalog struct {
	movies     []domain.Movie
	similarity *Matrix
	byTitle    map[string]int
	folded     []string
}

// New builds a catalog over movies and similarity. Row i of the matrix must
// describe movies[i]. Titles that repeat resolve to their first row.
func New(movies []domain.Movie, similarity *Matrix) (*Catalog, error) {
	if len(movies) == 0 {
		return nil, ErrEmptyCatalog
	}
	if similarity == nil {
		return nil, fmt.Errorf("%w: matrix is missing", ErrInvalidMatrix)
	}
	if similarity.Dim() != len(movies) {
		return nil, fmt.Errorf("%w: %d movies, %dx%d matrix", ErrMisaligned, len(movies), similarity.Dim(), similarity.Dim())
	}

	owned := append([]domain.Movie(nil), movies...)
	byTitle := make(map[string]int, len(owned))
	folded := make([]string, len(owned))
	for index, movie := range owned {
		if _, exists := byTitle[movie.Title]; !exists {
			byTitle[movie.Title] = index
		}
		folded[index] = foldTitle(movie.Title)
	}
	return &Catalog{
		movies:     owned,
		similarity: similarity,
		byTitle:    byTitle,
		folded:     folded,
	}, nil
}

func (c *Catalog) Len() int {
	return len(c.movies)
}

// Resolve returns the row of the first movie whose title equals title exactly.
func (c *Catalog) Resolve(title string) (int, error) {
	index, ok := c.byTitle[title]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMovieNotFound, title)
	}
	return index, nil
}

func (c *Catalog) RecordAt(index int) (domain.Movie, error) {
	if index < 0 || index >= len(c.movies) {
		return domain.Movie{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(c.movies))
	}
	return c.movies[index], nil
}

// Scores returns the similarity row for index. The slice is shared and must
// not be modified.
func (c *Catalog) Scores(index int) ([]float32, error) {
	if index < 0 || index >= len(c.movies) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(c.movies))
	}
	return c.similarity.Row(index), nil
}

// Titles lists every title in row order, duplicates included.
func (c *Catalog) Titles() []string {
	titles := make([]string, len(c.movies))
	for i, movie := range c.movies {
		titles[i] = movie.Title
	}
	return titles
}

func (c *Catalog) Movies() []domain.Movie {
	return append([]domain.Movie(nil), c.movies...)
}

func (c *Catalog) Similarity() *Matrix {
	return c.similarity
}
