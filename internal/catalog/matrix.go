package catalog

import (
	"fmt"
	"math"
)

// Matrix is a dense N×N similarity matrix stored row-major.
type Matrix struct {
	n    int
	data []float32
}

// NewMatrix wraps data (row-major, len n*n). The slice is retained, not copied.
func NewMatrix(n int, data []float32) (*Matrix, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative dimension %d", ErrInvalidMatrix, n)
	}
	if len(data) != n*n {
		return nil, fmt.Errorf("%w: %d values for a %dx%d matrix", ErrInvalidMatrix, len(data), n, n)
	}
	for i, value := range data {
		if math.IsNaN(float64(value)) {
			return nil, fmt.Errorf("%w: NaN at row %d column %d", ErrInvalidMatrix, i/max(n, 1), i%max(n, 1))
		}
	}
	return &Matrix{n: n, data: data}, nil
}

// MatrixFromRows copies a jagged row representation into a dense matrix.
func MatrixFromRows(rows [][]float64) (*Matrix, error) {
	n := len(rows)
	data := make([]float32, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidMatrix, i, len(row), n)
		}
		for _, value := range row {
			data = append(data, float32(value))
		}
	}
	return NewMatrix(n, data)
}

func (m *Matrix) Dim() int {
	if m == nil {
		return 0
	}
	return m.n
}

// Row returns a read-only view of row i. Callers must not modify it.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.n : (i+1)*m.n]
}

func (m *Matrix) At(i, j int) float32 {
	return m.data[i*m.n+j]
}
