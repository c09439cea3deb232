package catalog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"movierecs/internal/domain"
)

const (
	matrixMagic      = "SIMM"
	matrixVersion    = uint32(1)
	matrixHeaderSize = 12
	maxMatrixDim     = 1 << 16
)

// LoadFiles reads the movie table and similarity matrix from disk and builds a
// catalog. A similarity path ending in .json is parsed as a JSON array of
// rows; anything else is read as the binary SIMM format.
func LoadFiles(moviesPath, similarityPath string) (*Catalog, error) {
	movies, err := readMoviesFile(moviesPath)
	if err != nil {
		return nil, err
	}
	matrix, err := readMatrixFile(similarityPath)
	if err != nil {
		return nil, err
	}
	return New(movies, matrix)
}

func readMoviesFile(path string) ([]domain.Movie, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open movies: %w", err)
	}
	defer file.Close()
	movies, err := ReadMovies(file)
	if err != nil {
		return nil, fmt.Errorf("read movies %s: %w", path, err)
	}
	return movies, nil
}

func readMatrixFile(path string) (*Matrix, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open similarity: %w", err)
	}
	defer file.Close()

	var matrix *Matrix
	if strings.EqualFold(filepath.Ext(path), ".json") {
		matrix, err = ReadMatrixJSON(file)
	} else {
		reader := bufio.NewReaderSize(file, 1<<20)
		if err = checkMatrixFileSize(file, reader); err == nil {
			matrix, err = ReadMatrix(reader)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read similarity %s: %w", path, err)
	}
	return matrix, nil
}

// checkMatrixFileSize compares the on-disk size with the size the header
// declares, so a corrupt dimension fails before any row is allocated.
func checkMatrixFileSize(file *os.File, reader *bufio.Reader) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat similarity: %w", err)
	}
	header, err := reader.Peek(matrixHeaderSize)
	if err != nil || string(header[:len(matrixMagic)]) != matrixMagic {
		// ReadMatrix reports the precise header error.
		return nil
	}
	n := int64(binary.LittleEndian.Uint32(header[8:matrixHeaderSize]))
	want := int64(matrixHeaderSize) + n*n*4
	if info.Size() != want {
		return fmt.Errorf("%w: file is %d bytes, header declares %dx%d (%d bytes)",
			ErrInvalidMatrix, info.Size(), n, n, want)
	}
	return nil
}

// ReadMovies decodes a JSON array of {"id", "title"} objects in row order.
func ReadMovies(r io.Reader) ([]domain.Movie, error) {
	var movies []domain.Movie
	if err := json.NewDecoder(r).Decode(&movies); err != nil {
		return nil, fmt.Errorf("invalid movies json: %w", err)
	}
	return movies, nil
}

func WriteMovies(w io.Writer, movies []domain.Movie) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(movies)
}

func ReadMatrixJSON(r io.Reader) (*Matrix, error) {
	var rows [][]float64
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("invalid similarity json: %w", err)
	}
	return MatrixFromRows(rows)
}

// ReadMatrix decodes the binary layout: magic "SIMM", uint32 version, uint32 N,
// then N*N little-endian float32 values row-major.
func ReadMatrix(r io.Reader) (*Matrix, error) {
	header := make([]byte, len(matrixMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidMatrix, err)
	}
	if string(header) != matrixMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidMatrix, header)
	}
	var version, n uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: read version: %v", ErrInvalidMatrix, err)
	}
	if version != matrixVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidMatrix, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: read dimension: %v", ErrInvalidMatrix, err)
	}
	if n > maxMatrixDim {
		return nil, fmt.Errorf("%w: dimension %d exceeds %d", ErrInvalidMatrix, n, maxMatrixDim)
	}

	// Rows are appended as they arrive; short input fails after one row buffer.
	dim := int(n)
	data := make([]float32, 0, min(dim*dim, 1<<16))
	row := make([]float32, dim)
	for i := 0; i < dim; i++ {
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: truncated data at row %d of %d", ErrInvalidMatrix, i, dim)
			}
			return nil, err
		}
		data = append(data, row...)
	}
	return NewMatrix(dim, data)
}

func WriteMatrix(w io.Writer, m *Matrix) error {
	buffered := bufio.NewWriter(w)
	if _, err := buffered.WriteString(matrixMagic); err != nil {
		return err
	}
	if err := binary.Write(buffered, binary.LittleEndian, matrixVersion); err != nil {
		return err
	}
	if err := binary.Write(buffered, binary.LittleEndian, uint32(m.Dim())); err != nil {
		return err
	}
	if err := binary.Write(buffered, binary.LittleEndian, m.data); err != nil {
		return err
	}
	return buffered.Flush()
}
