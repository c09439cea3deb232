package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"movierecs/internal/catalog"
	"movierecs/internal/domain"
)

var convertCmd = &cobra.Command{
	Use:   "convert <matrix.json> <matrix.bin>",
	Short: "Convert a JSON similarity matrix to the binary format",
	Long: `Read an N x N similarity matrix stored as a JSON array of rows and write it
in the binary format the server loads by default. With --check the matrix is
also validated against the movies file.

Examples:
  moviectl convert similarity.json data/similarity.bin
  moviectl convert similarity.json data/similarity.bin --check`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")
		return convertMatrix(cmd.OutOrStdout(), args[0], args[1], check)
	},
}

func init() {
	convertCmd.Flags().Bool("check", false, "Verify the matrix aligns with the movies file before writing")
}

func convertMatrix(w io.Writer, inPath, outPath string, check bool) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	matrix, err := catalog.ReadMatrixJSON(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", inPath, err)
	}
	if check {
		movies, err := readMovies(cfg.CatalogMoviesPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", cfg.CatalogMoviesPath, err)
		}
		if _, err := catalog.New(movies, matrix); err != nil {
			return err
		}
	}

	// Rename over outPath only once the whole matrix is on disk.
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".similarity-*.bin")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := catalog.WriteMatrix(tmp, matrix); err != nil {
		tmp.Close()
		return fmt.Errorf("write matrix: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return err
	}

	fmt.Fprintf(w, "wrote %dx%d matrix to %s\n", matrix.Dim(), matrix.Dim(), outPath)
	return nil
}

func readMovies(path string) ([]domain.Movie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return catalog.ReadMovies(f)
}
