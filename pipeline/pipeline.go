// Package pipeline renders scrape results to JSON and CSV outputs.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-it/models"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatDual = "dual"
)

// ErrUnsupportedFormat is returned for an unknown output format.
var ErrUnsupportedFormat = errors.New("pipeline: unsupported format")

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(result *models.RunResult) error
	Close() error
	Validate() error
}

// NewWriter builds the writer for format. An empty filename or "-" writes
// to stdout; dual output needs a file name and derives the .csv and .json
// siblings from it.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		return NewJSONWriter(filename)
	case FormatCSV:
		return NewCSVWriter(filename)
	case FormatDual:
		if isStdout(filename) {
			return nil, errors.New("pipeline: dual output requires a file path")
		}
		base := strings.TrimSuffix(filename, filepath.Ext(filename))
		return NewDualWriter(base+".csv", base+".json")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Export writes result through w, closes it and validates the output.
func Export(w OutputWriter, result *models.RunResult) error {
	if result == nil {
		return errors.New("pipeline: nil result")
	}
	if err := w.Write(result); err != nil {
		w.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validate output: %w", err)
	}
	return nil
}

func isStdout(filename string) bool {
	return filename == "" || filename == "-"
}
