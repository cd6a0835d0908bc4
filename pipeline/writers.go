package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aluiziolira/go-scrape-it/models"
)

// output is a destination file, or stdout when file is nil.
type output struct {
	file *os.File
	w    io.Writer
}

func openOutput(filename, kind string) (output, error) {
	if isStdout(filename) {
		return output{w: os.Stdout}, nil
	}
	if err := ensureDir(filename); err != nil {
		return output{}, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return output{}, fmt.Errorf("create %s file: %w", kind, err)
	}
	return output{file: f, w: f}, nil
}

func (o output) close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

func (o output) validate(kind string) error {
	if o.file == nil {
		return nil
	}
	info, err := os.Stat(o.file.Name())
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

// CSVWriter writes one row per page. The header is the sorted union of the
// page field names; nested values are JSON encoded.
type CSVWriter struct {
	out    output
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	out, err := openOutput(filename, "csv")
	if err != nil {
		return nil, err
	}
	return &CSVWriter{
		out:    out,
		writer: csv.NewWriter(out.w),
	}, nil
}

// Write renders the header and one record per page.
func (cw *CSVWriter) Write(result *models.RunResult) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	header := Columns(result.Pages)
	if len(header) == 0 {
		return nil
	}
	if err := cw.writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, page := range result.Pages {
		record := make([]string, len(header))
		for i, key := range header {
			if field, ok := page.Lookup(key); ok {
				record[i] = field.String()
			}
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.out.close()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	return cw.out.validate("csv")
}

// Columns returns the sorted union of field names across pages.
func Columns(pages []models.Value) []string {
	seen := make(map[string]struct{})
	for _, page := range pages {
		for key := range page.Fields() {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// JSONWriter writes the run output as one indented JSON document: the page
// mapping for a single page, otherwise an array of pages.
type JSONWriter struct {
	out     output
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	out, err := openOutput(filename, "json")
	if err != nil {
		return nil, err
	}

	buffer := bufio.NewWriter(out.w)
	encoder := json.NewEncoder(buffer)
	encoder.SetIndent("", "  ")
	return &JSONWriter{
		out:     out,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Write encodes the run output.
func (jw *JSONWriter) Write(result *models.RunResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.encoder.Encode(result.Output()); err != nil {
		return fmt.Errorf("encode json output: %w", err)
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.out.close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return jw.out.validate("json")
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
