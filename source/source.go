// Package source loads feedback records and seed topics from CSV files.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brunobiangulo/gotopics"
)

// DefaultColumn is the feedback column used when none is named.
const DefaultColumn = "Comments"

// ErrInvalidFile is returned for missing, mistyped or malformed files.
var ErrInvalidFile = errors.New("invalid input file")

// Options selects columns from the input file.
type Options struct {
	// Column holds the feedback text. Empty means DefaultColumn, falling
	// back to the first column when the header has no such name.
	Column string
	// IDColumn holds integer record IDs. Empty means 1-based row numbers.
	IDColumn string
}

// LoadRecords reads one record per data row of a CSV file.
func LoadRecords(path string, opts Options) ([]gotopics.Record, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	textCol, err := pickColumn(header, opts.Column, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	idCol := -1
	if opts.IDColumn != "" {
		if idCol, err = pickColumn(header, opts.IDColumn, false); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
		}
	}

	records := make([]gotopics.Record, 0, len(rows))
	for i, row := range rows {
		rec := gotopics.Record{ID: i + 1, Text: cell(row, textCol)}
		if idCol >= 0 {
			raw := strings.TrimSpace(cell(row, idCol))
			id, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: row %d: id %q is not an integer", ErrInvalidFile, path, i+2, raw)
			}
			rec.ID = id
		}
		records = append(records, rec)
	}
	return records, nil
}

// LoadSeeds reads the non-blank values of one column as seed topics.
// An empty column name selects the first column.
func LoadSeeds(path, column string) ([]string, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	col := 0
	if column != "" {
		if col, err = pickColumn(header, column, false); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
		}
	}

	var seeds []string
	for _, row := range rows {
		if s := strings.TrimSpace(cell(row, col)); s != "" {
			seeds = append(seeds, s)
		}
	}
	return seeds, nil
}

func validatePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidFile, path)
	}
	if ext := filepath.Ext(path); !strings.EqualFold(ext, ".csv") {
		return fmt.Errorf("%w: unsupported file type %q", ErrInvalidFile, ext)
	}
	return nil
}

func readCSV(path string) ([]string, [][]string, error) {
	if err := validatePath(path); err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: %s is empty", ErrInvalidFile, path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	return header, rows, nil
}

// pickColumn finds name in header, case-insensitively. With fallback, an
// empty name means DefaultColumn and a missing default means column 0.
func pickColumn(header []string, name string, fallback bool) (int, error) {
	want := name
	if want == "" && fallback {
		want = DefaultColumn
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return i, nil
		}
	}
	if fallback && name == "" && len(header) > 0 {
		return 0, nil
	}
	return 0, fmt.Errorf("no column %q in header", want)
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
