package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ProcessorOptions configures CSV processing behavior.
type ProcessorOptions struct {
	// FieldsPerRecord is passed to csv.Reader. Negative allows a variable
	// number of fields; 0 fixes it to the first record's field count.
	FieldsPerRecord int

	// Header, when set, skips a first record whose first field equals it
	// (case-insensitive). Files without a header are read from the top.
	Header string

	// SkipInvalid controls whether to skip invalid records or return an error.
	SkipInvalid bool
}

// ProcessCSV opens filename and parses it with Process.
func ProcessCSV[T any](filename string, parser func([]string) (T, error), opts ProcessorOptions) ([]T, error) {
	csvFile, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = csvFile.Close() }()

	if fi, err := csvFile.Stat(); err != nil || fi.Size() == 0 {
		return nil, fmt.Errorf("CSV file %s is empty or cannot be read", filename)
	}

	return Process(csvFile, parser, opts)
}

// Process reads CSV records from r and parses each into T. Blank lines and
// lines starting with # are ignored.
func Process[T any](r io.Reader, parser func([]string) (T, error), opts ProcessorOptions) ([]T, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = opts.FieldsPerRecord

	var items []T
	first := true

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if opts.SkipInvalid {
				slog.Warn("Error reading record", "error", err)
				continue
			}
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		if first {
			first = false
			if opts.Header != "" && strings.EqualFold(strings.TrimSpace(record[0]), opts.Header) {
				continue
			}
		}

		item, err := parser(record)
		if err != nil {
			line, _ := reader.FieldPos(0)
			if opts.SkipInvalid {
				slog.Warn("Skipping invalid record", "line", line, "error", err)
				continue
			}
			return nil, fmt.Errorf("invalid record on line %d: %w", line, err)
		}

		items = append(items, item)
	}

	return items, nil
}
