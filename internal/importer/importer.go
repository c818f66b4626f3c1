// Package importer loads identifiers into the catalog from seed files.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/csvutil"
)

// Seed is the YAML seed file format. ISBNs is shorthand for identifiers of
// type ISBN.
type Seed struct {
	Identifiers []SeedIdentifier `yaml:"identifiers"`
	ISBNs       []string         `yaml:"isbns"`
}

// SeedIdentifier is one typed identifier in a seed file.
type SeedIdentifier struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// LoadFile reads identifiers from a CSV or YAML file, chosen by extension.
// CSV rows are either "type,identifier" or a single "type:value" field; an
// optional "type" header row is skipped.
func LoadFile(path string) ([]catalog.Identifier, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	case ".csv", ".txt":
		return csvutil.ProcessCSV(path, parseRecord, csvutil.ProcessorOptions{
			FieldsPerRecord: -1,
			Header:          "type",
		})
	default:
		return nil, fmt.Errorf("unsupported seed file %s: expected .csv or .yaml", path)
	}
}

func parseRecord(record []string) (catalog.Identifier, error) {
	switch len(record) {
	case 1:
		return catalog.ParseIdentifier(record[0])
	case 2:
		return catalog.ParseIdentifier(strings.TrimSpace(record[0]) + ":" + record[1])
	default:
		return catalog.Identifier{}, fmt.Errorf("expected 1 or 2 fields, got %d", len(record))
	}
}

func loadYAML(path string) ([]catalog.Identifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	ids := make([]catalog.Identifier, 0, len(seed.Identifiers)+len(seed.ISBNs))
	for _, s := range seed.Identifiers {
		id, err := catalog.ParseIdentifier(s.Type + ":" + s.Value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	for _, isbn := range seed.ISBNs {
		ids = append(ids, catalog.Identifier{Type: catalog.ISBN, Value: catalog.NormalizeISBN(isbn)})
	}
	return ids, nil
}

// Import registers ids and returns them with their catalog row ids set.
func Import(ctx context.Context, store catalog.Identifiers, ids []catalog.Identifier) ([]catalog.Identifier, error) {
	out := make([]catalog.Identifier, 0, len(ids))
	var errs []error

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		saved, err := store.AddIdentifier(ctx, id.Type, id.Value)
		if err != nil {
			slog.Warn("Failed to import identifier", "identifier", id, "error", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, saved)
	}

	return out, errors.Join(errs...)
}
