// Package datastore persists the catalog, checkpoint records and process
// watermarks in SQL databases.
package datastore

import (
	"context"
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
)

// Store is everything the CLI needs from a backing database.
type Store interface {
	coverage.Store
	catalog.Catalog
	catalog.Identifiers

	// CountIdentifiers returns the number of identifiers of the given types,
	// or of all types when none are given.
	CountIdentifiers(ctx context.Context, types ...string) (int, error)

	// RecordCounts summarizes checkpoint records per provider and operation.
	RecordCounts(ctx context.Context) ([]RecordCount, error)

	// Watermarks returns the last pass time of every service.
	Watermarks(ctx context.Context) ([]Watermark, error)

	Close() error
}

// RecordCount is the number of successful and permanently failed
// checkpoints for one provider and operation.
type RecordCount struct {
	Provider  string
	Operation string
	Successes int
	Failures  int
}

// Watermark is the last time a service completed a pass.
type Watermark struct {
	Service   string
	Timestamp time.Time
}
