package coverage

import (
	"context"
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
)

// Query selects identifiers that need coverage from a provider: those of the
// given types with no record for (Provider, Operation), or whose record is
// older than Cutoff when Cutoff is set. Results are ordered by identifier id.
type Query struct {
	Provider        string
	Operation       string
	IdentifierTypes []string
	Cutoff          time.Time
	// IDs restricts the query to these identifier ids when non-empty.
	IDs []int64
	// Limit of zero means no limit.
	Limit  int
	Offset int
}

// Store persists checkpoint records and watermarks.
type Store interface {
	MissingCoverage(ctx context.Context, q Query) ([]catalog.Identifier, error)
	CountMissingCoverage(ctx context.Context, q Query) (int, error)

	// LookupRecord returns nil, nil when no record exists. Duplicate records
	// for the same key are interchangeable and any one may be returned.
	LookupRecord(ctx context.Context, id catalog.Identifier, provider, operation string) (*Record, error)

	// SaveRecords upserts all writes atomically and returns the stored
	// records in the same order.
	SaveRecords(ctx context.Context, writes []RecordWrite) ([]Record, error)

	// StampWatermark records the last time the named service completed a pass.
	StampWatermark(ctx context.Context, service string, at time.Time) error
}
