package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lepinkainen/catalogd/internal/enrichment/book"
)

// SourcePriority orders data sources when editions are merged into a work.
// Lower values win. The license pool's own source always goes first.
var SourcePriority = map[string]int{
	"ISBNdb":       1,
	"OpenLibrary":  2,
	"Google Books": 3,
}

const unknownSourcePriority = 100

// FindOrCreateLicensePool returns the identifier's license pool, creating an
// empty one for source when canCreate is set. Without canCreate a missing pool
// yields ErrNoLicensePool.
func FindOrCreateLicensePool(ctx context.Context, c Catalog, id Identifier, source string, canCreate bool) (*LicensePool, error) {
	pool, err := c.LicensePool(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up license pool: %w", err)
	}
	if pool != nil {
		return pool, nil
	}
	if !canCreate {
		return nil, ErrNoLicensePool
	}

	pool = &LicensePool{IdentifierID: id.ID, DataSource: source}
	if err := c.SaveLicensePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("creating license pool: %w", err)
	}
	return pool, nil
}

// CalculateWork returns the pool's work, building it from the identifier's
// editions when none exists yet. It returns nil, nil when no edition supplies
// a title. A missing author is tolerated.
func CalculateWork(ctx context.Context, c Catalog, id Identifier, pool *LicensePool) (*Work, error) {
	work, err := c.Work(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("looking up work: %w", err)
	}

	editions, err := c.Editions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading editions: %w", err)
	}

	merged := mergeEditions(editions, pool.DataSource)
	if merged == nil || merged.Title == nil {
		return nil, nil
	}

	if work == nil {
		work = &Work{LicensePoolID: pool.ID}
	}
	work.Title = *merged.Title
	work.Author = strings.Join(merged.Authors, ", ")

	if err := c.SaveWork(ctx, work); err != nil {
		return nil, fmt.Errorf("saving work: %w", err)
	}
	return work, nil
}

// SetPresentationReady marks the work ready to show to patrons.
func SetPresentationReady(ctx context.Context, c Catalog, work *Work, now time.Time) error {
	if work.PresentationReady {
		return nil
	}
	work.PresentationReady = true
	work.PresentationReadyAt = now.UTC()
	if err := c.SaveWork(ctx, work); err != nil {
		return fmt.Errorf("marking work presentation ready: %w", err)
	}
	return nil
}

func mergeEditions(editions []Edition, primary string) *book.EnrichmentData {
	results := make([]book.EnricherResult, 0, len(editions))
	for i := range editions {
		priority, ok := SourcePriority[editions[i].DataSource]
		if !ok {
			priority = unknownSourcePriority
		}
		if editions[i].DataSource == primary {
			priority = 0
		}
		results = append(results, book.EnricherResult{
			Data:     editions[i].EnrichmentData(),
			Source:   editions[i].DataSource,
			Priority: priority,
		})
	}
	return book.NewPriorityMerger().Merge(results)
}
