// Package providers implements coverage processors that fill the catalog
// from external sources.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
	"github.com/lepinkainen/catalogd/internal/enrichment/book"
	apperrors "github.com/lepinkainen/catalogd/internal/errors"
)

// Metadata stores what one book.Enricher knows about an ISBN as that
// source's edition.
type Metadata struct {
	enricher book.Enricher
	catalog  catalog.Catalog
}

var _ coverage.Processor = (*Metadata)(nil)

// NewMetadata creates a metadata processor for e.
func NewMetadata(e book.Enricher, c catalog.Catalog) *Metadata {
	return &Metadata{enricher: e, catalog: c}
}

// Config returns the coverage configuration for the enricher's source.
func (p *Metadata) Config() coverage.Config {
	return coverage.Config{
		Provider:        p.enricher.Name(),
		IdentifierTypes: []string{catalog.ISBN},
	}
}

// ProcessItem fetches and stores metadata for one ISBN.
func (p *Metadata) ProcessItem(ctx context.Context, id catalog.Identifier) error {
	if id.Type != catalog.ISBN {
		return coverage.PermanentFailure(id, fmt.Errorf("unsupported identifier type %q", id.Type))
	}

	data, err := p.enricher.Enrich(ctx, id.Value)
	if err != nil {
		return p.classify(id, err)
	}
	if data == nil {
		return coverage.PermanentFailure(id, book.ErrBookNotFound)
	}

	source := p.enricher.Name()
	edition, err := p.catalog.Edition(ctx, id, source)
	if err != nil {
		return coverage.TransientFailure(id, err)
	}
	if edition == nil {
		edition = &catalog.Edition{IdentifierID: id.ID, DataSource: source}
	}

	edition.Apply(data)
	if err := p.catalog.SaveEdition(ctx, edition); err != nil {
		return coverage.TransientFailure(id, err)
	}
	return nil
}

func (p *Metadata) classify(id catalog.Identifier, err error) error {
	switch {
	case errors.Is(err, book.ErrInvalidISBN):
		return coverage.PermanentFailure(id, err)
	case apperrors.IsRateLimitError(err):
		slog.Debug("Source rate limited, skipping", "source", p.enricher.Name(), "identifier", id, "error", err)
		return coverage.ErrSkip
	case apperrors.IsPermanentStatus(err):
		return coverage.PermanentFailure(id, err)
	default:
		return coverage.TransientFailure(id, err)
	}
}
