package coverage

import (
	"context"
	"errors"
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
)

// Bibliographic wraps a processor for a source that is authoritative for
// license data. After the wrapped processor succeeds it makes sure the
// identifier has a license pool and a work, and marks the work presentation
// ready. Any of those steps failing turns the success into a transient
// failure.
type Bibliographic struct {
	base    Processor
	catalog catalog.Catalog
	source  string

	// CanCreateLicensePools lets the variant create a missing license pool.
	CanCreateLicensePools bool

	now func() time.Time
}

var (
	_ Processor      = (*Bibliographic)(nil)
	_ BatchFinalizer = (*Bibliographic)(nil)

	errWorkNotCalculated = errors.New("work could not be calculated")
)

// NewBibliographic decorates base for source.
func NewBibliographic(base Processor, c catalog.Catalog, source string) *Bibliographic {
	return &Bibliographic{
		base:                  base,
		catalog:               c,
		source:                source,
		CanCreateLicensePools: true,
		now:                   time.Now,
	}
}

// ProcessItem runs the wrapped processor and then the success hook.
func (b *Bibliographic) ProcessItem(ctx context.Context, id catalog.Identifier) error {
	if err := b.base.ProcessItem(ctx, id); err != nil {
		return err
	}
	return b.handleSuccess(ctx, id)
}

// FinalizeBatch forwards to the wrapped processor when it buffers work.
func (b *Bibliographic) FinalizeBatch(ctx context.Context) error {
	if f, ok := b.base.(BatchFinalizer); ok {
		return f.FinalizeBatch(ctx)
	}
	return nil
}

func (b *Bibliographic) handleSuccess(ctx context.Context, id catalog.Identifier) error {
	pool, err := catalog.FindOrCreateLicensePool(ctx, b.catalog, id, b.source, b.CanCreateLicensePools)
	if err != nil {
		return TransientFailure(id, err)
	}

	work, err := catalog.CalculateWork(ctx, b.catalog, id, pool)
	if err != nil {
		return TransientFailure(id, err)
	}
	if work == nil {
		return TransientFailure(id, errWorkNotCalculated)
	}

	if err := catalog.SetPresentationReady(ctx, b.catalog, work, b.now()); err != nil {
		return TransientFailure(id, err)
	}
	return nil
}
