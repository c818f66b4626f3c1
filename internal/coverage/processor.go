package coverage

import (
	"context"

	"github.com/lepinkainen/catalogd/internal/catalog"
)

// Processor does the provider-specific work for one identifier.
//
// ProcessItem returns nil on success, a *Failure to classify the outcome,
// or ErrSkip to ignore the item for this pass. Any other error is treated
// as a transient failure.
type Processor interface {
	ProcessItem(ctx context.Context, id catalog.Identifier) error
}

// BatchFinalizer is implemented by processors that buffer side effects and
// flush them once per batch. FinalizeBatch runs after every item of a batch
// has been processed and before the batch's records are written.
type BatchFinalizer interface {
	FinalizeBatch(ctx context.Context) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, id catalog.Identifier) error

// ProcessItem calls f.
func (f ProcessorFunc) ProcessItem(ctx context.Context, id catalog.Identifier) error {
	return f(ctx, id)
}
