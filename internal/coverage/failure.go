package coverage

import (
	"errors"
	"fmt"
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
)

// ErrSkip tells the engine the processor chose not to handle an item in this
// pass. The item gets no record and is counted as transient.
var ErrSkip = errors.New("coverage: item skipped")

// Failure describes why one item could not be covered. Transient failures
// leave no record so the item is retried on a later pass. Permanent failures
// are recorded and stop future attempts until the record goes stale.
type Failure struct {
	Identifier catalog.Identifier
	Exception  string
	Transient  bool
}

func (f *Failure) Error() string {
	kind := "permanent"
	if f.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s failure for %s: %s", kind, f.Identifier, f.Exception)
}

// TransientFailure wraps err as a retryable failure for id.
func TransientFailure(id catalog.Identifier, err error) *Failure {
	return &Failure{Identifier: id, Exception: exceptionText(err), Transient: true}
}

// PermanentFailure wraps err as a failure that should be recorded for id.
func PermanentFailure(id catalog.Identifier, err error) *Failure {
	return &Failure{Identifier: id, Exception: exceptionText(err)}
}

// IsTransient reports whether err carries a transient Failure.
func IsTransient(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Transient
}

// IsPermanent reports whether err carries a permanent Failure.
func IsPermanent(err error) bool {
	var f *Failure
	return errors.As(err, &f) && !f.Transient
}

// RecordWrite converts a permanent failure into the record that captures it.
// Transient failures produce no record.
func (f *Failure) RecordWrite(provider, operation string, at time.Time) (RecordWrite, bool) {
	if f.Transient {
		return RecordWrite{}, false
	}
	return RecordWrite{
		Identifier: f.Identifier,
		Provider:   provider,
		Operation:  operation,
		Timestamp:  at,
		Exception:  f.Exception,
	}, true
}

func exceptionText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
