// Package coverage drives providers over the identifiers in the catalog and
// keeps one checkpoint record per (identifier, provider, operation) so that
// work is neither repeated nor lost across runs.
package coverage

import (
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
)

// Record is a persisted checkpoint. An empty Exception means success.
type Record struct {
	ID         int64
	Identifier catalog.Identifier
	Provider   string
	Operation  string
	Timestamp  time.Time
	Exception  string
}

// Failed reports whether the record captures a permanent failure.
func (r *Record) Failed() bool {
	return r.Exception != ""
}

// RecordWrite is an upsert keyed by (identifier, provider, operation).
type RecordWrite struct {
	Identifier catalog.Identifier
	Provider   string
	Operation  string
	Timestamp  time.Time
	Exception  string
}

// Status is the classified result of processing one item.
type Status int

const (
	StatusSuccess Status = iota
	StatusTransient
	StatusPermanent
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTransient:
		return "transient"
	case StatusPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome pairs a processed identifier with its record (success and
// permanent failure) and/or failure (transient and permanent failure).
type Outcome struct {
	Identifier catalog.Identifier
	Record     *Record
	Failure    *Failure
}

// Status classifies the outcome.
func (o Outcome) Status() Status {
	switch {
	case o.Failure == nil:
		return StatusSuccess
	case o.Failure.Transient:
		return StatusTransient
	default:
		return StatusPermanent
	}
}

// Counts tallies classified items. Transient includes ignored items.
type Counts struct {
	Successes int
	Transient int
	Permanent int
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Successes: c.Successes + o.Successes,
		Transient: c.Transient + o.Transient,
		Permanent: c.Permanent + o.Permanent,
	}
}

// Total returns the number of items counted.
func (c Counts) Total() int {
	return c.Successes + c.Transient + c.Permanent
}

// BatchResult is what ProcessBatch reports for one batch.
type BatchResult struct {
	Counts
	// Ignored is the number of items the processor skipped. They are already
	// folded into Transient.
	Ignored  int
	Outcomes []Outcome
}

// Merge appends o to r.
func (r BatchResult) Merge(o BatchResult) BatchResult {
	return BatchResult{
		Counts:   r.Counts.Add(o.Counts),
		Ignored:  r.Ignored + o.Ignored,
		Outcomes: append(r.Outcomes, o.Outcomes...),
	}
}

// RunSummary totals a Run.
type RunSummary struct {
	RunID  string
	Passes int
	Counts
	Ignored  int
	Duration time.Duration
}
