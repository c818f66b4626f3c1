package coverage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/catalogd/internal/catalog"
)

func TestFailureClassification(t *testing.T) {
	id := catalog.Identifier{ID: 1, Type: catalog.ISBN, Value: "123"}

	transient := TransientFailure(id, errors.New("timeout"))
	permanent := PermanentFailure(id, errors.New("unknown isbn"))

	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))

	wrapped := fmt.Errorf("fetching: %w", permanent)
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsTransient(errors.New("plain")))

	assert.Equal(t, "transient failure for ISBN:123: timeout", transient.Error())
	assert.Equal(t, "permanent failure for ISBN:123: unknown isbn", permanent.Error())
	assert.Equal(t, "unknown error", PermanentFailure(id, nil).Exception)
}

func TestFailureRecordWrite(t *testing.T) {
	id := catalog.Identifier{ID: 1, Type: catalog.ISBN, Value: "123"}
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	_, ok := TransientFailure(id, errors.New("x")).RecordWrite("P", "", at)
	assert.False(t, ok)

	w, ok := PermanentFailure(id, errors.New("bad")).RecordWrite("P", "op", at)
	require.True(t, ok)
	assert.Equal(t, RecordWrite{Identifier: id, Provider: "P", Operation: "op", Timestamp: at, Exception: "bad"}, w)
}

func TestCountsAndResults(t *testing.T) {
	a := BatchResult{Counts: Counts{Successes: 1, Transient: 2}, Ignored: 1, Outcomes: []Outcome{{}}}
	b := BatchResult{Counts: Counts{Permanent: 3}, Outcomes: []Outcome{{}, {}}}

	merged := a.Merge(b)
	assert.Equal(t, Counts{Successes: 1, Transient: 2, Permanent: 3}, merged.Counts)
	assert.Equal(t, 6, merged.Total())
	assert.Equal(t, 1, merged.Ignored)
	assert.Len(t, merged.Outcomes, 3)

	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "transient", StatusTransient.String())
	assert.Equal(t, "permanent", StatusPermanent.String())
	assert.Equal(t, "unknown", Status(42).String())
}
