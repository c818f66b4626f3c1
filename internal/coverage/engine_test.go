package coverage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
	"github.com/lepinkainen/catalogd/internal/datastore/memory"
)

const testProvider = "Test Source"

// scriptedProcessor returns a canned error per identifier value.
type scriptedProcessor struct {
	mu        sync.Mutex
	outcomes  map[string]error
	calls     []string
	finalized int
	finalErr  error
	onFinal   func()
}

func newScripted(outcomes map[string]error) *scriptedProcessor {
	if outcomes == nil {
		outcomes = map[string]error{}
	}
	return &scriptedProcessor{outcomes: outcomes}
}

func (p *scriptedProcessor) ProcessItem(_ context.Context, id catalog.Identifier) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, id.Value)
	return p.outcomes[id.Value]
}

func (p *scriptedProcessor) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type finalizingProcessor struct {
	*scriptedProcessor
}

func (p finalizingProcessor) FinalizeBatch(context.Context) error {
	p.mu.Lock()
	p.finalized++
	p.mu.Unlock()
	if p.onFinal != nil {
		p.onFinal()
	}
	return p.finalErr
}

func seedIdentifiers(t *testing.T, store *memory.Store, values ...string) []catalog.Identifier {
	t.Helper()
	ids := make([]catalog.Identifier, 0, len(values))
	for _, v := range values {
		id, err := store.AddIdentifier(context.Background(), catalog.ISBN, v)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func newEngine(t *testing.T, store coverage.Store, p coverage.Processor, mutate func(*coverage.Config)) *coverage.Engine {
	t.Helper()
	cfg := coverage.Config{
		Provider:        testProvider,
		IdentifierTypes: []string{catalog.ISBN},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := coverage.New(store, p, cfg)
	require.NoError(t, err)
	return e
}

func TestNewValidatesConfig(t *testing.T) {
	store := memory.New()
	p := newScripted(nil)

	_, err := coverage.New(store, p, coverage.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid coverage config")

	_, err = coverage.New(nil, p, coverage.Config{Provider: "x"})
	require.Error(t, err)

	_, err = coverage.New(store, nil, coverage.Config{Provider: "x"})
	require.Error(t, err)

	_, err = coverage.New(store, p, coverage.Config{Provider: "x", WorksetSize: -1})
	require.Error(t, err)

	e, err := coverage.New(store, p, coverage.Config{Provider: "x", Operation: "cover"})
	require.NoError(t, err)
	assert.Equal(t, coverage.DefaultWorksetSize, e.Config().WorksetSize)
	assert.Equal(t, 1, e.Config().Concurrency)
	assert.Equal(t, "x (cover)", e.Config().ServiceName)
}

func TestBibliographicConfig(t *testing.T) {
	cfg := coverage.BibliographicConfig("Feed", catalog.ISBN)
	assert.Equal(t, "Feed Bibliographic Monitor", cfg.ServiceName)
	assert.Equal(t, "Feed", cfg.Provider)
	assert.Equal(t, coverage.BibliographicWorksetSize, cfg.WorksetSize)
	assert.Equal(t, []string{catalog.ISBN}, cfg.IdentifierTypes)
}

func TestProcessBatchClassifiesOutcomes(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ids := seedIdentifiers(t, store, "ok", "flaky", "gone", "skip", "plain")

	p := newScripted(map[string]error{
		"flaky": coverage.TransientFailure(catalog.Identifier{}, errors.New("timeout")),
		"gone":  coverage.PermanentFailure(catalog.Identifier{}, errors.New("not found")),
		"skip":  coverage.ErrSkip,
		"plain": errors.New("connection reset"),
	})
	e := newEngine(t, store, p, nil)

	result, err := e.ProcessBatch(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Successes)
	assert.Equal(t, 3, result.Transient, "transient includes skipped and unclassified errors")
	assert.Equal(t, 1, result.Permanent)
	assert.Equal(t, 1, result.Ignored)
	require.Len(t, result.Outcomes, 4)

	assert.Equal(t, coverage.StatusSuccess, result.Outcomes[0].Status())
	require.NotNil(t, result.Outcomes[0].Record)
	assert.Empty(t, result.Outcomes[0].Record.Exception)

	assert.Equal(t, coverage.StatusTransient, result.Outcomes[1].Status())
	assert.Nil(t, result.Outcomes[1].Record)
	assert.Equal(t, ids[1], result.Outcomes[1].Failure.Identifier)

	assert.Equal(t, coverage.StatusPermanent, result.Outcomes[2].Status())
	require.NotNil(t, result.Outcomes[2].Record)
	assert.Equal(t, "not found", result.Outcomes[2].Record.Exception)
	assert.True(t, result.Outcomes[2].Record.Failed())

	assert.Equal(t, coverage.StatusTransient, result.Outcomes[3].Status())
	assert.Equal(t, "connection reset", result.Outcomes[3].Failure.Exception)

	records := store.Records()
	require.Len(t, records, 2)
	byValue := map[string]coverage.Record{}
	for _, r := range records {
		byValue[r.Identifier.Value] = r
		assert.Equal(t, testProvider, r.Provider)
		assert.Empty(t, r.Operation)
		assert.False(t, r.Timestamp.IsZero())
	}
	assert.Contains(t, byValue, "ok")
	assert.Contains(t, byValue, "gone")
}

func TestProcessBatchFinalizesBeforeSaving(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ids := seedIdentifiers(t, store, "a", "b")

	p := finalizingProcessor{newScripted(nil)}
	var recordsAtFinalize int
	p.onFinal = func() { recordsAtFinalize = len(store.Records()) }

	e := newEngine(t, store, p, nil)
	_, err := e.ProcessBatch(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, 1, p.finalized)
	assert.Zero(t, recordsAtFinalize)
	assert.Len(t, store.Records(), 2)
}

func TestProcessBatchFinalizeErrorFailsBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ids := seedIdentifiers(t, store, "a", "b")

	p := finalizingProcessor{newScripted(map[string]error{
		"b": coverage.PermanentFailure(catalog.Identifier{}, errors.New("bad isbn")),
	})}
	p.finalErr = errors.New("upload failed")

	e := newEngine(t, store, p, nil)
	_, err := e.ProcessBatch(ctx, ids)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload failed")
	assert.Equal(t, 1, p.finalized)
	assert.Empty(t, store.Records())

	left, err := e.CountNeedingCoverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, left, "both items are picked up again")
}

func TestProcessBatchSaveErrorFailsBatch(t *testing.T) {
	store := memory.New()
	ids := seedIdentifiers(t, store, "a")
	store.SaveErr = errors.New("disk full")

	e := newEngine(t, store, newScripted(nil), nil)
	_, err := e.ProcessBatch(context.Background(), ids)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, store.Records())
}

func TestProcessBatchCancelledWritesNothing(t *testing.T) {
	store := memory.New()
	ids := seedIdentifiers(t, store, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newEngine(t, store, newScripted(nil), nil)
	_, err := e.ProcessBatch(ctx, ids)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.Records())
}

func TestProcessBatchConcurrentKeepsOrder(t *testing.T) {
	store := memory.New()
	values := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	ids := seedIdentifiers(t, store, values...)

	p := newScripted(map[string]error{
		"3": coverage.TransientFailure(catalog.Identifier{}, errors.New("busy")),
	})
	e := newEngine(t, store, p, func(c *coverage.Config) { c.Concurrency = 4 })

	result, err := e.ProcessBatch(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, len(values))
	for i, o := range result.Outcomes {
		assert.Equal(t, values[i], o.Identifier.Value)
	}
	assert.Equal(t, 7, result.Successes)
	assert.Equal(t, 1, result.Transient)
	assert.ElementsMatch(t, values, p.Calls())
}

func TestRunOnceAdvancesOffsetByTransientCount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedIdentifiers(t, store, "a", "b", "c", "d")

	p := newScripted(map[string]error{
		"a": coverage.TransientFailure(catalog.Identifier{}, errors.New("later")),
		"b": coverage.ErrSkip,
	})
	e := newEngine(t, store, p, func(c *coverage.Config) { c.WorksetSize = 3 })

	next, done, err := e.RunOnce(ctx, 0)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 2, next)

	// a and b are still uncovered and sit at offsets 0 and 1, so the next
	// pass starts at d.
	next, done, err = e.RunOnce(ctx, next)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 2, next)
	assert.Equal(t, []string{"a", "b", "c", "d"}, p.Calls())

	_, done, err = e.RunOnce(ctx, next)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRunProcessesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedIdentifiers(t, store, "1", "2", "3", "4", "5")

	p := newScripted(map[string]error{
		"2": coverage.TransientFailure(catalog.Identifier{}, errors.New("503")),
		"4": coverage.PermanentFailure(catalog.Identifier{}, errors.New("bad isbn")),
	})
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, err := coverage.New(store, p, coverage.Config{
		Provider:        testProvider,
		IdentifierTypes: []string{catalog.ISBN},
		WorksetSize:     2,
	}, coverage.WithClock(func() time.Time { return stamp }))
	require.NoError(t, err)

	summary, err := e.Run(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Passes)
	assert.Equal(t, 3, summary.Successes)
	assert.Equal(t, 1, summary.Transient)
	assert.Equal(t, 1, summary.Permanent)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, p.Calls(), "each item processed once")

	assert.Len(t, store.Records(), 4)
	wm, ok := store.Watermark(testProvider)
	require.True(t, ok)
	assert.Equal(t, stamp, wm)

	left, err := e.CountNeedingCoverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	// Skipping past transient items only keeps one run from spinning on
	// them. It promises no exactly-once processing: the next run starts
	// from offset zero and tries item 2 again.
	summary, err = e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passes)
	assert.Equal(t, 1, summary.Transient)
	assert.Zero(t, summary.Successes)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "2"}, p.Calls())
	assert.Len(t, store.Records(), 4)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	store := memory.New()
	seedIdentifiers(t, store, "1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newEngine(t, store, newScripted(nil), nil)
	_, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunReprocessesStaleRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ids := seedIdentifiers(t, store, "old", "fresh")

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Seed(coverage.Record{Identifier: ids[0], Provider: testProvider, Timestamp: cutoff.Add(-time.Hour)})
	store.Seed(coverage.Record{Identifier: ids[1], Provider: testProvider, Timestamp: cutoff.Add(time.Hour)})

	p := newScripted(nil)
	e := newEngine(t, store, p, func(c *coverage.Config) { c.CutoffTime = cutoff })

	_, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, p.Calls())

	rec, err := store.LookupRecord(ctx, ids[0], testProvider, "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Timestamp.Before(cutoff))
	assert.Len(t, store.Records(), 2, "record updated in place")
}

func TestOperationsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ids := seedIdentifiers(t, store, "a")

	metadata := newEngine(t, store, newScripted(nil), nil)
	covers := newEngine(t, store, newScripted(nil), func(c *coverage.Config) { c.Operation = "cover" })

	_, err := metadata.Run(ctx)
	require.NoError(t, err)

	n, err := covers.CountNeedingCoverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := store.LookupRecord(ctx, ids[0], testProvider, "cover")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRunOnIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ids := seedIdentifiers(t, store, "covered", "new1", "new2", "new3", "untouched")
	store.Seed(coverage.Record{Identifier: ids[0], Provider: testProvider, Timestamp: time.Now()})

	p := newScripted(map[string]error{
		"new2": coverage.TransientFailure(catalog.Identifier{}, errors.New("later")),
	})
	e := newEngine(t, store, p, func(c *coverage.Config) { c.WorksetSize = 2 })

	result, err := e.RunOnIdentifiers(ctx, ids[:4])
	require.NoError(t, err)
	assert.Equal(t, 3, result.Successes, "one automatic success plus two processed")
	assert.Equal(t, 1, result.Transient)
	assert.Len(t, result.Outcomes, 3)
	assert.Equal(t, []string{"new1", "new2", "new3"}, p.Calls())

	empty, err := e.RunOnIdentifiers(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Total())

	_, err = e.RunOnIdentifiers(ctx, []catalog.Identifier{{Type: catalog.ISBN, Value: "x"}})
	require.Error(t, err)
}

func TestEnsureCoverage(t *testing.T) {
	ctx := context.Background()

	t.Run("existing record returned without processing", func(t *testing.T) {
		store := memory.New()
		ids := seedIdentifiers(t, store, "a")
		seeded := store.Seed(coverage.Record{Identifier: ids[0], Provider: testProvider, Timestamp: time.Now()})
		p := newScripted(nil)

		rec, err := newEngine(t, store, p, nil).EnsureCoverage(ctx, ids[0], false)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, seeded.ID, rec.ID)
		assert.Empty(t, p.Calls())
	})

	t.Run("force reprocesses", func(t *testing.T) {
		store := memory.New()
		ids := seedIdentifiers(t, store, "a")
		store.Seed(coverage.Record{Identifier: ids[0], Provider: testProvider, Timestamp: time.Now(), Exception: "old"})
		p := newScripted(nil)

		rec, err := newEngine(t, store, p, nil).EnsureCoverage(ctx, ids[0], true)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Empty(t, rec.Exception)
		assert.Equal(t, []string{"a"}, p.Calls())
	})

	t.Run("missing record processed", func(t *testing.T) {
		store := memory.New()
		ids := seedIdentifiers(t, store, "a")
		p := newScripted(map[string]error{
			"a": coverage.PermanentFailure(catalog.Identifier{}, errors.New("no such book")),
		})

		rec, err := newEngine(t, store, p, nil).EnsureCoverage(ctx, ids[0], false)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "no such book", rec.Exception)
	})

	t.Run("transient yields nil", func(t *testing.T) {
		store := memory.New()
		ids := seedIdentifiers(t, store, "a")
		p := newScripted(map[string]error{
			"a": coverage.TransientFailure(catalog.Identifier{}, errors.New("retry")),
		})

		rec, err := newEngine(t, store, p, nil).EnsureCoverage(ctx, ids[0], false)
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.Empty(t, store.Records())
	})

	t.Run("skip yields nil", func(t *testing.T) {
		store := memory.New()
		ids := seedIdentifiers(t, store, "a")
		p := newScripted(map[string]error{"a": coverage.ErrSkip})

		rec, err := newEngine(t, store, p, nil).EnsureCoverage(ctx, ids[0], false)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("unsaved identifier rejected", func(t *testing.T) {
		store := memory.New()
		p := newScripted(nil)

		rec, err := newEngine(t, store, p, nil).EnsureCoverage(ctx, catalog.Identifier{Type: catalog.ISBN, Value: "a"}, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has not been saved")
		assert.Nil(t, rec)
		assert.Empty(t, p.Calls())
		assert.Empty(t, store.Records())
	})

	t.Run("duplicate records tolerated", func(t *testing.T) {
		store := memory.New()
		ids := seedIdentifiers(t, store, "a")
		store.Seed(coverage.Record{Identifier: ids[0], Provider: testProvider, Timestamp: time.Now()})
		store.Seed(coverage.Record{Identifier: ids[0], Provider: testProvider, Timestamp: time.Now()})
		p := newScripted(nil)

		rec, err := newEngine(t, store, p, nil).EnsureCoverage(ctx, ids[0], false)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Empty(t, p.Calls())
	})
}

func TestShouldUpdate(t *testing.T) {
	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store := memory.New()
	withCutoff := newEngine(t, store, newScripted(nil), func(c *coverage.Config) { c.CutoffTime = cutoff })
	noCutoff := newEngine(t, store, newScripted(nil), nil)

	tests := []struct {
		name   string
		engine *coverage.Engine
		record *coverage.Record
		want   bool
	}{
		{name: "missing record", engine: noCutoff, record: nil, want: true},
		{name: "no cutoff", engine: noCutoff, record: &coverage.Record{Timestamp: cutoff.Add(-time.Hour)}, want: false},
		{name: "older than cutoff", engine: withCutoff, record: &coverage.Record{Timestamp: cutoff.Add(-time.Second)}, want: true},
		{name: "at cutoff", engine: withCutoff, record: &coverage.Record{Timestamp: cutoff}, want: false},
		{name: "newer than cutoff", engine: withCutoff, record: &coverage.Record{Timestamp: cutoff.Add(time.Hour)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.engine.ShouldUpdate(tt.record))
		})
	}
}

type recordingMetrics struct {
	batches []coverage.BatchResult
}

func (m *recordingMetrics) RecordBatch(_ context.Context, _, _ string, result coverage.BatchResult, _ time.Duration) {
	m.batches = append(m.batches, result)
}

func TestMetricsReceiveBatches(t *testing.T) {
	store := memory.New()
	ids := seedIdentifiers(t, store, "a", "b")
	m := &recordingMetrics{}

	e, err := coverage.New(store, newScripted(map[string]error{"b": coverage.ErrSkip}),
		coverage.Config{Provider: testProvider}, coverage.WithMetrics(m))
	require.NoError(t, err)

	_, err = e.ProcessBatch(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, m.batches, 1)
	assert.Equal(t, 1, m.batches[0].Successes)
	assert.Equal(t, 1, m.batches[0].Ignored)
}
