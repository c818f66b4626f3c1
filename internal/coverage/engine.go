package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lepinkainen/catalogd/internal/catalog"
)

// Engine runs one provider over the catalog.
type Engine struct {
	cfg       Config
	store     Store
	processor Processor
	logger    *slog.Logger
	metrics   Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets where batch observations are reported.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for batch spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine for processor, storing checkpoints in store.
func New(store Store, processor Processor, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("coverage: nil store")
	}
	if processor == nil {
		return nil, errors.New("coverage: nil processor")
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		processor: processor,
		logger:    slog.Default(),
		metrics:   noopMetrics{},
		tracer:    otel.Tracer("github.com/lepinkainen/catalogd/internal/coverage"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	attrs := []any{"service", cfg.ServiceName, "provider", cfg.Provider}
	if cfg.Operation != "" {
		attrs = append(attrs, "operation", cfg.Operation)
	}
	e.logger = e.logger.With(attrs...)

	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) query() Query {
	return Query{
		Provider:        e.cfg.Provider,
		Operation:       e.cfg.Operation,
		IdentifierTypes: e.cfg.IdentifierTypes,
		Cutoff:          e.cfg.CutoffTime,
	}
}

// CountNeedingCoverage counts the identifiers the next Run would visit.
func (e *Engine) CountNeedingCoverage(ctx context.Context) (int, error) {
	n, err := e.store.CountMissingCoverage(ctx, e.query())
	if err != nil {
		return 0, fmt.Errorf("counting items that need coverage: %w", err)
	}
	return n, nil
}

// Run processes batches until the discovery query is exhausted, stamping the
// service watermark after every pass.
func (e *Engine) Run(ctx context.Context) (RunSummary, error) {
	start := e.now()
	summary := RunSummary{RunID: uuid.NewString()}
	logger := e.logger.With("run_id", summary.RunID)

	count, err := e.CountNeedingCoverage(ctx)
	if err != nil {
		return summary, err
	}
	logger.Info("Starting coverage run", "items", count)

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, done, err := e.runOnce(ctx, offset)
		if err != nil {
			return summary, err
		}
		if err := e.store.StampWatermark(ctx, e.cfg.ServiceName, e.now()); err != nil {
			return summary, fmt.Errorf("stamping watermark: %w", err)
		}
		if done {
			break
		}

		summary.Passes++
		summary.Counts = summary.Counts.Add(result.Counts)
		summary.Ignored += result.Ignored
		offset += result.Transient
	}

	summary.Duration = e.now().Sub(start)
	logger.Info("Coverage run complete",
		"passes", summary.Passes,
		"successes", summary.Successes,
		"transient", summary.Transient,
		"permanent", summary.Permanent,
		"duration", summary.Duration,
	)
	return summary, nil
}

// RunOnce processes one batch starting at offset and returns the offset for
// the next pass. Items that failed transiently stay in the discovery query,
// so the offset advances by the transient count. done is true when there was
// nothing left to process.
func (e *Engine) RunOnce(ctx context.Context, offset int) (next int, done bool, err error) {
	result, done, err := e.runOnce(ctx, offset)
	if err != nil || done {
		return offset, done, err
	}
	return offset + result.Transient, false, nil
}

func (e *Engine) runOnce(ctx context.Context, offset int) (BatchResult, bool, error) {
	q := e.query()
	q.Limit = e.cfg.WorksetSize
	q.Offset = offset

	batch, err := e.store.MissingCoverage(ctx, q)
	if err != nil {
		return BatchResult{}, false, fmt.Errorf("finding items that need coverage: %w", err)
	}
	if len(batch) == 0 {
		return BatchResult{}, true, nil
	}

	result, err := e.ProcessBatch(ctx, batch)
	if err != nil {
		return BatchResult{}, false, err
	}
	return result, false, nil
}

// RunOnIdentifiers covers exactly the given persisted identifiers. Those that
// already have current coverage count as successes without being processed.
func (e *Engine) RunOnIdentifiers(ctx context.Context, ids []catalog.Identifier) (BatchResult, error) {
	if len(ids) == 0 {
		return BatchResult{}, nil
	}

	q := e.query()
	q.IDs = make([]int64, 0, len(ids))
	for _, id := range ids {
		if id.ID == 0 {
			return BatchResult{}, fmt.Errorf("identifier %s has not been saved to the catalog", id)
		}
		q.IDs = append(q.IDs, id.ID)
	}

	need, err := e.store.MissingCoverage(ctx, q)
	if err != nil {
		return BatchResult{}, fmt.Errorf("finding items that need coverage: %w", err)
	}

	total := BatchResult{Counts: Counts{Successes: len(ids) - len(need)}}
	e.logger.Info("Identifiers already covered", "count", total.Successes, "remaining", len(need))

	for start := 0; start < len(need); start += e.cfg.WorksetSize {
		end := min(start+e.cfg.WorksetSize, len(need))
		result, err := e.ProcessBatch(ctx, need[start:end])
		if err != nil {
			return total, err
		}
		total = total.Merge(result)
	}
	return total, nil
}

// EnsureCoverage returns the identifier's record, processing it first when it
// has none, the record is stale, or force is set. It returns nil, nil when
// processing ended in a transient failure or a skip.
func (e *Engine) EnsureCoverage(ctx context.Context, id catalog.Identifier, force bool) (*Record, error) {
	if id.ID == 0 {
		return nil, fmt.Errorf("identifier %s has not been saved to the catalog", id)
	}
	record, err := e.store.LookupRecord(ctx, id, e.cfg.Provider, e.cfg.Operation)
	if err != nil {
		return nil, fmt.Errorf("looking up coverage record: %w", err)
	}
	if !force && !e.ShouldUpdate(record) {
		return record, nil
	}

	result, err := e.ProcessBatch(ctx, []catalog.Identifier{id})
	if err != nil {
		return nil, err
	}
	if len(result.Outcomes) == 0 {
		return nil, nil
	}
	return result.Outcomes[0].Record, nil
}

// ShouldUpdate reports whether record needs to be redone: it is missing, or a
// cutoff is configured and the record predates it.
func (e *Engine) ShouldUpdate(record *Record) bool {
	if record == nil {
		return true
	}
	if e.cfg.CutoffTime.IsZero() {
		return false
	}
	return record.Timestamp.Before(e.cfg.CutoffTime)
}

type itemResult struct {
	id      catalog.Identifier
	failure *Failure
}

// ProcessBatch runs the processor over batch, classifies each result and
// writes the records for successes and permanent failures in one
// transaction. Transient failures and skipped items leave no record.
func (e *Engine) ProcessBatch(ctx context.Context, batch []catalog.Identifier) (BatchResult, error) {
	ctx, span := e.tracer.Start(ctx, "coverage.ProcessBatch", trace.WithAttributes(
		attribute.String("coverage.provider", e.cfg.Provider),
		attribute.String("coverage.operation", e.cfg.Operation),
		attribute.Int("coverage.batch_size", len(batch)),
	))
	defer span.End()

	start := e.now()
	results, err := e.processItems(ctx, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BatchResult{}, err
	}

	var (
		result    BatchResult
		writes    []RecordWrite
		recordFor []int
	)
	stamp := e.now().UTC()
	for _, r := range results {
		outcome := Outcome{Identifier: r.id, Failure: r.failure}
		switch outcome.Status() {
		case StatusSuccess:
			result.Successes++
			writes = append(writes, RecordWrite{
				Identifier: r.id,
				Provider:   e.cfg.Provider,
				Operation:  e.cfg.Operation,
				Timestamp:  stamp,
			})
			recordFor = append(recordFor, len(result.Outcomes))
		case StatusTransient:
			result.Transient++
			e.logger.Warn("Transient failure", "identifier", r.id.String(), "error", r.failure.Exception)
		case StatusPermanent:
			result.Permanent++
			w, _ := r.failure.RecordWrite(e.cfg.Provider, e.cfg.Operation, stamp)
			w.Identifier = r.id
			writes = append(writes, w)
			recordFor = append(recordFor, len(result.Outcomes))
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	result.Ignored = len(batch) - len(results)

	e.logger.Info("Batch processed",
		"successes", result.Successes,
		"transient", result.Transient,
		"permanent", result.Permanent,
		"ignored", result.Ignored,
	)

	if err := e.finalizeBatch(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BatchResult{}, fmt.Errorf("finalizing batch: %w", err)
	}

	records, err := e.store.SaveRecords(ctx, writes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BatchResult{}, fmt.Errorf("saving coverage records: %w", err)
	}
	if len(records) != len(writes) {
		return BatchResult{}, fmt.Errorf("saving coverage records: stored %d of %d", len(records), len(writes))
	}
	for i, idx := range recordFor {
		result.Outcomes[idx].Record = &records[i]
	}

	result.Transient += result.Ignored

	span.SetAttributes(
		attribute.Int("coverage.successes", result.Successes),
		attribute.Int("coverage.transient", result.Transient),
		attribute.Int("coverage.permanent", result.Permanent),
	)
	e.metrics.RecordBatch(ctx, e.cfg.Provider, e.cfg.Operation, result, e.now().Sub(start))

	return result, nil
}

// processItems keeps results in batch order. Skipped items are dropped.
func (e *Engine) processItems(ctx context.Context, batch []catalog.Identifier) ([]itemResult, error) {
	slots := make([]*itemResult, len(batch))

	if e.cfg.Concurrency <= 1 {
		for i, id := range batch {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			slots[i] = e.processItem(ctx, id)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Concurrency)
		for i, id := range batch {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				slots[i] = e.processItem(gctx, id)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	results := make([]itemResult, 0, len(batch))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	return results, nil
}

func (e *Engine) processItem(ctx context.Context, id catalog.Identifier) *itemResult {
	err := e.processor.ProcessItem(ctx, id)
	if err == nil {
		return &itemResult{id: id}
	}
	if errors.Is(err, ErrSkip) {
		e.logger.Debug("Item skipped", "identifier", id.String(), "reason", err)
		return nil
	}

	var failure *Failure
	if !errors.As(err, &failure) {
		failure = TransientFailure(id, err)
	}
	if failure.Identifier == (catalog.Identifier{}) {
		f := *failure
		f.Identifier = id
		failure = &f
	}
	return &itemResult{id: id, failure: failure}
}

// finalizeBatch runs the processor's finalize hook. A failure abandons the
// batch before any record is written, so every item stays uncovered.
func (e *Engine) finalizeBatch(ctx context.Context) error {
	finalizer, ok := e.processor.(BatchFinalizer)
	if !ok {
		return nil
	}
	if err := finalizer.FinalizeBatch(ctx); err != nil {
		e.logger.Warn("Failed to finalize batch", "error", err)
		return err
	}
	return nil
}
