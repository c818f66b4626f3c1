// Package postgres implements the catalog store on PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
	"github.com/lepinkainen/catalogd/internal/datastore"
)

//go:embed migrations/*.sql
var migrations embed.FS

var dialect = datastore.Postgres

// Store implements datastore.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ datastore.Store = (*Store)(nil)

// New wraps an already migrated pool. Closing the store closes the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, tracer: datastore.Tracer()}
}

// Open connects to dsn, retrying with exponential backoff for up to
// maxWait, and applies pending migrations.
func Open(ctx context.Context, dsn string, maxWait time.Duration) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := connectWithRetry(ctx, poolCfg, maxWait)
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

func connectWithRetry(ctx context.Context, cfg *pgxpool.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = maxWait

	operation := func() error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			slog.Warn("Failed to connect to Postgres, will retry", "error", err)
			return err
		}
		pool = p
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres after retries: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded migrations to pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	conn.Release()

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) trace(ctx context.Context, name string, attrs []attribute.KeyValue, op func(ctx context.Context) error) error {
	attrs = append(attrs, attribute.String("db.system", "postgresql"))
	return datastore.ExecuteAndTrace(ctx, s.tracer, name, attrs, op)
}

func coverageAttrs(provider, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("coverage.provider", provider),
		attribute.String("coverage.operation", operation),
	}
}

func (s *Store) AddIdentifier(ctx context.Context, typ, value string) (catalog.Identifier, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, dialect.Rebind(datastore.AddIdentifierSQL), typ, value).Scan(&id); err != nil {
		return catalog.Identifier{}, fmt.Errorf("failed to add identifier %s:%s: %w", typ, value, err)
	}
	return catalog.Identifier{ID: id, Type: typ, Value: value}, nil
}

func (s *Store) LookupIdentifier(ctx context.Context, typ, value string) (catalog.Identifier, error) {
	var id int64
	err := s.pool.QueryRow(ctx, dialect.Rebind(datastore.LookupIdentifierSQL), typ, value).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Identifier{}, fmt.Errorf("identifier %s:%s: %w", typ, value, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.Identifier{}, fmt.Errorf("failed to look up identifier %s:%s: %w", typ, value, err)
	}
	return catalog.Identifier{ID: id, Type: typ, Value: value}, nil
}

func (s *Store) CountIdentifiers(ctx context.Context, types ...string) (int, error) {
	query, args := dialect.CountIdentifiersQuery(types)
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count identifiers: %w", err)
	}
	return n, nil
}

func (s *Store) MissingCoverage(ctx context.Context, q coverage.Query) ([]catalog.Identifier, error) {
	var ids []catalog.Identifier
	err := s.trace(ctx, "postgres.coverage.missing", coverageAttrs(q.Provider, q.Operation),
		func(ctx context.Context) error {
			query, args := dialect.MissingCoverageQuery(q)
			rows, err := s.pool.Query(ctx, query, args...)
			if err != nil {
				return err
			}
			ids, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Identifier, error) {
				var id catalog.Identifier
				err := row.Scan(&id.ID, &id.Type, &id.Value)
				return id, err
			})
			return err
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query missing coverage: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func (s *Store) CountMissingCoverage(ctx context.Context, q coverage.Query) (int, error) {
	var n int
	err := s.trace(ctx, "postgres.coverage.count_missing", coverageAttrs(q.Provider, q.Operation),
		func(ctx context.Context) error {
			query, args := dialect.CountMissingCoverageQuery(q)
			return s.pool.QueryRow(ctx, query, args...).Scan(&n)
		})
	if err != nil {
		return 0, fmt.Errorf("failed to count missing coverage: %w", err)
	}
	return n, nil
}

func (s *Store) LookupRecord(ctx context.Context, id catalog.Identifier, provider, operation string) (*coverage.Record, error) {
	var (
		rec coverage.Record
		ts  int64
	)
	err := s.pool.QueryRow(ctx, dialect.Rebind(datastore.LookupRecordSQL), id.ID, provider, operation).
		Scan(&rec.ID, &ts, &rec.Exception)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up record for %s: %w", id, err)
	}

	rec.Identifier = id
	rec.Provider = provider
	rec.Operation = operation
	rec.Timestamp = datastore.FromMillis(ts)
	return &rec, nil
}

// SaveRecords upserts all writes in one transaction using a pipelined batch.
func (s *Store) SaveRecords(ctx context.Context, writes []coverage.RecordWrite) ([]coverage.Record, error) {
	saved := make([]coverage.Record, 0, len(writes))
	if len(writes) == 0 {
		return saved, nil
	}

	attrs := append(coverageAttrs(writes[0].Provider, writes[0].Operation), attribute.Int("records", len(writes)))
	err := s.trace(ctx, "postgres.coverage.save_records", attrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			upsert := dialect.Rebind(datastore.UpsertRecordSQL)
			batch := &pgx.Batch{}
			for _, w := range writes {
				batch.Queue(upsert, w.Identifier.ID, w.Provider, w.Operation,
					datastore.ToMillis(w.Timestamp), datastore.NullString(w.Exception))
			}

			results := tx.SendBatch(ctx, batch)
			for _, w := range writes {
				var id int64
				if err := results.QueryRow().Scan(&id); err != nil {
					_ = results.Close()
					return fmt.Errorf("failed to save record for %s: %w", w.Identifier, err)
				}
				saved = append(saved, coverage.Record{
					ID:         id,
					Identifier: w.Identifier,
					Provider:   w.Provider,
					Operation:  w.Operation,
					Timestamp:  datastore.FromMillis(datastore.ToMillis(w.Timestamp)),
					Exception:  w.Exception,
				})
			}
			return results.Close()
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) StampWatermark(ctx context.Context, service string, at time.Time) error {
	_, err := s.pool.Exec(ctx, dialect.Rebind(datastore.StampWatermarkSQL), service, datastore.ToMillis(at))
	if err != nil {
		return fmt.Errorf("failed to stamp watermark for %s: %w", service, err)
	}
	return nil
}

func (s *Store) Watermarks(ctx context.Context) ([]datastore.Watermark, error) {
	rows, err := s.pool.Query(ctx, datastore.WatermarksSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	marks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datastore.Watermark, error) {
		var (
			w  datastore.Watermark
			ts int64
		)
		err := row.Scan(&w.Service, &ts)
		w.Timestamp = datastore.FromMillis(ts)
		return w, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan watermarks: %w", err)
	}
	return marks, nil
}

func (s *Store) RecordCounts(ctx context.Context) ([]datastore.RecordCount, error) {
	rows, err := s.pool.Query(ctx, datastore.RecordCountsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datastore.RecordCount, error) {
		var c datastore.RecordCount
		err := row.Scan(&c.Provider, &c.Operation, &c.Successes, &c.Failures)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan record counts: %w", err)
	}
	return counts, nil
}

func (s *Store) Editions(ctx context.Context, id catalog.Identifier) ([]catalog.Edition, error) {
	rows, err := s.pool.Query(ctx, dialect.Rebind(datastore.EditionsSQL), id.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query editions for %s: %w", id, err)
	}
	editions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Edition, error) {
		return datastore.ScanEdition(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan editions: %w", err)
	}
	return editions, nil
}

func (s *Store) Edition(ctx context.Context, id catalog.Identifier, source string) (*catalog.Edition, error) {
	e, err := datastore.ScanEdition(s.pool.QueryRow(ctx, dialect.Rebind(datastore.EditionSQL), id.ID, source))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s edition for %s: %w", source, id, err)
	}
	return &e, nil
}

func (s *Store) SaveEdition(ctx context.Context, e *catalog.Edition) error {
	args, err := datastore.EditionArgs(e)
	if err != nil {
		return err
	}
	if err := s.pool.QueryRow(ctx, dialect.Rebind(datastore.UpsertEditionSQL), args...).Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to save %s edition: %w", e.DataSource, err)
	}
	return nil
}

func (s *Store) LicensePool(ctx context.Context, id catalog.Identifier) (*catalog.LicensePool, error) {
	var p catalog.LicensePool
	err := s.pool.QueryRow(ctx, dialect.Rebind(datastore.LicensePoolSQL), id.ID).
		Scan(&p.ID, &p.IdentifierID, &p.DataSource, &p.LicensesOwned, &p.LicensesAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load license pool for %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) SaveLicensePool(ctx context.Context, p *catalog.LicensePool) error {
	err := s.pool.QueryRow(ctx, dialect.Rebind(datastore.UpsertLicensePoolSQL),
		p.IdentifierID, p.DataSource, p.LicensesOwned, p.LicensesAvailable).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to save license pool: %w", err)
	}
	return nil
}

func (s *Store) Work(ctx context.Context, pool *catalog.LicensePool) (*catalog.Work, error) {
	w, err := datastore.ScanWork(s.pool.QueryRow(ctx, dialect.Rebind(datastore.WorkSQL), pool.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load work for pool %d: %w", pool.ID, err)
	}
	return &w, nil
}

func (s *Store) SaveWork(ctx context.Context, w *catalog.Work) error {
	err := s.pool.QueryRow(ctx, dialect.Rebind(datastore.UpsertWorkSQL),
		w.LicensePoolID, w.Title, w.Author, w.PresentationReady, datastore.ToMillis(w.PresentationReadyAt)).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("failed to save work: %w", err)
	}
	return nil
}
