package datastore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// SQLiteStore implements Store on a local SQLite database. All access goes
// through a single connection, so writes are serialized.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	tracer trace.Tracer
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{
		dbPath: dbPath,
		tracer: Tracer(),
	}
}

// OpenSQLite creates and connects a SQLiteStore.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	s := NewSQLiteStore(dbPath)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect opens the database and applies pending migrations.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	if s.dbPath != ":memory:" {
		if dir := filepath.Dir(s.dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(s.dbPath))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to connect to database: %w", err), db.Close())
	}
	if err := migrateSQLite(db); err != nil {
		return errors.Join(err, db.Close())
	}

	s.db = db
	return nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqlitePragmas
	}
	return path + "?" + sqlitePragmas
}

func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	// m.Close would close db as well
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) AddIdentifier(ctx context.Context, typ, value string) (catalog.Identifier, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, AddIdentifierSQL, typ, value).Scan(&id); err != nil {
		return catalog.Identifier{}, fmt.Errorf("failed to add identifier %s:%s: %w", typ, value, err)
	}
	return catalog.Identifier{ID: id, Type: typ, Value: value}, nil
}

func (s *SQLiteStore) LookupIdentifier(ctx context.Context, typ, value string) (catalog.Identifier, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, LookupIdentifierSQL, typ, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Identifier{}, fmt.Errorf("identifier %s:%s: %w", typ, value, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.Identifier{}, fmt.Errorf("failed to look up identifier %s:%s: %w", typ, value, err)
	}
	return catalog.Identifier{ID: id, Type: typ, Value: value}, nil
}

func (s *SQLiteStore) CountIdentifiers(ctx context.Context, types ...string) (int, error) {
	query, args := SQLite.CountIdentifiersQuery(types)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count identifiers: %w", err)
	}
	return n, nil
}

func coverageAttrs(provider, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "sqlite"),
		attribute.String("coverage.provider", provider),
		attribute.String("coverage.operation", operation),
	}
}

func (s *SQLiteStore) MissingCoverage(ctx context.Context, q coverage.Query) ([]catalog.Identifier, error) {
	var ids []catalog.Identifier
	err := ExecuteAndTrace(ctx, s.tracer, "sqlite.coverage.missing", coverageAttrs(q.Provider, q.Operation),
		func(ctx context.Context) error {
			query, args := SQLite.MissingCoverageQuery(q)
			rows, err := s.db.QueryContext(ctx, query, args...)
			if err != nil {
				return err
			}
			defer func() { _ = rows.Close() }()

			for rows.Next() {
				var id catalog.Identifier
				if err := rows.Scan(&id.ID, &id.Type, &id.Value); err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return rows.Err()
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query missing coverage: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) CountMissingCoverage(ctx context.Context, q coverage.Query) (int, error) {
	var n int
	err := ExecuteAndTrace(ctx, s.tracer, "sqlite.coverage.count_missing", coverageAttrs(q.Provider, q.Operation),
		func(ctx context.Context) error {
			query, args := SQLite.CountMissingCoverageQuery(q)
			return s.db.QueryRowContext(ctx, query, args...).Scan(&n)
		})
	if err != nil {
		return 0, fmt.Errorf("failed to count missing coverage: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) LookupRecord(ctx context.Context, id catalog.Identifier, provider, operation string) (*coverage.Record, error) {
	var (
		rec coverage.Record
		ts  int64
	)
	err := s.db.QueryRowContext(ctx, LookupRecordSQL, id.ID, provider, operation).Scan(&rec.ID, &ts, &rec.Exception)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up record for %s: %w", id, err)
	}

	rec.Identifier = id
	rec.Provider = provider
	rec.Operation = operation
	rec.Timestamp = FromMillis(ts)
	return &rec, nil
}

// SaveRecords upserts all writes in a single transaction.
func (s *SQLiteStore) SaveRecords(ctx context.Context, writes []coverage.RecordWrite) ([]coverage.Record, error) {
	saved := make([]coverage.Record, 0, len(writes))
	if len(writes) == 0 {
		return saved, nil
	}

	attrs := append(coverageAttrs(writes[0].Provider, writes[0].Operation), attribute.Int("records", len(writes)))
	err := ExecuteAndTrace(ctx, s.tracer, "sqlite.coverage.save_records", attrs, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			// Rollback is a no-op after Commit
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, UpsertRecordSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, w := range writes {
			ts := ToMillis(w.Timestamp)
			var id int64
			err := stmt.QueryRowContext(ctx, w.Identifier.ID, w.Provider, w.Operation, ts, NullString(w.Exception)).Scan(&id)
			if err != nil {
				return fmt.Errorf("failed to save record for %s: %w", w.Identifier, err)
			}
			saved = append(saved, coverage.Record{
				ID:         id,
				Identifier: w.Identifier,
				Provider:   w.Provider,
				Operation:  w.Operation,
				Timestamp:  FromMillis(ts),
				Exception:  w.Exception,
			})
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *SQLiteStore) StampWatermark(ctx context.Context, service string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, StampWatermarkSQL, service, ToMillis(at)); err != nil {
		return fmt.Errorf("failed to stamp watermark for %s: %w", service, err)
	}
	return nil
}

func (s *SQLiteStore) Watermarks(ctx context.Context) ([]Watermark, error) {
	rows, err := s.db.QueryContext(ctx, WatermarksSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Watermark
	for rows.Next() {
		var (
			w  Watermark
			ts int64
		)
		if err := rows.Scan(&w.Service, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		w.Timestamp = FromMillis(ts)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordCounts(ctx context.Context) ([]RecordCount, error) {
	rows, err := s.db.QueryContext(ctx, RecordCountsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RecordCount
	for rows.Next() {
		var c RecordCount
		if err := rows.Scan(&c.Provider, &c.Operation, &c.Successes, &c.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan record count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Editions(ctx context.Context, id catalog.Identifier) ([]catalog.Edition, error) {
	rows, err := s.db.QueryContext(ctx, EditionsSQL, id.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query editions for %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.Edition
	for rows.Next() {
		e, err := ScanEdition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edition: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Edition(ctx context.Context, id catalog.Identifier, source string) (*catalog.Edition, error) {
	e, err := ScanEdition(s.db.QueryRowContext(ctx, EditionSQL, id.ID, source))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s edition for %s: %w", source, id, err)
	}
	return &e, nil
}

func (s *SQLiteStore) SaveEdition(ctx context.Context, e *catalog.Edition) error {
	args, err := EditionArgs(e)
	if err != nil {
		return err
	}
	if err := s.db.QueryRowContext(ctx, UpsertEditionSQL, args...).Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to save %s edition: %w", e.DataSource, err)
	}
	return nil
}

func (s *SQLiteStore) LicensePool(ctx context.Context, id catalog.Identifier) (*catalog.LicensePool, error) {
	var p catalog.LicensePool
	err := s.db.QueryRowContext(ctx, LicensePoolSQL, id.ID).
		Scan(&p.ID, &p.IdentifierID, &p.DataSource, &p.LicensesOwned, &p.LicensesAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load license pool for %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) SaveLicensePool(ctx context.Context, p *catalog.LicensePool) error {
	err := s.db.QueryRowContext(ctx, UpsertLicensePoolSQL,
		p.IdentifierID, p.DataSource, p.LicensesOwned, p.LicensesAvailable).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to save license pool: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Work(ctx context.Context, pool *catalog.LicensePool) (*catalog.Work, error) {
	w, err := ScanWork(s.db.QueryRowContext(ctx, WorkSQL, pool.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load work for pool %d: %w", pool.ID, err)
	}
	return &w, nil
}

func (s *SQLiteStore) SaveWork(ctx context.Context, w *catalog.Work) error {
	err := s.db.QueryRowContext(ctx, UpsertWorkSQL,
		w.LicensePoolID, w.Title, w.Author, w.PresentationReady, ToMillis(w.PresentationReadyAt)).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("failed to save work: %w", err)
	}
	return nil
}
