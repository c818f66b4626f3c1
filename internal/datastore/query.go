package datastore

import (
	"strconv"
	"strings"

	"github.com/lepinkainen/catalogd/internal/coverage"
)

// Dialect adapts the shared SQL to a database.
type Dialect struct {
	name    string
	dollar  bool
	noLimit string
}

var (
	SQLite   = Dialect{name: "sqlite", noLimit: "-1"}
	Postgres = Dialect{name: "postgres", dollar: true, noLimit: "ALL"}
)

func (d Dialect) String() string { return d.name }

// Rebind rewrites ? placeholders into the dialect's positional form.
func (d Dialect) Rebind(query string) string {
	if !d.dollar {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MissingCoverageQuery selects identifiers lacking current coverage,
// ordered by id.
func (d Dialect) MissingCoverageQuery(q coverage.Query) (string, []any) {
	where, args := missingWhere(q)

	var b strings.Builder
	b.WriteString("SELECT i.id, i.type, i.identifier FROM identifiers i")
	b.WriteString(where)
	b.WriteString(" ORDER BY i.id")

	switch {
	case q.Limit > 0:
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	case q.Offset > 0:
		b.WriteString(" LIMIT " + d.noLimit)
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	}
	return d.Rebind(b.String()), args
}

// CountMissingCoverageQuery counts the identifiers MissingCoverageQuery
// would return without limit or offset.
func (d Dialect) CountMissingCoverageQuery(q coverage.Query) (string, []any) {
	where, args := missingWhere(q)
	return d.Rebind("SELECT COUNT(*) FROM identifiers i" + where), args
}

// CountIdentifiersQuery counts identifiers of the given types.
func (d Dialect) CountIdentifiersQuery(types []string) (string, []any) {
	query := "SELECT COUNT(*) FROM identifiers"
	if len(types) == 0 {
		return query, nil
	}
	args := make([]any, 0, len(types))
	for _, t := range types {
		args = append(args, t)
	}
	return d.Rebind(query + " WHERE type IN (" + placeholders(len(types)) + ")"), args
}

func missingWhere(q coverage.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if len(q.IdentifierTypes) > 0 {
		conds = append(conds, "i.type IN ("+placeholders(len(q.IdentifierTypes))+")")
		for _, t := range q.IdentifierTypes {
			args = append(args, t)
		}
	}
	if len(q.IDs) > 0 {
		conds = append(conds, "i.id IN ("+placeholders(len(q.IDs))+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}

	covered := "SELECT 1 FROM coverage_records r WHERE r.identifier_id = i.id AND r.provider = ? AND r.operation = ?"
	args = append(args, q.Provider, q.Operation)
	if !q.Cutoff.IsZero() {
		covered += " AND r.timestamp >= ?"
		args = append(args, ToMillis(q.Cutoff))
	}
	conds = append(conds, "NOT EXISTS ("+covered+")")

	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Statements shared by every dialect, written with ? placeholders.
const (
	AddIdentifierSQL = `INSERT INTO identifiers (type, identifier) VALUES (?, ?)
ON CONFLICT (type, identifier) DO UPDATE SET type = excluded.type
RETURNING id`

	LookupIdentifierSQL = `SELECT id FROM identifiers WHERE type = ? AND identifier = ?`

	LookupRecordSQL = `SELECT id, timestamp, COALESCE(exception, '') FROM coverage_records
WHERE identifier_id = ? AND provider = ? AND operation = ? LIMIT 1`

	UpsertRecordSQL = `INSERT INTO coverage_records (identifier_id, provider, operation, timestamp, exception)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (identifier_id, provider, operation)
DO UPDATE SET timestamp = excluded.timestamp, exception = excluded.exception
RETURNING id`

	StampWatermarkSQL = `INSERT INTO timestamps (service, timestamp) VALUES (?, ?)
ON CONFLICT (service) DO UPDATE SET timestamp = excluded.timestamp`

	WatermarksSQL = `SELECT service, timestamp FROM timestamps ORDER BY service`

	RecordCountsSQL = `SELECT provider, operation,
SUM(CASE WHEN COALESCE(exception, '') = '' THEN 1 ELSE 0 END),
SUM(CASE WHEN COALESCE(exception, '') <> '' THEN 1 ELSE 0 END)
FROM coverage_records GROUP BY provider, operation ORDER BY provider, operation`

	editionColumns = `id, identifier_id, data_source, title, subtitle, publisher, language, published,
page_count, cover_url, description, authors, subjects, mirrored_cover`

	EditionsSQL = `SELECT ` + editionColumns + ` FROM editions WHERE identifier_id = ? ORDER BY id`

	EditionSQL = `SELECT ` + editionColumns + ` FROM editions WHERE identifier_id = ? AND data_source = ?`

	UpsertEditionSQL = `INSERT INTO editions (identifier_id, data_source, title, subtitle, publisher, language,
published, page_count, cover_url, description, authors, subjects, mirrored_cover)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (identifier_id, data_source) DO UPDATE SET
title = excluded.title, subtitle = excluded.subtitle, publisher = excluded.publisher,
language = excluded.language, published = excluded.published, page_count = excluded.page_count,
cover_url = excluded.cover_url, description = excluded.description, authors = excluded.authors,
subjects = excluded.subjects, mirrored_cover = excluded.mirrored_cover
RETURNING id`

	LicensePoolSQL = `SELECT id, identifier_id, data_source, licenses_owned, licenses_available
FROM license_pools WHERE identifier_id = ?`

	UpsertLicensePoolSQL = `INSERT INTO license_pools (identifier_id, data_source, licenses_owned, licenses_available)
VALUES (?, ?, ?, ?)
ON CONFLICT (identifier_id) DO UPDATE SET data_source = excluded.data_source,
licenses_owned = excluded.licenses_owned, licenses_available = excluded.licenses_available
RETURNING id`

	WorkSQL = `SELECT id, license_pool_id, title, author, presentation_ready, presentation_ready_at
FROM works WHERE license_pool_id = ?`

	UpsertWorkSQL = `INSERT INTO works (license_pool_id, title, author, presentation_ready, presentation_ready_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (license_pool_id) DO UPDATE SET title = excluded.title, author = excluded.author,
presentation_ready = excluded.presentation_ready, presentation_ready_at = excluded.presentation_ready_at
RETURNING id`
)
