package datastore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
)

// ToMillis stores t as unix milliseconds. The zero time maps to 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

// FromMillis is the inverse of ToMillis.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// NullString maps the empty string to SQL NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// EncodeList stores a string list as a JSON array.
func EncodeList(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeList reads a list written by EncodeList.
func DecodeList(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// EditionArgs returns the UpsertEditionSQL arguments for e.
func EditionArgs(e *catalog.Edition) ([]any, error) {
	authors, err := EncodeList(e.Authors)
	if err != nil {
		return nil, fmt.Errorf("failed to encode authors: %w", err)
	}
	subjects, err := EncodeList(e.Subjects)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subjects: %w", err)
	}
	return []any{
		e.IdentifierID, e.DataSource, e.Title, e.Subtitle, e.Publisher, e.Language,
		e.Published, e.PageCount, e.CoverURL, e.Description, authors, subjects, e.MirroredCover,
	}, nil
}

// Scanner is satisfied by *sql.Row, *sql.Rows and pgx rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanEdition reads a row selected with the edition columns.
func ScanEdition(row Scanner) (catalog.Edition, error) {
	var (
		e                 catalog.Edition
		authors, subjects string
	)
	err := row.Scan(&e.ID, &e.IdentifierID, &e.DataSource, &e.Title, &e.Subtitle, &e.Publisher,
		&e.Language, &e.Published, &e.PageCount, &e.CoverURL, &e.Description, &authors, &subjects,
		&e.MirroredCover)
	if err != nil {
		return catalog.Edition{}, err
	}
	if e.Authors, err = DecodeList(authors); err != nil {
		return catalog.Edition{}, err
	}
	if e.Subjects, err = DecodeList(subjects); err != nil {
		return catalog.Edition{}, err
	}
	return e, nil
}

// ScanWork reads a row selected by WorkSQL.
func ScanWork(row Scanner) (catalog.Work, error) {
	var (
		w       catalog.Work
		readyAt int64
	)
	if err := row.Scan(&w.ID, &w.LicensePoolID, &w.Title, &w.Author, &w.PresentationReady, &readyAt); err != nil {
		return catalog.Work{}, err
	}
	w.PresentationReadyAt = FromMillis(readyAt)
	return w, nil
}
