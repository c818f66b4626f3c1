// Package catalog holds the book catalog domain: identifiers, per-source
// editions, license pools and the works calculated from them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Identifier types understood by the catalog.
const (
	ISBN        = "ISBN"
	OpenLibrary = "OpenLibrary ID"
	FeedID      = "Feed ID"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrNoLicensePool is returned when an identifier has no license pool and
	// the caller is not allowed to create one.
	ErrNoLicensePool = errors.New("no license pool available")
)

// Identifier is a typed identifier such as an ISBN. ID is the catalog row id
// and is zero until the identifier has been persisted.
type Identifier struct {
	ID    int64
	Type  string
	Value string
}

// Key returns a stable "type/value" key for the identifier.
func (i Identifier) Key() string {
	return i.Type + "/" + i.Value
}

func (i Identifier) String() string {
	return i.Type + ":" + i.Value
}

// ParseIdentifier parses "type:value". A bare value is treated as an ISBN.
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identifier{}, fmt.Errorf("empty identifier")
	}

	typ, value, found := strings.Cut(s, ":")
	if !found {
		return Identifier{Type: ISBN, Value: NormalizeISBN(s)}, nil
	}

	typ = strings.TrimSpace(typ)
	value = strings.TrimSpace(value)
	if typ == "" || value == "" {
		return Identifier{}, fmt.Errorf("malformed identifier %q", s)
	}
	if strings.EqualFold(typ, ISBN) {
		return Identifier{Type: ISBN, Value: NormalizeISBN(value)}, nil
	}
	return Identifier{Type: typ, Value: value}, nil
}

// NormalizeISBN strips hyphens and spaces from an ISBN.
func NormalizeISBN(isbn string) string {
	normalized := strings.ReplaceAll(isbn, "-", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	return normalized
}

// LicensePool tracks how many copies of a title a source makes available.
type LicensePool struct {
	ID                int64
	IdentifierID      int64
	DataSource        string
	LicensesOwned     int
	LicensesAvailable int
}

// Work is the presentation-level record calculated for a license pool.
type Work struct {
	ID                  int64
	LicensePoolID       int64
	Title               string
	Author              string
	PresentationReady   bool
	PresentationReadyAt time.Time
}

// Catalog is the persistence surface the providers and the bibliographic
// coverage variant work against. Lookups return nil, nil when nothing exists.
type Catalog interface {
	Editions(ctx context.Context, id Identifier) ([]Edition, error)
	Edition(ctx context.Context, id Identifier, source string) (*Edition, error)
	SaveEdition(ctx context.Context, e *Edition) error

	LicensePool(ctx context.Context, id Identifier) (*LicensePool, error)
	SaveLicensePool(ctx context.Context, p *LicensePool) error

	Work(ctx context.Context, pool *LicensePool) (*Work, error)
	SaveWork(ctx context.Context, w *Work) error
}

// Identifiers registers and resolves identifiers.
type Identifiers interface {
	// AddIdentifier returns the persisted identifier, creating it if needed.
	AddIdentifier(ctx context.Context, typ, value string) (Identifier, error)

	// LookupIdentifier returns ErrNotFound for unknown identifiers.
	LookupIdentifier(ctx context.Context, typ, value string) (Identifier, error)
}
