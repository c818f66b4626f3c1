// Package memory is an in-process catalog and coverage store used by tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
)

// Store keeps identifiers, checkpoint records and watermarks in memory.
type Store struct {
	mu          sync.Mutex
	identifiers []catalog.Identifier
	records     []coverage.Record
	watermarks  map[string]time.Time
	editions    []catalog.Edition
	pools       []catalog.LicensePool
	works       []catalog.Work
	nextID      int64
	nextRecord  int64
	nextRow     int64

	// SaveErr, when set, makes SaveRecords fail without writing anything.
	SaveErr error
}

var (
	_ coverage.Store      = (*Store)(nil)
	_ catalog.Identifiers = (*Store)(nil)
	_ catalog.Catalog     = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{watermarks: make(map[string]time.Time)}
}

// AddIdentifier registers an identifier, returning the existing one if known.
func (s *Store) AddIdentifier(_ context.Context, typ, value string) (catalog.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.identifiers {
		if id.Type == typ && id.Value == value {
			return id, nil
		}
	}
	s.nextID++
	id := catalog.Identifier{ID: s.nextID, Type: typ, Value: value}
	s.identifiers = append(s.identifiers, id)
	return id, nil
}

// LookupIdentifier finds a registered identifier.
func (s *Store) LookupIdentifier(_ context.Context, typ, value string) (catalog.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.identifiers {
		if id.Type == typ && id.Value == value {
			return id, nil
		}
	}
	return catalog.Identifier{}, fmt.Errorf("identifier %s:%s: %w", typ, value, catalog.ErrNotFound)
}

// Seed inserts a record as-is, including duplicates of an existing key.
func (s *Store) Seed(r coverage.Record) coverage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRecord++
	r.ID = s.nextRecord
	s.records = append(s.records, r)
	return r
}

// Records returns a copy of every stored record.
func (s *Store) Records() []coverage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Watermark returns the last stamp for service.
func (s *Store) Watermark(service string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.watermarks[service]
	return t, ok
}

func (s *Store) MissingCoverage(_ context.Context, q coverage.Query) ([]catalog.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.missing(q)
	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return slices.Clone(matched), nil
}

func (s *Store) CountMissingCoverage(_ context.Context, q coverage.Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.missing(q)), nil
}

func (s *Store) missing(q coverage.Query) []catalog.Identifier {
	var out []catalog.Identifier
	for _, id := range s.identifiers {
		if len(q.IdentifierTypes) > 0 && !slices.Contains(q.IdentifierTypes, id.Type) {
			continue
		}
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, id.ID) {
			continue
		}
		if s.covered(id, q) {
			continue
		}
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b catalog.Identifier) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (s *Store) covered(id catalog.Identifier, q coverage.Query) bool {
	for _, r := range s.records {
		if r.Identifier.ID != id.ID || r.Provider != q.Provider || r.Operation != q.Operation {
			continue
		}
		if q.Cutoff.IsZero() || !r.Timestamp.Before(q.Cutoff) {
			return true
		}
	}
	return false
}

func (s *Store) LookupRecord(_ context.Context, id catalog.Identifier, provider, operation string) (*coverage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.Identifier.ID == id.ID && r.Provider == provider && r.Operation == operation {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveRecords(_ context.Context, writes []coverage.RecordWrite) ([]coverage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return nil, s.SaveErr
	}

	saved := make([]coverage.Record, 0, len(writes))
	for _, w := range writes {
		idx := slices.IndexFunc(s.records, func(r coverage.Record) bool {
			return r.Identifier.ID == w.Identifier.ID && r.Provider == w.Provider && r.Operation == w.Operation
		})
		if idx < 0 {
			s.nextRecord++
			s.records = append(s.records, coverage.Record{ID: s.nextRecord})
			idx = len(s.records) - 1
		}
		r := &s.records[idx]
		r.Identifier = w.Identifier
		r.Provider = w.Provider
		r.Operation = w.Operation
		r.Timestamp = w.Timestamp
		r.Exception = w.Exception
		saved = append(saved, *r)
	}
	return saved, nil
}

func (s *Store) StampWatermark(_ context.Context, service string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[service] = at
	return nil
}

func (s *Store) row() int64 {
	s.nextRow++
	return s.nextRow
}

func (s *Store) Editions(_ context.Context, id catalog.Identifier) ([]catalog.Edition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.Edition
	for _, e := range s.editions {
		if e.IdentifierID == id.ID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Edition(_ context.Context, id catalog.Identifier, source string) (*catalog.Edition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.editions {
		if e.IdentifierID == id.ID && e.DataSource == source {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveEdition(_ context.Context, e *catalog.Edition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.editions {
		if s.editions[i].IdentifierID == e.IdentifierID && s.editions[i].DataSource == e.DataSource {
			e.ID = s.editions[i].ID
			s.editions[i] = *e
			return nil
		}
	}
	e.ID = s.row()
	s.editions = append(s.editions, *e)
	return nil
}

func (s *Store) LicensePool(_ context.Context, id catalog.Identifier) (*catalog.LicensePool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pools {
		if p.IdentifierID == id.ID {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveLicensePool(_ context.Context, p *catalog.LicensePool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.pools {
		if s.pools[i].IdentifierID == p.IdentifierID {
			p.ID = s.pools[i].ID
			s.pools[i] = *p
			return nil
		}
	}
	p.ID = s.row()
	s.pools = append(s.pools, *p)
	return nil
}

func (s *Store) Work(_ context.Context, pool *catalog.LicensePool) (*catalog.Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.works {
		if w.LicensePoolID == pool.ID {
			found := w
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveWork(_ context.Context, w *catalog.Work) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.works {
		if s.works[i].LicensePoolID == w.LicensePoolID {
			w.ID = s.works[i].ID
			s.works[i] = *w
			return nil
		}
	}
	w.ID = s.row()
	s.works = append(s.works, *w)
	return nil
}
