package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
	apperrors "github.com/lepinkainen/catalogd/internal/errors"
	"github.com/lepinkainen/catalogd/internal/mirror"
)

// CoverOperation is the operation cover mirroring is tracked under.
const CoverOperation = "cover"

const maxCoverBytes = 10 << 20

var (
	errNoCover   = errors.New("edition has no cover image")
	errNoEdition = errors.New("no edition to read a cover from yet")
)

// Cover mirrors the cover image of a source's edition. Downloads are queued
// in the mirror and written once per batch by FinalizeBatch.
type Cover struct {
	catalog    catalog.Catalog
	mirror     *mirror.Mirror
	source     string
	httpClient *http.Client

	mu      sync.Mutex
	pending map[string]catalog.Edition
}

var (
	_ coverage.Processor      = (*Cover)(nil)
	_ coverage.BatchFinalizer = (*Cover)(nil)
)

// NewCover creates a cover processor reading cover URLs from source's
// editions. A nil client gets a 30 second timeout.
func NewCover(c catalog.Catalog, m *mirror.Mirror, source string, client *http.Client) *Cover {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Cover{
		catalog:    c,
		mirror:     m,
		source:     source,
		httpClient: client,
		pending:    make(map[string]catalog.Edition),
	}
}

// Config returns the coverage configuration for the cover operation.
func (p *Cover) Config() coverage.Config {
	return coverage.Config{
		Provider:        p.source,
		Operation:       CoverOperation,
		IdentifierTypes: []string{catalog.ISBN},
	}
}

// ProcessItem downloads the cover and queues it for mirroring.
func (p *Cover) ProcessItem(ctx context.Context, id catalog.Identifier) error {
	edition, err := p.catalog.Edition(ctx, id, p.source)
	if err != nil {
		return coverage.TransientFailure(id, err)
	}
	if edition == nil {
		return coverage.TransientFailure(id, errNoEdition)
	}
	if edition.CoverURL == "" {
		return coverage.PermanentFailure(id, errNoCover)
	}

	data, err := p.download(ctx, edition.CoverURL)
	if err != nil {
		if apperrors.IsPermanentStatus(err) {
			return coverage.PermanentFailure(id, err)
		}
		return coverage.TransientFailure(id, err)
	}

	if err := p.mirror.Queue(id.Key(), data); err != nil {
		return coverage.PermanentFailure(id, err)
	}

	p.mu.Lock()
	p.pending[id.Key()] = *edition
	p.mu.Unlock()
	return nil
}

func (p *Cover) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download cover: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewStatusError("cover host", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read cover: %w", err)
	}
	return data, nil
}

// FinalizeBatch writes the queued covers and records where each one landed
// on its edition.
func (p *Cover) FinalizeBatch(ctx context.Context) error {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]catalog.Edition)
	p.mu.Unlock()

	written, flushErr := p.mirror.Flush(ctx)

	errs := []error{flushErr}
	for key, path := range written {
		edition, ok := pending[key]
		if !ok {
			continue
		}
		edition.MirroredCover = path
		if err := p.catalog.SaveEdition(ctx, &edition); err != nil {
			errs = append(errs, fmt.Errorf("failed to record mirrored cover for %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
