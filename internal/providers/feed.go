package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
	"github.com/lepinkainen/catalogd/internal/enrichment/book"
)

// DefaultFeedSource names the feed's data source when the file does not.
const DefaultFeedSource = "Feed"

var errNoFeedData = errors.New("received neither metadata nor circulation data")

// FeedFile is an availability feed: what a distributor says it has, and
// how many copies of each title are licensed.
type FeedFile struct {
	Source string     `yaml:"source"`
	Items  []FeedItem `yaml:"items"`
}

// FeedItem is one title in the feed, keyed by a "type:value" identifier.
type FeedItem struct {
	Identifier  string               `yaml:"identifier"`
	Metadata    *book.EnrichmentData `yaml:"metadata"`
	Circulation *Circulation         `yaml:"circulation"`
}

// Circulation is the licensing part of a feed item.
type Circulation struct {
	LicensesOwned     int `yaml:"licenses_owned"`
	LicensesAvailable int `yaml:"licenses_available"`
}

// LoadFeed reads and indexes a feed file.
func LoadFeed(path string) (*FeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}

	var feed FeedFile
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", path, err)
	}
	if feed.Source == "" {
		feed.Source = DefaultFeedSource
	}
	for i, item := range feed.Items {
		if _, err := catalog.ParseIdentifier(item.Identifier); err != nil {
			return nil, fmt.Errorf("feed item %d: %w", i, err)
		}
	}
	return &feed, nil
}

// Feed applies a FeedFile to the catalog. It is authoritative for license
// data, so it is normally wrapped with coverage.NewBibliographic.
type Feed struct {
	source  string
	items   map[string]FeedItem
	catalog catalog.Catalog
}

var _ coverage.Processor = (*Feed)(nil)

// NewFeed indexes feed for processing against c.
func NewFeed(c catalog.Catalog, feed *FeedFile) *Feed {
	items := make(map[string]FeedItem, len(feed.Items))
	for _, item := range feed.Items {
		id, err := catalog.ParseIdentifier(item.Identifier)
		if err != nil {
			continue
		}
		items[id.Key()] = item
	}
	return &Feed{source: feed.Source, items: items, catalog: c}
}

// Source returns the feed's data source name.
func (p *Feed) Source() string {
	return p.source
}

// Config returns the bibliographic coverage configuration for the feed.
func (p *Feed) Config() coverage.Config {
	return coverage.BibliographicConfig(p.source, catalog.FeedID, catalog.ISBN)
}

// ProcessItem copies the feed's metadata and circulation for id into the
// catalog. Identifiers missing from the feed are retried on later passes.
func (p *Feed) ProcessItem(ctx context.Context, id catalog.Identifier) error {
	item, ok := p.items[id.Key()]
	if !ok || (item.Metadata == nil && item.Circulation == nil) {
		return coverage.TransientFailure(id, errNoFeedData)
	}

	if item.Metadata != nil {
		if err := p.applyMetadata(ctx, id, item.Metadata); err != nil {
			return coverage.TransientFailure(id, err)
		}
	}
	if item.Circulation != nil {
		if err := p.applyCirculation(ctx, id, item.Circulation); err != nil {
			return coverage.TransientFailure(id, err)
		}
	}
	return nil
}

func (p *Feed) applyMetadata(ctx context.Context, id catalog.Identifier, data *book.EnrichmentData) error {
	edition, err := p.catalog.Edition(ctx, id, p.source)
	if err != nil {
		return err
	}
	if edition == nil {
		edition = &catalog.Edition{IdentifierID: id.ID, DataSource: p.source}
	}
	edition.Apply(data)
	return p.catalog.SaveEdition(ctx, edition)
}

func (p *Feed) applyCirculation(ctx context.Context, id catalog.Identifier, c *Circulation) error {
	pool, err := catalog.FindOrCreateLicensePool(ctx, p.catalog, id, p.source, true)
	if err != nil {
		return err
	}
	pool.LicensesOwned = c.LicensesOwned
	pool.LicensesAvailable = c.LicensesAvailable
	return p.catalog.SaveLicensePool(ctx, pool)
}
