package cmd

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/lepinkainen/catalogd/internal/config"
	"github.com/lepinkainen/catalogd/internal/coverage"
	"github.com/lepinkainen/catalogd/internal/datastore"
	"github.com/lepinkainen/catalogd/internal/enrichment/book"
	"github.com/lepinkainen/catalogd/internal/enrichment/enrichers"
	"github.com/lepinkainen/catalogd/internal/mirror"
	"github.com/lepinkainen/catalogd/internal/providers"
)

// processorFactory builds a provider's processor and its coverage settings.
type processorFactory func(a *App, store datastore.Store, pc config.ProviderConfig) (coverage.Processor, coverage.Config, error)

// enricherFactories are the metadata sources, each covered by a Metadata
// processor under the same provider name.
var enricherFactories = map[string]func(...enrichers.Option) (book.Enricher, error){
	"openlibrary": func(opts ...enrichers.Option) (book.Enricher, error) {
		return enrichers.NewOpenLibraryEnricher(opts...), nil
	},
	"googlebooks": func(opts ...enrichers.Option) (book.Enricher, error) {
		return enrichers.NewGoogleBooksEnricher(opts...), nil
	},
	"isbndb": func(opts ...enrichers.Option) (book.Enricher, error) {
		e := enrichers.NewISBNdbEnricher(opts...)
		if !e.HasAPIKey() {
			return nil, fmt.Errorf("%w (set ISBNDB_API_KEY)", enrichers.ErrMissingAPIKey)
		}
		return e, nil
	},
}

var providerFactories = map[string]processorFactory{
	"cover": coverProvider,
	"feed":  feedProvider,
}

func init() {
	for name, newEnricher := range enricherFactories {
		providerFactories[name] = metadataProvider(newEnricher)
	}
}

func providerNames() []string {
	return sortedKeys(providerFactories)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func metadataProvider(newEnricher func(...enrichers.Option) (book.Enricher, error)) processorFactory {
	return func(a *App, store datastore.Store, pc config.ProviderConfig) (coverage.Processor, coverage.Config, error) {
		e, err := newEnricher(enricherOptions(a, pc)...)
		if err != nil {
			return nil, coverage.Config{}, err
		}
		p := providers.NewMetadata(e, store)
		return p, p.Config(), nil
	}
}

func enricherOptions(a *App, pc config.ProviderConfig) []enrichers.Option {
	var opts []enrichers.Option
	if a.client != nil {
		opts = append(opts, enrichers.WithHTTPClient(a.client))
	}
	if pc.BaseURL != "" {
		opts = append(opts, enrichers.WithBaseURL(pc.BaseURL))
	}
	if pc.RateLimit > 0 {
		opts = append(opts, enrichers.WithRateLimit(pc.RateLimit))
	}
	return opts
}

// coverProvider mirrors the covers referenced by OpenLibrary editions.
func coverProvider(a *App, store datastore.Store, _ config.ProviderConfig) (coverage.Processor, coverage.Config, error) {
	source := enrichers.NewOpenLibraryEnricher().Name()
	m := mirror.New(a.cfg.Mirror.Dir, a.cfg.Mirror.MaxWidth)
	p := providers.NewCover(store, m, source, a.client)
	return p, p.Config(), nil
}

func feedProvider(a *App, store datastore.Store, _ config.ProviderConfig) (coverage.Processor, coverage.Config, error) {
	if a.cfg.Feed.File == "" {
		return nil, coverage.Config{}, fmt.Errorf("no feed file configured (set feed.file)")
	}
	feed, err := providers.LoadFeed(a.cfg.Feed.File)
	if err != nil {
		return nil, coverage.Config{}, err
	}
	p := providers.NewFeed(store, feed)
	return coverage.NewBibliographic(p, store, p.Source()), p.Config(), nil
}

// engine builds the coverage engine for the named provider, applying the
// provider's configured overrides.
func (a *App) engine(name string) (*coverage.Engine, error) {
	factory, ok := providerFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider '%s'; valid providers are: %s", name, strings.Join(providerNames(), ", "))
	}

	store, err := a.Store()
	if err != nil {
		return nil, err
	}

	pc := a.cfg.Provider(name)
	processor, cfg, err := factory(a, store, pc)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}

	if pc.WorksetSize > 0 {
		cfg.WorksetSize = pc.WorksetSize
	}
	if pc.Concurrency > 0 {
		cfg.Concurrency = pc.Concurrency
	}
	if pc.Operation != "" {
		cfg.Operation = pc.Operation
	}
	cfg.CutoffTime = pc.Cutoff(a.now())

	opts := []coverage.Option{
		coverage.WithLogger(slog.Default()),
		coverage.WithClock(a.now),
	}
	m, err := a.Metrics()
	if err != nil {
		return nil, err
	}
	if m != nil {
		opts = append(opts, coverage.WithMetrics(m))
	}

	return coverage.New(store, processor, cfg, opts...)
}
