package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lepinkainen/catalogd/internal/cache"
	"github.com/lepinkainen/catalogd/internal/config"
	"github.com/lepinkainen/catalogd/internal/coverage"
	"github.com/lepinkainen/catalogd/internal/datastore"
	"github.com/lepinkainen/catalogd/internal/datastore/postgres"
	"github.com/lepinkainen/catalogd/internal/metrics"
)

var openStore = func(ctx context.Context, cfg config.DatabaseConfig) (datastore.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN, cfg.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := datastore.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// App carries the resources shared by every command. The store and the
// metrics exporter are opened on first use.
type App struct {
	ctx    context.Context
	cfg    *config.Config
	out    io.Writer
	client *http.Client
	now    func() time.Time

	store           datastore.Store
	metrics         coverage.Metrics
	shutdownMetrics func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) *App {
	return &App{
		ctx: ctx,
		cfg: cfg,
		out: os.Stdout,
		now: time.Now,
	}
}

// Store opens the configured catalog store.
func (a *App) Store() (datastore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	slog.Debug("Opening catalog", "driver", a.cfg.Database.Driver)
	s, err := openStore(a.ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s catalog: %w", a.cfg.Database.Driver, err)
	}
	a.store = s
	return s, nil
}

// Metrics returns the engine metrics sink. Without --metrics nothing is
// exported.
func (a *App) Metrics() (coverage.Metrics, error) {
	if a.metrics != nil || !a.cfg.Metrics.Enabled {
		return a.metrics, nil
	}

	mp, shutdown, err := metrics.Setup(a.ctx, os.Stderr, a.cfg.Metrics.Interval)
	if err != nil {
		return nil, err
	}
	m, err := metrics.New(mp)
	if err != nil {
		return nil, errors.Join(err, shutdown(context.Background()))
	}
	a.metrics = m
	a.shutdownMetrics = shutdown
	return m, nil
}

// Close flushes metrics and closes the store and the response cache.
func (a *App) Close() error {
	var errs []error
	if a.shutdownMetrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdownMetrics(ctx))
		cancel()
		a.shutdownMetrics = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	errs = append(errs, cache.ResetGlobalCache())
	return errors.Join(errs...)
}
