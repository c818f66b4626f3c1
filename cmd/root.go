package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/catalogd/internal/cache"
	"github.com/lepinkainen/catalogd/internal/config"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"
)

const (
	appName        = "catalogd"
	appDescription = "Keep a book catalog covered by metadata, cover and availability providers."
)

// CLI represents the complete command structure for the catalogd application
type CLI struct {
	// Global flags
	Verbose bool   `short:"v" help:"Enable debug logging"`
	Driver  string `help:"Catalog database driver: sqlite or postgres"`
	DB      string `name:"db" help:"Path to the SQLite catalog database"`
	Metrics bool   `help:"Write coverage metrics to stderr"`

	// Cache flags
	CacheDBFile string `help:"Path to cache SQLite database file"`
	CacheTTL    string `help:"Cache time-to-live duration (e.g., 720h for 30 days)"`

	Import ImportCmd `cmd:"" help:"Add identifiers to the catalog from a CSV or YAML file"`
	Run    RunCmd    `cmd:"" help:"Run a provider until every identifier is covered"`
	IDs    IDsCmd    `cmd:"" name:"ids" help:"Run a provider over explicit identifiers"`
	Ensure EnsureCmd `cmd:"" help:"Make sure one identifier is covered by a provider"`
	Status StatusCmd `cmd:"" help:"Show coverage per provider"`
	Ping   PingCmd   `cmd:"" help:"Check that metadata sources are reachable"`
	Cache  CacheCmd  `cmd:"" help:"Manage the provider response cache"`
}

// CacheCmd groups the cache maintenance subcommands.
type CacheCmd struct {
	Invalidate cache.InvalidateCacheCmd `cmd:"" help:"Clear every cached response of one source"`
	Prune      cache.PruneCacheCmd      `cmd:"" help:"Remove expired responses from every source"`
}

// Execute runs the Kong-based CLI
func Execute() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name(appName),
		kong.Description(appDescription),
		kong.UsageOnError(),
	)

	initLogging(cli.Verbose)

	if err := initConfig(); err != nil {
		slog.Error("Fatal error config file", "error", err)
		os.Exit(1)
	}
	updateGlobalConfig(&cli)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(ctx, cfg)
	err = kctx.Run(app)
	if closeErr := app.Close(); closeErr != nil {
		slog.Warn("Failed to close resources", "error", closeErr)
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// initConfig registers defaults, binds environment variables and reads
// config.yaml from the working directory, writing one when it is missing.
func initConfig() error {
	config.InitConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		slog.Info("Config file not found, writing default config file")
		if err := viper.SafeWriteConfig(); err != nil {
			slog.Warn("Error writing config file", "error", err)
		}
	}

	// Bound after the default file is written so secrets never end up in it.
	viper.AutomaticEnv()
	bindings := map[string]string{
		"isbndb.api_key":      "ISBNDB_API_KEY",
		"googlebooks.api_key": "GOOGLE_BOOKS_API_KEY",
		"database.dsn":        "CATALOGD_POSTGRES_DSN",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// updateGlobalConfig lets flags that were given override viper settings.
func updateGlobalConfig(cli *CLI) {
	if cli.Driver != "" {
		viper.Set("database.driver", cli.Driver)
	}
	if cli.DB != "" {
		viper.Set("database.path", cli.DB)
	}
	if cli.Metrics {
		viper.Set("metrics.enabled", true)
	}
	if cli.CacheDBFile != "" {
		viper.Set("cache.dbfile", cli.CacheDBFile)
	}
	if cli.CacheTTL != "" {
		viper.Set("cache.ttl", cli.CacheTTL)
	}
}

func initLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
