package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/catalogd/internal/cache"
	"github.com/lepinkainen/catalogd/internal/config"
)

func resetCmdState(t *testing.T) {
	t.Cleanup(func() {
		viper.Reset()
		_ = cache.ResetGlobalCache()
	})

	viper.Reset()
	require.NoError(t, cache.ResetGlobalCache())
	t.Setenv("ISBNDB_API_KEY", "")
	t.Setenv("CATALOGD_POSTGRES_DSN", "")
}

func parseCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()

	originalArgs := os.Args
	os.Args = append([]string{appName}, args...)
	t.Cleanup(func() { os.Args = originalArgs })

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name(appName),
		kong.Description(appDescription),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			t.Fatalf("unexpected Kong exit %d", code)
		}),
	)

	return cli, ctx
}

func TestUpdateGlobalConfig(t *testing.T) {
	resetCmdState(t)

	cli := &CLI{
		Driver:      "postgres",
		DB:          "/tmp/catalog.db",
		Metrics:     true,
		CacheDBFile: "/tmp/cache.db",
		CacheTTL:    "12h",
	}

	updateGlobalConfig(cli)

	assert.Equal(t, "postgres", viper.GetString("database.driver"))
	assert.Equal(t, "/tmp/catalog.db", viper.GetString("database.path"))
	assert.True(t, viper.GetBool("metrics.enabled"))
	assert.Equal(t, "/tmp/cache.db", viper.GetString("cache.dbfile"))
	assert.Equal(t, "12h", viper.GetString("cache.ttl"))
}

func TestUpdateGlobalConfigKeepsUnsetFlags(t *testing.T) {
	resetCmdState(t)
	config.InitConfig()
	viper.Set("database.path", "from-config.db")

	updateGlobalConfig(&CLI{})

	assert.Equal(t, "from-config.db", viper.GetString("database.path"))
	assert.Equal(t, config.DriverSQLite, viper.GetString("database.driver"))
	assert.False(t, viper.GetBool("metrics.enabled"))
	assert.Equal(t, "720h", viper.GetString("cache.ttl"))
}

func TestCommandParsing(t *testing.T) {
	resetCmdState(t)

	tests := []struct {
		name    string
		args    []string
		command string
		check   func(t *testing.T, cli *CLI)
	}{
		{
			name:    "import",
			args:    []string{"import", "-f", "root.go"},
			command: "import",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "root.go", filepath.Base(cli.Import.File))
			},
		},
		{
			name:    "run with globals",
			args:    []string{"--db", "x.db", "--driver", "sqlite", "-v", "run", "openlibrary"},
			command: "run <provider>",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "x.db", cli.DB)
				assert.Equal(t, "sqlite", cli.Driver)
				assert.True(t, cli.Verbose)
				assert.Equal(t, "openlibrary", cli.Run.Provider)
			},
		},
		{
			name: "ids",
			args: []string{"ids", "isbndb", "9780441013593", "Feed ID:dune"},
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "isbndb", cli.IDs.Provider)
				assert.Equal(t, []string{"9780441013593", "Feed ID:dune"}, cli.IDs.Identifiers)
			},
		},
		{
			name:    "ensure force",
			args:    []string{"ensure", "cover", "isbn:9780441013593", "--force"},
			command: "ensure <provider> <id>",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "cover", cli.Ensure.Provider)
				assert.Equal(t, "isbn:9780441013593", cli.Ensure.Identifier)
				assert.True(t, cli.Ensure.Force)
			},
		},
		{
			name:    "status without providers",
			args:    []string{"status"},
			command: "status",
			check: func(t *testing.T, cli *CLI) {
				assert.Empty(t, cli.Status.Providers)
			},
		},
		{
			name:    "cache invalidate",
			args:    []string{"cache", "invalidate", "googlebooks"},
			command: "cache invalidate <source>",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "googlebooks", cli.Cache.Invalidate.Source)
			},
		},
		{
			name:    "cache prune",
			args:    []string{"--cache-db-file", "c.db", "cache", "prune"},
			command: "cache prune",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "c.db", cli.CacheDBFile)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, ctx := parseCLI(t, tt.args...)
			if tt.command != "" {
				assert.Equal(t, tt.command, ctx.Command())
			}
			tt.check(t, cli)
		})
	}
}

func TestInitConfigWritesDefaultConfig(t *testing.T) {
	resetCmdState(t)
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, initConfig())

	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.Equal(t, config.DriverSQLite, viper.GetString("database.driver"))
	assert.Equal(t, "catalogd.db", viper.GetString("database.path"))
	assert.Equal(t, "720h", viper.GetString("cache.ttl"))
}

func TestInitConfigReadsConfigFile(t *testing.T) {
	resetCmdState(t)
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("config.yaml", []byte("mirror:\n  max_width: 120\n"), 0o644))

	require.NoError(t, initConfig())

	assert.Equal(t, 120, viper.GetInt("mirror.max_width"))
}

func TestEnvironmentVariableBinding(t *testing.T) {
	resetCmdState(t)
	t.Chdir(t.TempDir())

	t.Setenv("ISBNDB_API_KEY", "test-api-key")
	t.Setenv("GOOGLE_BOOKS_API_KEY", "google-key")
	t.Setenv("CATALOGD_POSTGRES_DSN", "postgres://localhost/catalogd")

	require.NoError(t, initConfig())

	assert.Equal(t, "test-api-key", viper.GetString("isbndb.api_key"))
	assert.Equal(t, "google-key", viper.GetString("googlebooks.api_key"))
	assert.Equal(t, "postgres://localhost/catalogd", viper.GetString("database.dsn"))
}

func TestInitLogging(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	for _, verbose := range []bool{false, true} {
		require.NotPanics(t, func() {
			initLogging(verbose)
		})
	}
}
