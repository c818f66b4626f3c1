package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/catalogd/internal/testutil"
)

func TestLoad_Defaults(t *testing.T) {
	testutil.ResetConfig(t)
	InitConfig()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "catalogd.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, 720*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 300, cfg.Mirror.MaxWidth)
	assert.Equal(t, "feed.yaml", cfg.Feed.File)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ProviderConfig{}, cfg.Provider("openlibrary"))
}

func TestLoad_FromYAML(t *testing.T) {
	testutil.ResetConfig(t)
	InitConfig()

	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader(`
database:
  driver: postgres
  dsn: postgres://localhost/catalogd
providers:
  openlibrary:
    workset_size: 25
    concurrency: 4
    max_age: 168h
    rate_limit: 1.5
    base_url: http://localhost:8080
    operation: editions
`)))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)

	ol := cfg.Provider("openlibrary")
	assert.Equal(t, 25, ol.WorksetSize)
	assert.Equal(t, 4, ol.Concurrency)
	assert.Equal(t, 168*time.Hour, ol.MaxAge)
	assert.InDelta(t, 1.5, ol.RateLimit, 0.001)
	assert.Equal(t, "http://localhost:8080", ol.BaseURL)
	assert.Equal(t, "editions", ol.Operation)
	assert.Empty(t, cfg.Provider("googlebooks").Operation)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{name: "unknown driver", key: "database.driver", val: "mysql"},
		{name: "postgres without dsn", key: "database.driver", val: DriverPostgres},
		{name: "non-positive cache ttl", key: "cache.ttl", val: "0s"},
		{name: "tiny thumbnails", key: "mirror.max_width", val: 4},
		{name: "negative workset", key: "providers.isbndb.workset_size", val: -1},
		{name: "bad base url", key: "providers.openlibrary.base_url", val: "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.ResetConfig(t)
			InitConfig()
			viper.Set(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProviderConfig_Cutoff(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, ProviderConfig{}.Cutoff(now).IsZero())
	assert.Equal(t, now.Add(-24*time.Hour), ProviderConfig{MaxAge: 24 * time.Hour}.Cutoff(now))
}
