package testutil

import (
	"testing"

	"github.com/spf13/viper"
)

// ResetConfig resets viper now and again when the test completes.
func ResetConfig(t *testing.T) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
}

// SetViperValue sets a viper configuration value and restores the previous
// value when the test completes.
func SetViperValue(t *testing.T, key string, value any) {
	t.Helper()

	oldValue := viper.Get(key)
	hadValue := viper.IsSet(key)

	viper.Set(key, value)

	t.Cleanup(func() {
		// viper has no Unset, so a previously unset key keeps the test value
		if hadValue {
			viper.Set(key, oldValue)
		}
	})
}

// SetupTestCache points the source cache at a database inside env and
// returns the cache directory.
func SetupTestCache(t *testing.T, env *TestEnv) string {
	t.Helper()

	env.MkdirAll("cache")
	viper.Set("cache.dbfile", env.Path("cache", "test-cache.db"))
	viper.Set("cache.ttl", "24h")

	return env.Path("cache")
}
