package cache

import "fmt"

// Source names accepted by the invalidate command, mapped to their tables.
var Sources = map[string]string{
	"openlibrary": "openlibrary_cache",
	"googlebooks": "googlebooks_cache",
	"isbndb":      "isbndb_cache",
}

// ValidCacheTableNames is the whitelist of allowed cache table names.
// Table names are interpolated into SQL, so nothing else may be used.
var ValidCacheTableNames = map[string]bool{
	"openlibrary_cache": true,
	"googlebooks_cache": true,
	"isbndb_cache":      true,
}

// tableSchema returns the DDL for one cache table. Timestamps are unix
// milliseconds so expiry comparisons stay integer comparisons.
func tableSchema(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_expires_at ON %[1]s(expires_at);
`, table)
}

func validateTableName(tableName string) error {
	if !ValidCacheTableNames[tableName] {
		return fmt.Errorf("invalid cache table name: %s", tableName)
	}
	return nil
}
