package cache

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// InvalidateCacheCmd represents the cache invalidate subcommand
type InvalidateCacheCmd struct {
	Source string `arg:"" help:"Cache source to invalidate: openlibrary, googlebooks, isbndb" required:""`
}

func (i *InvalidateCacheCmd) Run() error {
	tableName, ok := Sources[i.Source]
	if !ok {
		valid := make([]string, 0, len(Sources))
		for name := range Sources {
			valid = append(valid, name)
		}
		slices.Sort(valid)
		return fmt.Errorf("invalid cache source '%s'; valid sources are: %s", i.Source, strings.Join(valid, ", "))
	}

	slog.Info("Invalidating cache", "source", i.Source, "database", viper.GetString("cache.dbfile"))

	cacheInstance, err := GetGlobalCache()
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}

	rowsDeleted, err := cacheInstance.InvalidateSource(tableName)
	if err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	slog.Info("Cache invalidated", "source", i.Source, "rows_deleted", rowsDeleted)
	return nil
}

// PruneCacheCmd removes expired entries from every cache table.
type PruneCacheCmd struct{}

func (p *PruneCacheCmd) Run() error {
	cacheInstance, err := GetGlobalCache()
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}

	names := make([]string, 0, len(Sources))
	for name := range Sources {
		names = append(names, name)
	}
	slices.Sort(names)

	var total int64
	for _, name := range names {
		rows, err := cacheInstance.ClearExpired(Sources[name])
		if err != nil {
			return fmt.Errorf("failed to prune %s cache: %w", name, err)
		}
		slog.Debug("Pruned cache source", "source", name, "rows_deleted", rows)
		total += rows
	}

	slog.Info("Expired cache entries removed", "rows_deleted", total)
	return nil
}
