package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/coverage"
	"github.com/lepinkainen/catalogd/internal/importer"
)

// ImportCmd represents the import command
type ImportCmd struct {
	File string `short:"f" help:"CSV (type,identifier) or YAML seed file" required:"" type:"existingfile"`
}

// RunCmd represents the run command
type RunCmd struct {
	Provider string `arg:"" help:"Provider to run"`
}

// IDsCmd represents the ids command
type IDsCmd struct {
	Provider    string   `arg:"" help:"Provider to run"`
	Identifiers []string `arg:"" name:"id" help:"Identifiers as type:value; a bare value is an ISBN"`
}

// EnsureCmd represents the ensure command
type EnsureCmd struct {
	Provider   string `arg:"" help:"Provider to run"`
	Identifier string `arg:"" name:"id" help:"Identifier as type:value; a bare value is an ISBN"`
	Force      bool   `help:"Process the identifier even if it is already covered"`
}

func (c *ImportCmd) Run(app *App) error {
	ids, err := importer.LoadFile(c.File)
	if err != nil {
		return err
	}

	store, err := app.Store()
	if err != nil {
		return err
	}

	saved, err := importer.Import(app.ctx, store, ids)
	slog.Info("Imported identifiers", "file", c.File, "read", len(ids), "imported", len(saved))
	return err
}

func (c *RunCmd) Run(app *App) error {
	engine, err := app.engine(c.Provider)
	if err != nil {
		return err
	}

	summary, err := engine.Run(app.ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(app.out, "%s: %d passes, %s (%d ignored) in %s\n",
		engine.Config().ServiceName, summary.Passes, formatCounts(summary.Counts), summary.Ignored, summary.Duration.Round(time.Millisecond))
	return err
}

func (c *IDsCmd) Run(app *App) error {
	engine, err := app.engine(c.Provider)
	if err != nil {
		return err
	}
	ids, err := registerIdentifiers(app, c.Identifiers...)
	if err != nil {
		return err
	}

	result, err := engine.RunOnIdentifiers(app.ctx, ids)
	if err != nil {
		return err
	}

	for _, o := range result.Outcomes {
		if _, err := fmt.Fprintf(app.out, "%s\t%s%s\n", o.Identifier, o.Status(), failureSuffix(o.Failure)); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(app.out, "%s\n", formatCounts(result.Counts))
	return err
}

func (c *EnsureCmd) Run(app *App) error {
	engine, err := app.engine(c.Provider)
	if err != nil {
		return err
	}
	ids, err := registerIdentifiers(app, c.Identifier)
	if err != nil {
		return err
	}

	record, err := engine.EnsureCoverage(app.ctx, ids[0], c.Force)
	if err != nil {
		return err
	}

	switch {
	case record == nil:
		_, err = fmt.Fprintf(app.out, "%s\tnot covered, will be retried\n", ids[0])
	case record.Failed():
		_, err = fmt.Fprintf(app.out, "%s\tfailed at %s: %s\n", ids[0], record.Timestamp.Format("2006-01-02 15:04"), record.Exception)
	default:
		_, err = fmt.Fprintf(app.out, "%s\tcovered at %s\n", ids[0], record.Timestamp.Format("2006-01-02 15:04"))
	}
	return err
}

// registerIdentifiers parses raw identifiers and adds them to the catalog
// so they carry row ids.
func registerIdentifiers(app *App, raw ...string) ([]catalog.Identifier, error) {
	parsed := make([]catalog.Identifier, 0, len(raw))
	for _, r := range raw {
		id, err := catalog.ParseIdentifier(r)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, id)
	}

	store, err := app.Store()
	if err != nil {
		return nil, err
	}
	return importer.Import(app.ctx, store, parsed)
}

func formatCounts(c coverage.Counts) string {
	return fmt.Sprintf("%d succeeded, %d transient, %d permanent", c.Successes, c.Transient, c.Permanent)
}

func failureSuffix(f *coverage.Failure) string {
	if f == nil {
		return ""
	}
	return "\t" + f.Exception
}

// PingCmd represents the ping command
type PingCmd struct {
	Sources []string      `arg:"" optional:"" name:"source" help:"Metadata sources to check (default: all)"`
	Timeout time.Duration `help:"Timeout per source" default:"10s"`
}

func (c *PingCmd) Run(app *App) error {
	names := c.Sources
	if len(names) == 0 {
		names = sortedKeys(enricherFactories)
	}

	failed := 0
	for _, name := range names {
		status := "ok"
		if err := pingSource(app, name, c.Timeout); err != nil {
			status = err.Error()
			failed++
		}
		if _, err := fmt.Fprintf(app.out, "%s\t%s\n", name, status); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources unreachable", failed, len(names))
	}
	return nil
}

func pingSource(app *App, name string, timeout time.Duration) error {
	newEnricher, ok := enricherFactories[name]
	if !ok {
		return fmt.Errorf("unknown source; valid sources are: %s", strings.Join(sortedKeys(enricherFactories), ", "))
	}
	e, err := newEnricher(enricherOptions(app, app.cfg.Provider(name))...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(app.ctx, timeout)
	defer cancel()
	return e.Ping(ctx)
}
