package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lepinkainen/catalogd/internal/datastore"
)

// StatusCmd represents the status command
type StatusCmd struct {
	Providers []string `arg:"" optional:"" name:"provider" help:"Providers to show (default: all that can be built)"`
}

type statusRow struct {
	Name        string
	Source      string
	Operation   string
	Identifiers int
	Covered     int
	Failed      int
	Pending     int
	LastPass    time.Time
}

var statusHeader = []string{"PROVIDER", "SOURCE", "OPERATION", "IDENTIFIERS", "COVERED", "FAILED", "PENDING", "LAST PASS"}

func (c *StatusCmd) Run(app *App) error {
	names := c.Providers
	explicit := len(names) > 0
	if !explicit {
		names = providerNames()
	}

	store, err := app.Store()
	if err != nil {
		return err
	}
	counts, err := store.RecordCounts(app.ctx)
	if err != nil {
		return err
	}
	watermarks, err := store.Watermarks(app.ctx)
	if err != nil {
		return err
	}

	rows := make([]statusRow, 0, len(names))
	for _, name := range names {
		engine, err := app.engine(name)
		if err != nil {
			if explicit {
				return err
			}
			slog.Debug("Skipping provider", "provider", name, "error", err)
			continue
		}
		cfg := engine.Config()

		row := statusRow{Name: name, Source: cfg.Provider, Operation: cfg.Operation}
		if row.Identifiers, err = store.CountIdentifiers(app.ctx, cfg.IdentifierTypes...); err != nil {
			return err
		}
		if row.Pending, err = engine.CountNeedingCoverage(app.ctx); err != nil {
			return err
		}
		for _, rc := range counts {
			if rc.Provider == cfg.Provider && rc.Operation == cfg.Operation {
				row.Covered, row.Failed = rc.Successes, rc.Failures
			}
		}
		row.LastPass = lastPass(watermarks, cfg.ServiceName)
		rows = append(rows, row)
	}

	return renderStatus(app.out, rows)
}

func lastPass(watermarks []datastore.Watermark, service string) time.Time {
	for _, w := range watermarks {
		if w.Service == service {
			return w.Timestamp
		}
	}
	return time.Time{}
}

func (r statusRow) cells() []string {
	last := "never"
	if !r.LastPass.IsZero() {
		last = r.LastPass.Format("2006-01-02 15:04")
	}
	op := r.Operation
	if op == "" {
		op = "-"
	}
	return []string{
		r.Name,
		r.Source,
		op,
		strconv.Itoa(r.Identifiers),
		strconv.Itoa(r.Covered),
		strconv.Itoa(r.Failed),
		strconv.Itoa(r.Pending),
		last,
	}
}

func renderStatus(w io.Writer, rows []statusRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No providers available")
		return err
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, r.cells())
	}

	widths := make([]int, len(statusHeader))
	for i, h := range statusHeader {
		widths[i] = lipgloss.Width(h)
	}
	for _, cells := range table {
		for i, cell := range cells {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110"))
	cellStyle := lipgloss.NewStyle()
	failedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("178"))

	var b strings.Builder
	b.WriteString(renderLine(statusHeader, widths, func(int) lipgloss.Style { return headerStyle }))
	for i, cells := range table {
		failed := rows[i].Failed > 0
		b.WriteString(renderLine(cells, widths, func(col int) lipgloss.Style {
			if failed && col == 5 {
				return failedStyle
			}
			return cellStyle
		}))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderLine(cells []string, widths []int, style func(col int) lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		s := style(i).Copy().Width(widths[i])
		if i >= 3 && i <= 6 {
			s = s.Align(lipgloss.Right)
		}
		parts[i] = s.Render(cell)
	}
	return strings.Join(parts, "  ") + "\n"
}
