// Package report turns stored usage entries into day, month and all-time
// reports, written as JSON files and optionally pushed to sinks.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/natefinch/atomic"

	"github.com/jgoulah/bwusage/pkg/models"
)

// DateLayout is how the date field is written in report files. The web
// front-end reads it with new Date(...), so it must not change.
const DateLayout = "Jan 2, 2006 3:04:05 PM"

// Reader is the query side of the usage store. Errors are expected to be
// returned, not swallowed; List applies the read-path policy itself.
type Reader interface {
	All(ctx context.Context) ([]models.Entry, error)
	Range(ctx context.Context, from, to time.Time) ([]models.Entry, error)
}

// Sink receives every written report
type Sink interface {
	Publish(ctx context.Context, name string, payload []byte) error
}

// Generator builds reports
type Generator struct {
	reader Reader
	dir    string
	loc    *time.Location
	sinks  []Sink
	logger *slog.Logger
}

// NewGenerator creates a generator writing into dir
func NewGenerator(reader Reader, dir string, loc *time.Location, logger *slog.Logger, sinks ...Sink) *Generator {
	if loc == nil {
		loc = time.Local
	}
	return &Generator{
		reader: reader,
		dir:    dir,
		loc:    loc,
		sinks:  sinks,
		logger: logger,
	}
}

// Dir returns the report directory
func (g *Generator) Dir() string { return g.dir }

// Path returns the file a window is written to
func (g *Generator) Path(w Window) string {
	return filepath.Join(g.dir, w.Name+".json")
}

// Generate writes the report of kind for now. For month reports, when lastRun
// lies in a different calendar month than now, the report for lastRun's
// month is written as well so a month that just ended gets its final report.
// It returns the windows that were written.
func (g *Generator) Generate(ctx context.Context, kind models.ReportKind, now, lastRun time.Time) ([]Window, error) {
	now = now.In(g.loc)

	windows := []Window{WindowFor(kind, now)}
	if kind == models.ReportMonth && !lastRun.IsZero() && !SameMonth(now, lastRun.In(g.loc)) {
		windows = append(windows, WindowFor(models.ReportMonth, lastRun.In(g.loc)))
	}

	for _, w := range windows {
		if err := g.write(ctx, w); err != nil {
			return nil, err
		}
	}
	return windows, nil
}

// Entries queries the store for a window; failures are returned
func (g *Generator) Entries(ctx context.Context, w Window) ([]models.Entry, error) {
	if w.Unbounded() {
		return g.reader.All(ctx)
	}
	return g.reader.Range(ctx, w.From, w.To)
}

// List returns the entries of kind for now without writing anything. A query
// failure is logged and yields an empty list.
func (g *Generator) List(ctx context.Context, kind models.ReportKind, now time.Time) []models.Entry {
	w := WindowFor(kind, now.In(g.loc))
	entries, err := g.Entries(ctx, w)
	if err != nil {
		g.logger.Warn("listing report failed", "report", w.Name, "err", err)
		return []models.Entry{}
	}
	if entries == nil {
		return []models.Entry{}
	}
	return entries
}

// Render encodes entries in the report file format
func (g *Generator) Render(entries []models.Entry) ([]byte, error) {
	type row struct {
		Date     string `json:"date"`
		Upload   string `json:"upload"`
		Download string `json:"download"`
	}

	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, row{
			Date:     e.Date.In(g.loc).Format(DateLayout),
			Upload:   e.Upload,
			Download: e.Download,
		})
	}
	return json.Marshal(rows)
}

func (g *Generator) write(ctx context.Context, w Window) error {
	entries, err := g.Entries(ctx, w)
	if err != nil {
		return fmt.Errorf("querying %s report: %w", w.Name, err)
	}

	data, err := g.Render(entries)
	if err != nil {
		return fmt.Errorf("encoding %s report: %w", w.Name, err)
	}

	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	path := g.Path(w)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	for _, s := range g.sinks {
		if err := s.Publish(ctx, w.Name, data); err != nil {
			return fmt.Errorf("publishing %s report: %w", w.Name, err)
		}
	}

	g.logger.Debug("report written", "report", w.Name, "entries", len(entries), "path", path)
	return nil
}

// Publish renders the report of kind for now and hands it to the sinks only
func (g *Generator) Publish(ctx context.Context, kind models.ReportKind, now time.Time) (Window, error) {
	w := WindowFor(kind, now.In(g.loc))
	entries, err := g.Entries(ctx, w)
	if err != nil {
		return w, fmt.Errorf("querying %s report: %w", w.Name, err)
	}
	data, err := g.Render(entries)
	if err != nil {
		return w, fmt.Errorf("encoding %s report: %w", w.Name, err)
	}
	for _, s := range g.sinks {
		if err := s.Publish(ctx, w.Name, data); err != nil {
			return w, fmt.Errorf("publishing %s report: %w", w.Name, err)
		}
	}
	return w, nil
}
