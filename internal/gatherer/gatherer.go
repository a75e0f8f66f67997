// Package gatherer pulls the raw usage document from the portal, turns it
// into entries and persists them.
package gatherer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/jgoulah/bwusage/internal/scraper"
	"github.com/jgoulah/bwusage/pkg/models"
)

// EntryWriter is the write side of the usage store
type EntryWriter interface {
	UpsertAll(ctx context.Context, entries []models.Entry) error
}

// HistoryWriter is the write side of the historical store
type HistoryWriter interface {
	Insert(ctx context.Context, h models.HistoricalEntry) (bool, error)
}

// Result summarizes one gather cycle
type Result struct {
	CapturedAt time.Time
	Entries    int
	Historical int
}

// Gatherer runs fetch, parse and persist as one cycle
type Gatherer struct {
	fetcher scraper.Fetcher
	parser  scraper.Parser
	entries EntryWriter
	history HistoryWriter
	clock   quartz.Clock
	loc     *time.Location
	logger  *slog.Logger

	// held for a whole cycle so two fetch+persist sequences never interleave
	mu sync.Mutex
}

// Option configures a Gatherer
type Option func(*Gatherer)

// WithClock overrides the clock used to stamp captures
func WithClock(c quartz.Clock) Option {
	return func(g *Gatherer) { g.clock = c }
}

// WithLocation sets the calendar used for the same-day check
func WithLocation(loc *time.Location) Option {
	return func(g *Gatherer) { g.loc = loc }
}

// New creates a Gatherer
func New(fetcher scraper.Fetcher, parser scraper.Parser, entries EntryWriter, history HistoryWriter, logger *slog.Logger, opts ...Option) *Gatherer {
	g := &Gatherer{
		fetcher: fetcher,
		parser:  parser,
		entries: entries,
		history: history,
		clock:   quartz.NewReal(),
		loc:     time.Local,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DownloadData runs one gather cycle. Any fetch, parse or store failure is
// returned; the raw payload, when one was received, is logged at debug level.
func (g *Gatherer) DownloadData(ctx context.Context) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now("gatherer", "capture").In(g.loc)
	res := Result{CapturedAt: now}

	payload, err := g.fetcher.Fetch(ctx)
	if err != nil {
		return res, fmt.Errorf("fetching usage data: %w", err)
	}

	res, err = g.persist(ctx, now, payload)
	if err != nil {
		g.logger.Debug("raw payload of failed gather", "payload", string(payload))
		return res, err
	}

	g.logger.Info("gather complete", "entries", res.Entries, "historical", res.Historical)
	return res, nil
}

func (g *Gatherer) persist(ctx context.Context, now time.Time, payload []byte) (Result, error) {
	res := Result{CapturedAt: now}

	entries, err := g.parser.Parse(payload)
	if err != nil {
		return res, fmt.Errorf("parsing usage data: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}

	if err := g.entries.UpsertAll(ctx, entries); err != nil {
		return res, fmt.Errorf("storing entries: %w", err)
	}
	res.Entries = len(entries)

	for _, e := range entries {
		if !sameDay(now, e.Date.In(g.loc)) {
			continue
		}
		// append-only: a duplicate today entry shares the capture key and is dropped
		inserted, err := g.history.Insert(ctx, models.HistoricalEntry{
			CapturedAt: now,
			Upload:     e.Upload,
			Download:   e.Download,
		})
		if err != nil {
			return res, fmt.Errorf("storing historical entry: %w", err)
		}
		if inserted {
			res.Historical++
		} else {
			g.logger.Warn("historical capture already stored", "captured_at", now)
		}
	}

	return res, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
