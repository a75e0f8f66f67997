// Package app assembles a bwusage process from its configuration
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/bwusage/internal/breaker"
	"github.com/jgoulah/bwusage/internal/config"
	"github.com/jgoulah/bwusage/internal/control"
	"github.com/jgoulah/bwusage/internal/database"
	"github.com/jgoulah/bwusage/internal/gatherer"
	"github.com/jgoulah/bwusage/internal/publisher"
	"github.com/jgoulah/bwusage/internal/report"
	"github.com/jgoulah/bwusage/internal/scheduler"
	"github.com/jgoulah/bwusage/internal/scraper"
	"github.com/jgoulah/bwusage/pkg/models"
)

// App holds every long-lived component
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  quartz.Clock
	loc    *time.Location

	db        *database.DB
	Entries   *database.EntryStore
	History   *database.HistoryStore
	Gatherer  *gatherer.Gatherer
	Generator *report.Generator
	Scheduler *scheduler.Scheduler
	Registry  *prometheus.Registry

	publisher *publisher.Publisher
}

// Option configures an App
type Option func(*options)

type options struct {
	clock   quartz.Clock
	fetcher scraper.Fetcher
}

// WithClock replaces the real clock
func WithClock(c quartz.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithFetcher replaces the configured portal fetcher
func WithFetcher(f scraper.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New opens the store and builds the components. A store that cannot be
// opened is fatal. Jobs are registered but not started.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, err
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher, err = scraper.NewFetcher(cfg)
		if err != nil {
			return nil, fmt.Errorf("configuring portal: %w", err)
		}
	}

	db, err := database.New(cfg.GetDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    o.clock,
		loc:      loc,
		db:       db,
		Entries:  database.NewEntryStore(db, loc, logger),
		History:  database.NewHistoryStore(db, loc, logger),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.Gatherer = gatherer.New(fetcher, scraper.AutoParser{Location: loc}, a.Entries, a.History, logger,
		gatherer.WithClock(o.clock), gatherer.WithLocation(loc))

	var sinks []report.Sink
	if cfg.MQTT.Enabled {
		a.publisher, err = publisher.New(cfg, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sinks = append(sinks, a.publisher)
	}

	dir := cfg.GetReportDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		a.Close()
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	a.Generator = report.NewGenerator(a.Entries, dir, loc, logger, sinks...)

	a.Scheduler = scheduler.New(logger, scheduler.WithClock(o.clock), scheduler.WithRegisterer(a.Registry))
	if err := a.registerJobs(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) registerJobs() error {
	gatherBreaker := breaker.New("gather", a.cfg.GetGatherMaxErrorCount(), a.logger)
	err := a.Scheduler.Add(control.GatherJob, a.cfg.GetGatherDelay(), a.cfg.GetGatherPeriod(), gatherBreaker,
		func(ctx context.Context, _ time.Time, _ *scheduler.JobState) error {
			_, err := a.Gatherer.DownloadData(ctx)
			return err
		})
	if err != nil {
		return err
	}

	// the three report kinds count failures together
	reportBreaker := breaker.New("report", a.cfg.GetReportMaxErrorCount(), a.logger)
	for _, kind := range models.ReportKinds {
		err := a.Scheduler.Add(control.ReportJob(kind), a.cfg.GetReportDelay(), a.cfg.GetReportPeriod(string(kind)), reportBreaker,
			func(ctx context.Context, now time.Time, st *scheduler.JobState) error {
				_, err := a.Generator.Generate(ctx, kind, now, st.LastRun())
				return err
			})
		if err != nil {
			return err
		}
	}
	return nil
}

// Controller returns a control surface whose Shutdown calls stop
func (a *App) Controller(stop func()) *control.Controller {
	return control.NewController(a.Scheduler, a.Generator, a.clock, stop)
}

// Location is the calendar location for day and month boundaries
func (a *App) Location() *time.Location { return a.loc }

// Now returns the current time in the app location
func (a *App) Now() time.Time { return a.clock.Now("app").In(a.loc) }

// Serve starts the schedule and the control surfaces and blocks until ctx is
// done or a shutdown is requested. Then it stops the schedule, waits up to
// the shutdown timeout for running jobs and closes the HTTP listener.
// console may be nil.
func (a *App) Serve(ctx context.Context, console io.Reader, out io.Writer) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	ctrl := a.Controller(stop)
	a.Scheduler.Start()
	a.logger.Info("scheduler started", "jobs", len(a.Scheduler.Jobs()))

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if addr := a.cfg.HTTP.Addr; addr != "" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           control.NewAPI(ctrl, a.Registry, a.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("control API listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API: %w", err)
			}
			return nil
		})
	}

	if console != nil {
		// end of input leaves the schedule running
		g.Go(func() error {
			return control.NewConsole(ctrl, console, out).Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GetShutdownTimeout())
		defer cancel()

		a.logger.Info("shutting down")
		var errs []error
		if err := a.Scheduler.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stopping control API: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// Close releases the store and the sink connection
func (a *App) Close() {
	if a.Scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.GetShutdownTimeout())
		defer cancel()
		if err := a.Scheduler.Shutdown(ctx); err != nil {
			a.logger.Warn("jobs still running at close", "err", err)
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database failed", "err", err)
	}
}
