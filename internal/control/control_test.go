package control

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/bwusage/internal/breaker"
	"github.com/jgoulah/bwusage/internal/database"
	"github.com/jgoulah/bwusage/internal/logging"
	"github.com/jgoulah/bwusage/internal/report"
	"github.com/jgoulah/bwusage/internal/scheduler"
	"github.com/jgoulah/bwusage/pkg/models"
)

type harness struct {
	ctrl    *Controller
	reg     *prometheus.Registry
	gathers atomic.Int32
	stopped atomic.Bool
}

func newHarness(t *testing.T, gatherErr error) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{reg: prometheus.NewRegistry()}

	clk := quartz.NewMock(t)
	clk.Set(time.Date(2025, 5, 21, 12, 0, 0, 0, time.UTC))

	db, err := database.New(filepath.Join(t.TempDir(), "control.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := database.NewEntryStore(db, time.UTC, logging.Discard())
	require.NoError(t, store.UpsertAll(ctx, []models.Entry{
		{Date: time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), Upload: "456 MB", Download: "16.2 GB"},
		{Date: time.Date(2025, 5, 21, 0, 0, 0, 0, time.UTC), Upload: "730 MB", Download: "21.7 GB"},
	}))
	gen := report.NewGenerator(store, t.TempDir(), time.UTC, logging.Discard())

	sched := scheduler.New(logging.Discard(), scheduler.WithClock(clk), scheduler.WithRegisterer(h.reg))
	require.NoError(t, sched.Add(GatherJob, time.Minute, 10*time.Minute, breaker.New("gather", 1, logging.Discard()),
		func(context.Context, time.Time, *scheduler.JobState) error {
			h.gathers.Add(1)
			return gatherErr
		}))
	rb := breaker.New("report", 5, logging.Discard())
	for _, kind := range models.ReportKinds {
		require.NoError(t, sched.Add(ReportJob(kind), time.Minute, time.Hour, rb,
			func(ctx context.Context, now time.Time, st *scheduler.JobState) error {
				_, err := gen.Generate(ctx, kind, now, st.LastRun())
				return err
			}))
	}
	sched.Start()
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	h.ctrl = NewController(sched, gen, clk, func() { h.stopped.Store(true) })
	return h
}

func TestTotals(t *testing.T) {
	t.Parallel()
	up, down, skipped := Totals([]models.Entry{
		{Upload: "730 MB", Download: "21.5 GB"},
		{Upload: "270 MB", Download: "500 MB"},
		{Upload: "n/a", Download: "1 GB"},
	})
	assert.Equal(t, uint64(1_000_000_000), up)
	assert.Equal(t, uint64(22_000_000_000), down)
	assert.Equal(t, 1, skipped)
}

func TestCountdown(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "01:30", Countdown(90*time.Second, true))
	assert.Equal(t, "00:00", Countdown(0, true))
	assert.Equal(t, "--:--", Countdown(time.Minute, false))
}

func TestConsoleCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)
	var out bytes.Buffer
	c := NewConsole(h.ctrl, strings.NewReader(""), &out)

	assert.False(t, c.Exec(ctx, "list today"))
	assert.Contains(t, out.String(), "2025-05-21")
	assert.NotContains(t, out.String(), "2025-05-20")

	out.Reset()
	assert.False(t, c.Exec(ctx, "lmonth"))
	assert.Contains(t, out.String(), "2025-05-20")
	assert.Contains(t, out.String(), "2 entries")

	out.Reset()
	assert.False(t, c.Exec(ctx, "run"))
	assert.Equal(t, "Gather complete\n", out.String())
	assert.Equal(t, int32(1), h.gathers.Load())

	out.Reset()
	assert.False(t, c.Exec(ctx, "report month"))
	assert.Equal(t, "Report month written\n", out.String())

	out.Reset()
	assert.False(t, c.Exec(ctx, "report weekly"))
	assert.Contains(t, out.String(), "unknown report kind")

	out.Reset()
	assert.False(t, c.Exec(ctx, "frobnicate now"))
	assert.Equal(t, "Unknown command 'frobnicate'\n", out.String())

	out.Reset()
	assert.False(t, c.Exec(ctx, "jobs"))
	assert.Contains(t, out.String(), "report:month")

	assert.False(t, c.Exec(ctx, "   "))
	assert.True(t, c.Exec(ctx, "quit"))
	assert.True(t, h.stopped.Load())
}

func TestConsoleRunShowsCountdownAndStopsOnExit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, errors.New("portal down"))
	var out bytes.Buffer
	c := NewConsole(h.ctrl, strings.NewReader("gather\ngather\nexit\nlist all\n"), &out)

	require.NoError(t, c.Run(context.Background()))

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "(01:00) $> "), got)
	assert.Contains(t, got, "Gather failed: portal down")
	// the gather breaker trips after one failure
	assert.Contains(t, got, "circuit breaker tripped")
	assert.Contains(t, got, "(--:--) $> ")
	assert.Contains(t, got, "Shutting down")
	assert.NotContains(t, got, "ALL report")
	assert.Equal(t, int32(1), h.gathers.Load())
}

func TestConsoleRunEndsWithInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	c := NewConsole(h.ctrl, strings.NewReader("list all\n"), io.Discard)
	require.NoError(t, c.Run(context.Background()))
	assert.False(t, h.stopped.Load())
}

func do(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAPI(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	api := NewAPI(h.ctrl, h.reg, logging.Discard())

	rec := do(t, api, http.MethodPost, "/gather")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"gather complete"}`, rec.Body.String())

	rec = do(t, api, http.MethodGet, "/reports/today")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"date":"May 21, 2025 12:00:00 AM","upload":"730 MB","download":"21.7 GB"}]`, rec.Body.String())

	rec = do(t, api, http.MethodPost, "/reports/all")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, api, http.MethodGet, "/reports/weekly")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, api, http.MethodGet, "/jobs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"gather"`)
	assert.Contains(t, rec.Body.String(), `"next_run_in":"1m0s"`)

	rec = do(t, api, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bwusage_job_runs_total{job="gather",outcome="success"} 1`)

	rec = do(t, api, http.MethodPost, "/shutdown")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, h.stopped.Load())
}

func TestAPITrippedJobConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, errors.New("bad credentials"))
	api := NewAPI(h.ctrl, nil, logging.Discard())

	rec := do(t, api, http.MethodPost, "/gather")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad credentials")

	rec = do(t, api, http.MethodPost, "/gather")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int32(1), h.gathers.Load())

	rec = do(t, api, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
