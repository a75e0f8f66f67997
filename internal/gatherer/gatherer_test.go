package gatherer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/bwusage/internal/database"
	"github.com/jgoulah/bwusage/internal/logging"
	"github.com/jgoulah/bwusage/internal/scraper"
	"github.com/jgoulah/bwusage/pkg/models"
)

type fetchFunc func(ctx context.Context) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }

func staticFetcher(payload string) scraper.Fetcher {
	return fetchFunc(func(context.Context) ([]byte, error) { return []byte(payload), nil })
}

type stores struct {
	entries *database.EntryStore
	history *database.HistoryStore
}

func newStores(t *testing.T) stores {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "gather.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return stores{
		entries: database.NewEntryStore(db, time.UTC, logging.Discard()),
		history: database.NewHistoryStore(db, time.UTC, logging.Discard()),
	}
}

func mockClock(t *testing.T, now time.Time) *quartz.Mock {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(now)
	return clk
}

const payload = `{"2025-05-21":{"down":"21.7 GB","up":"730 MB"},"2025-05-20":{"down":"16.2 GB","up":"456 MB"}}`

func TestDownloadDataPersistsAndMirrorsToday(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStores(t)
	now := time.Date(2025, 5, 21, 14, 30, 0, 0, time.UTC)

	g := New(staticFetcher(payload), scraper.JSONParser{Location: time.UTC}, s.entries, s.history, logging.Discard(),
		WithClock(mockClock(t, now)), WithLocation(time.UTC))

	res, err := g.DownloadData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, 1, res.Historical)

	entries, err := s.entries.All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	history, err := s.history.All(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].CapturedAt.Equal(now))
	assert.Equal(t, "730 MB", history[0].Upload)
	assert.Equal(t, "21.7 GB", history[0].Download)
}

func TestDownloadDataEmptyPayloadWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStores(t)

	g := New(staticFetcher(`{}`), scraper.JSONParser{Location: time.UTC}, s.entries, s.history, logging.Discard(),
		WithClock(mockClock(t, time.Date(2025, 5, 21, 0, 0, 0, 0, time.UTC))))

	res, err := g.DownloadData(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Entries)
	assert.Empty(t, s.entries.FindAll(ctx))
}

func TestDownloadDataFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStores(t)

	fetchErr := errors.New("connection refused")
	g := New(fetchFunc(func(context.Context) ([]byte, error) { return nil, fetchErr }),
		scraper.JSONParser{}, s.entries, s.history, logging.Discard())
	_, err := g.DownloadData(ctx)
	require.ErrorIs(t, err, fetchErr)

	g = New(staticFetcher(`<html>maintenance</html>`), scraper.JSONParser{}, s.entries, s.history, logging.Discard())
	_, err = g.DownloadData(ctx)
	require.Error(t, err)
	assert.Empty(t, s.entries.FindAll(ctx))
}

type slowWriter struct {
	active  atomic.Int32
	overlap atomic.Bool
	calls   atomic.Int32
}

func (w *slowWriter) UpsertAll(context.Context, []models.Entry) error {
	if w.active.Add(1) > 1 {
		w.overlap.Store(true)
	}
	time.Sleep(20 * time.Millisecond)
	w.active.Add(-1)
	w.calls.Add(1)
	return nil
}

type nopHistory struct{}

func (nopHistory) Insert(context.Context, models.HistoricalEntry) (bool, error) {
	return true, nil
}

func TestDownloadDataNeverInterleaves(t *testing.T) {
	t.Parallel()
	w := &slowWriter{}
	g := New(staticFetcher(payload), scraper.JSONParser{Location: time.UTC}, w, nopHistory{}, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.DownloadData(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, w.overlap.Load())
	assert.Equal(t, int32(5), w.calls.Load())
}

type parseFunc func([]byte) ([]models.Entry, error)

func (f parseFunc) Parse(payload []byte) ([]models.Entry, error) { return f(payload) }

func TestDownloadDataCountsOnlyStoredCaptures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStores(t)
	now := time.Date(2025, 5, 21, 14, 30, 0, 0, time.UTC)
	today := time.Date(2025, 5, 21, 0, 0, 0, 0, time.UTC)

	// an HTML page can list the same day twice
	parser := parseFunc(func([]byte) ([]models.Entry, error) {
		return []models.Entry{
			{Date: today, Upload: "730 MB", Download: "21.7 GB"},
			{Date: today, Upload: "731 MB", Download: "21.8 GB"},
		}, nil
	})
	g := New(staticFetcher("ignored"), parser, s.entries, s.history, logging.Discard(),
		WithClock(mockClock(t, now)), WithLocation(time.UTC))

	res, err := g.DownloadData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Historical)

	history, err := s.history.All(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "730 MB", history[0].Upload)
}
