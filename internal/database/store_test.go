package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/bwusage/internal/logging"
	"github.com/jgoulah/bwusage/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUpsertReplacesSameDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewEntryStore(openTestDB(t), time.UTC, logging.Discard())

	_, err := store.Upsert(ctx, models.Entry{Date: day(2019, 5, 21), Upload: "100 MB", Download: "1 GB"})
	require.NoError(t, err)
	stored, err := store.Upsert(ctx, models.Entry{Date: day(2019, 5, 21), Upload: "730 MB", Download: "21.7 GB"})
	require.NoError(t, err)
	assert.Equal(t, "730 MB", stored.Upload)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "730 MB", all[0].Upload)
	assert.Equal(t, "21.7 GB", all[0].Download)
	assert.True(t, all[0].Date.Equal(day(2019, 5, 21)))
}

func TestUpsertAllIsOrderedAndIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewEntryStore(openTestDB(t), time.UTC, logging.Discard())

	batch := []models.Entry{
		{Date: day(2019, 5, 21), Upload: "730 MB", Download: "21.7 GB"},
		{Date: day(2019, 5, 19), Upload: "1.68 GB", Download: "80 GB"},
		{Date: day(2019, 5, 20), Upload: "456 MB", Download: "16.2 GB"},
	}
	require.NoError(t, store.UpsertAll(ctx, batch))
	require.NoError(t, store.UpsertAll(ctx, batch))
	require.NoError(t, store.UpsertAll(ctx, nil))

	all := store.FindAll(ctx)
	require.Len(t, all, 3)
	assert.Equal(t, "2019-05-19", all[0].Date.Format(models.DateLayout))
	assert.Equal(t, "2019-05-20", all[1].Date.Format(models.DateLayout))
	assert.Equal(t, "2019-05-21", all[2].Date.Format(models.DateLayout))
}

func TestUpsertAllRollsBackOnCancel(t *testing.T) {
	t.Parallel()
	store := NewEntryStore(openTestDB(t), time.UTC, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.UpsertAll(ctx, []models.Entry{{Date: day(2019, 5, 21), Upload: "1", Download: "2"}})
	require.Error(t, err)

	assert.Empty(t, store.FindAll(context.Background()))
}

func TestRangeIsInclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewEntryStore(openTestDB(t), time.UTC, logging.Discard())

	require.NoError(t, store.UpsertAll(ctx, []models.Entry{
		{Date: day(2019, 4, 30), Upload: "a", Download: "a"},
		{Date: day(2019, 5, 1), Upload: "b", Download: "b"},
		{Date: day(2019, 5, 31), Upload: "c", Download: "c"},
		{Date: day(2019, 6, 1), Upload: "d", Download: "d"},
	}))

	endOfMonth := day(2019, 6, 1).Add(-time.Second)
	got, err := store.Range(ctx, day(2019, 5, 1), endOfMonth)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Upload)
	assert.Equal(t, "c", got[1].Upload)
}

func TestReadPathSwallowsFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	store := NewEntryStore(db, time.UTC, logging.Discard())
	require.NoError(t, store.UpsertAll(ctx, []models.Entry{{Date: day(2019, 5, 21), Upload: "1", Download: "2"}}))

	require.NoError(t, db.Close())

	_, err := store.All(ctx)
	require.Error(t, err)

	all := store.FindAll(ctx)
	assert.NotNil(t, all)
	assert.Empty(t, all)
	assert.Empty(t, store.FindByRange(ctx, day(2019, 5, 1), day(2019, 5, 31)))
}

func TestHistoryStoreKeysByCaptureTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	loc := time.FixedZone("CET", 3600)
	store := NewHistoryStore(openTestDB(t), loc, logging.Discard())

	first := time.Date(2019, 5, 21, 9, 30, 0, 0, loc)
	second := first.Add(10 * time.Minute)
	_, err := store.Insert(ctx, models.HistoricalEntry{CapturedAt: second, Upload: "200 MB", Download: "2 GB"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, models.HistoricalEntry{CapturedAt: first, Upload: "100 MB", Download: "1 GB"})
	require.NoError(t, err)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].CapturedAt.Equal(first))
	assert.True(t, all[1].CapturedAt.Equal(second))
	assert.Equal(t, loc, all[0].CapturedAt.Location())

	got := store.FindByRange(ctx, first.Add(time.Minute), second)
	require.Len(t, got, 1)
	assert.Equal(t, "200 MB", got[0].Upload)
}

func TestInsertNeverOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewHistoryStore(openTestDB(t), time.UTC, logging.Discard())

	at := time.Date(2019, 5, 21, 9, 30, 0, 0, time.UTC)
	inserted, err := store.Insert(ctx, models.HistoricalEntry{CapturedAt: at, Upload: "100 MB", Download: "1 GB"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Insert(ctx, models.HistoricalEntry{CapturedAt: at, Upload: "999 MB", Download: "9 GB"})
	require.NoError(t, err)
	assert.False(t, inserted)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "100 MB", all[0].Upload)
	assert.Equal(t, "1 GB", all[0].Download)
}
