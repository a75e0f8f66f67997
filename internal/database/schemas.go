package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jgoulah/bwusage/pkg/models"
)

const capturedAtLayout = "2006-01-02 15:04:05.000000000"

// EntrySchema keys usage entries by calendar date in loc
type EntrySchema struct {
	Location *time.Location
}

func (EntrySchema) Table() string { return "usage_entries" }

func (EntrySchema) Columns() []string { return []string{"date", "upload", "download"} }

func (s EntrySchema) FormatKey(t time.Time) string {
	return t.In(s.loc()).Format(models.DateLayout)
}

func (s EntrySchema) Values(e models.Entry) []any {
	return []any{s.FormatKey(e.Date), e.Upload, e.Download}
}

func (s EntrySchema) Scan(sc Scanner) (models.Entry, error) {
	var e models.Entry
	var dateStr string
	if err := sc.Scan(&dateStr, &e.Upload, &e.Download); err != nil {
		return e, err
	}

	date, err := time.ParseInLocation(models.DateLayout, dateStr, s.loc())
	if err != nil {
		return e, fmt.Errorf("parsing date: %w", err)
	}
	e.Date = date
	return e, nil
}

func (s EntrySchema) loc() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// HistorySchema keys historical entries by capture timestamp, stored in UTC
// with fixed-width nanoseconds so text order matches time order.
type HistorySchema struct {
	Location *time.Location
}

func (HistorySchema) Table() string { return "historical_entries" }

func (HistorySchema) Columns() []string { return []string{"captured_at", "upload", "download"} }

func (HistorySchema) FormatKey(t time.Time) string {
	return t.UTC().Format(capturedAtLayout)
}

func (s HistorySchema) Values(h models.HistoricalEntry) []any {
	return []any{s.FormatKey(h.CapturedAt), h.Upload, h.Download}
}

func (s HistorySchema) Scan(sc Scanner) (models.HistoricalEntry, error) {
	var h models.HistoricalEntry
	var capturedStr string
	if err := sc.Scan(&capturedStr, &h.Upload, &h.Download); err != nil {
		return h, err
	}

	captured, err := time.ParseInLocation(capturedAtLayout, capturedStr, time.UTC)
	if err != nil {
		return h, fmt.Errorf("parsing captured_at: %w", err)
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	h.CapturedAt = captured.In(loc)
	return h, nil
}

// EntryStore is the date-keyed usage repository
type EntryStore = Store[models.Entry]

// HistoryStore is the capture-time-keyed repository
type HistoryStore = Store[models.HistoricalEntry]

// NewEntryStore returns the usage store for db
func NewEntryStore(db *DB, loc *time.Location, logger *slog.Logger) *EntryStore {
	return NewStore[models.Entry](db, EntrySchema{Location: loc}, logger)
}

// NewHistoryStore returns the historical store for db
func NewHistoryStore(db *DB, loc *time.Location, logger *slog.Logger) *HistoryStore {
	return NewStore[models.HistoricalEntry](db, HistorySchema{Location: loc}, logger)
}
