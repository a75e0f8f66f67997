package report

import (
	"fmt"
	"time"

	"github.com/jgoulah/bwusage/pkg/models"
)

// Window is a closed range [From, To] of entries that make up one report.
// The all-time window is unbounded and has zero From and To.
type Window struct {
	Kind models.ReportKind
	From time.Time
	To   time.Time
	Name string // file stem: "2019-5-21", "2019-5" or "all"
}

// Unbounded reports whether the window covers the whole store
func (w Window) Unbounded() bool {
	return w.Kind == models.ReportAll
}

// StartOfDay truncates t to midnight in t's location
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay is the last second of t's day: the start of the next day minus one second
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Second)
}

// StartOfMonth truncates t to midnight on the first of its month
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// EndOfMonth is the last second of t's month
func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0).Add(-time.Second)
}

// SameMonth reports whether a and b fall in the same calendar month
func SameMonth(a, b time.Time) bool {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return ay == by && am == bm
}

// WindowFor computes the window of kind that contains now. Month and day
// numbers in names are unpadded.
func WindowFor(kind models.ReportKind, now time.Time) Window {
	switch kind {
	case models.ReportToday:
		from := StartOfDay(now)
		return Window{
			Kind: kind,
			From: from,
			To:   EndOfDay(now),
			Name: fmt.Sprintf("%d-%d-%d", from.Year(), int(from.Month()), from.Day()),
		}
	case models.ReportMonth:
		from := StartOfMonth(now)
		return Window{
			Kind: kind,
			From: from,
			To:   EndOfMonth(now),
			Name: fmt.Sprintf("%d-%d", from.Year(), int(from.Month())),
		}
	default:
		return Window{Kind: models.ReportAll, Name: "all"}
	}
}
