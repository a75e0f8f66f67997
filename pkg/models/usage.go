package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the day-granularity key format used in storage and payloads
const DateLayout = "2006-01-02"

// Entry represents one day's bandwidth usage as reported by the portal
type Entry struct {
	Date     time.Time `json:"date"`     // Calendar day, midnight in the configured location
	Upload   string    `json:"upload"`   // Verbatim magnitude, e.g. "730 MB"
	Download string    `json:"download"` // Verbatim magnitude, e.g. "21.7 GB"
}

func (e Entry) String() string {
	return fmt.Sprintf("%s  up: %-10s down: %s", e.Date.Format(DateLayout), e.Upload, e.Download)
}

// HistoricalEntry is what today's counter read at capture time
type HistoricalEntry struct {
	CapturedAt time.Time `json:"captured_at"`
	Upload     string    `json:"upload"`
	Download   string    `json:"download"`
}

func (h HistoricalEntry) String() string {
	return fmt.Sprintf("%s  up: %-10s down: %s", h.CapturedAt.Format("2006-01-02 15:04:05"), h.Upload, h.Download)
}

// ReportKind selects a report window
type ReportKind string

const (
	ReportToday ReportKind = "today"
	ReportMonth ReportKind = "month"
	ReportAll   ReportKind = "all"
)

// ReportKinds lists every kind in scheduling order
var ReportKinds = []ReportKind{ReportToday, ReportMonth, ReportAll}

// ParseReportKind accepts a kind name in any case
func ParseReportKind(s string) (ReportKind, error) {
	switch ReportKind(strings.ToLower(strings.TrimSpace(s))) {
	case ReportToday:
		return ReportToday, nil
	case ReportMonth:
		return ReportMonth, nil
	case ReportAll:
		return ReportAll, nil
	default:
		return "", fmt.Errorf("unknown report kind: %s (available: today, month, all)", s)
	}
}
