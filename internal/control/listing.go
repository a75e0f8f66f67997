package control

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jgoulah/bwusage/internal/scheduler"
	"github.com/jgoulah/bwusage/pkg/models"
)

const rule = "----------------------------------------------"

// Totals sums upload and download sizes such as "730 MB". Values that do not
// parse as sizes are left out and counted in skipped.
func Totals(entries []models.Entry) (upload, download uint64, skipped int) {
	for _, e := range entries {
		up, errUp := humanize.ParseBytes(e.Upload)
		down, errDown := humanize.ParseBytes(e.Download)
		if errUp != nil || errDown != nil {
			skipped++
			continue
		}
		upload += up
		download += down
	}
	return upload, download, skipped
}

// WriteListing prints entries as a table followed by the totals
func WriteListing(w io.Writer, title string, entries []models.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No entries for %s\n", title)
		return
	}

	fmt.Fprintf(w, "\n%s:\n", title)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-12s  %14s  %14s\n", "Date", "Upload", "Download")
	fmt.Fprintln(w, rule)
	for _, e := range entries {
		fmt.Fprintf(w, "%-12s  %14s  %14s\n", e.Date.Format(models.DateLayout), e.Upload, e.Download)
	}
	fmt.Fprintln(w, rule)

	up, down, skipped := Totals(entries)
	fmt.Fprintf(w, "Total: %s up, %s down (%d entries)\n", humanize.Bytes(up), humanize.Bytes(down), len(entries))
	if skipped > 0 {
		fmt.Fprintf(w, "(%d entries with unreadable sizes not counted)\n", skipped)
	}
}

// WriteJobs prints one line per job
func WriteJobs(w io.Writer, jobs []scheduler.Status) {
	fmt.Fprintf(w, "%-14s  %-10s  %-8s  %-10s  %s\n", "Job", "State", "Failures", "Next", "Last success")
	for _, j := range jobs {
		next := "-"
		if j.NextRunIn >= 0 {
			next = j.NextRunIn.Truncate(time.Second).String()
		}
		last := "never"
		if !j.LastRun.IsZero() {
			last = humanize.Time(j.LastRun)
		}
		fmt.Fprintf(w, "%-14s  %-10s  %-8d  %-10s  %s\n", j.Name, j.State, j.Failures, next, last)
	}
}

// Countdown formats d as mm:ss, or --:-- when nothing is scheduled
func Countdown(d time.Duration, ok bool) string {
	if !ok {
		return "--:--"
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func title(kind models.ReportKind) string {
	return strings.ToUpper(string(kind)) + " report"
}
