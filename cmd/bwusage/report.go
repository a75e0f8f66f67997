package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/report"
	"github.com/jgoulah/bwusage/pkg/models"
)

var reportPrevious bool

var reportCmd = &cobra.Command{
	Use:   "report [kind]",
	Short: "Write a report file from stored entries",
	Long: `Writes the report of the given kind into the report directory.

Available kinds: today, month, all`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportPrevious, "previous-month", false, "For month reports, also rewrite last month's report")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseReportKind(args[0])
	if err != nil {
		return err
	}

	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer s.db.Close()

	gen := report.NewGenerator(s.entries, cfg.GetReportDir(), s.loc, logger)
	now := time.Now().In(s.loc)

	// a last run in the previous month makes the generator close that month too
	var lastRun time.Time
	if reportPrevious {
		lastRun = report.StartOfMonth(now).AddDate(0, -1, 0)
	}

	windows, err := gen.Generate(context.Background(), kind, now, lastRun)
	if err != nil {
		return fmt.Errorf("writing %s report: %w", kind, err)
	}
	for _, w := range windows {
		fmt.Printf("✓ Wrote %s\n", gen.Path(w))
	}
	return nil
}
