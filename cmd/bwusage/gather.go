package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/app"
	"github.com/jgoulah/bwusage/internal/control"
	"github.com/jgoulah/bwusage/pkg/models"
)

var gatherReports bool

var gatherCmd = &cobra.Command{
	Use:   "gather",
	Short: "Download usage from the portal once",
	Long: `Fetches the current usage payload from the portal, stores every entry and
records a historical capture of today's counters. With --reports the three
reports are rewritten afterwards.`,
	Args: cobra.NoArgs,
	RunE: runGather,
}

func init() {
	gatherCmd.Flags().BoolVar(&gatherReports, "reports", false, "Also write the today, month and all reports")
	rootCmd.AddCommand(gatherCmd)
}

func runGather(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Gather started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	ctx, cancel := context.WithTimeout(ctx, 2*cfg.GetPortalTimeout())
	defer cancel()

	res, err := a.Gatherer.DownloadData(ctx)
	if err != nil {
		return fmt.Errorf("gathering: %w", err)
	}
	fmt.Printf("✓ Stored %d entries (%d historical captures)\n", res.Entries, res.Historical)

	if !gatherReports {
		return nil
	}
	for _, kind := range models.ReportKinds {
		windows, err := a.Generator.Generate(ctx, kind, a.Now(), time.Time{})
		if err != nil {
			return fmt.Errorf("writing %s report: %w", kind, err)
		}
		for _, w := range windows {
			fmt.Printf("✓ Wrote %s\n", a.Generator.Path(w))
		}
	}

	entries := a.Generator.List(ctx, models.ReportToday, a.Now())
	control.WriteListing(cmd.OutOrStdout(), "Today", entries)
	return nil
}
