package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/control"
	"github.com/jgoulah/bwusage/internal/report"
	"github.com/jgoulah/bwusage/pkg/models"
)

var listCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List stored usage entries",
	Long: `Displays the entries that make up a report, without writing anything.

Available kinds: today, month, all`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
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
	entries := gen.List(context.Background(), kind, time.Now())
	control.WriteListing(cmd.OutOrStdout(), strings.ToUpper(string(kind))+" usage", entries)
	return nil
}
