package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/publisher"
	"github.com/jgoulah/bwusage/internal/report"
	"github.com/jgoulah/bwusage/pkg/models"
)

var publishCmd = &cobra.Command{
	Use:   "publish [kind]",
	Short: "Publish a report to MQTT",
	Long: `Renders the report of the given kind from stored entries and publishes it as a
retained message on <topic_prefix>/<report name>. Report files are not touched.

Available kinds: today, month, all`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	kind, err := models.ParseReportKind(args[0])
	if err != nil {
		return err
	}

	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	if !cfg.MQTT.Enabled {
		return fmt.Errorf("MQTT is not enabled in config")
	}

	pub, err := publisher.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	s, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer s.db.Close()

	gen := report.NewGenerator(s.entries, cfg.GetReportDir(), s.loc, logger, pub)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w, err := gen.Publish(ctx, kind, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("✓ Published %s to %s\n", w.Name, pub.Topic(w.Name))
	return nil
}
