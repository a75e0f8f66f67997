package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/scraper"
)

var (
	debugVisible bool
	debugOutput  string
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Fetch the raw usage payload without storing it",
	Long: `Fetches the usage payload from the portal and prints it, or saves it to a file
for use with the parse command. The parse result is summarized either way.

Flags:
  --visible    Show the browser window (browser mode only)
  --output     Save the payload to this file instead of printing it`,
	Args: cobra.NoArgs,
	RunE: runDebug,
}

func init() {
	debugCmd.Flags().BoolVar(&debugVisible, "visible", false, "Show browser window (browser mode only)")
	debugCmd.Flags().StringVar(&debugOutput, "output", "", "Save payload to this file")
	rootCmd.AddCommand(debugCmd)
}

func runDebug(cmd *cobra.Command, args []string) error {
	cfg, _, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	loc, err := cfg.GetLocation()
	if err != nil {
		return err
	}

	fetcher, err := scraper.NewFetcher(cfg)
	if err != nil {
		return err
	}
	if b, ok := fetcher.(*scraper.BrowserFetcher); ok {
		b.Visible = debugVisible
	}

	fmt.Printf("Fetching %s (%s mode)...\n", cfg.Portal.UsageURL, cfg.GetPortalMode())
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.GetPortalTimeout())
	defer cancel()

	payload, err := fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching: %w", err)
	}

	if debugOutput != "" {
		if err := os.WriteFile(debugOutput, payload, 0644); err != nil {
			return fmt.Errorf("saving payload: %w", err)
		}
		fmt.Printf("✓ Saved %d bytes to %s\n", len(payload), debugOutput)
	} else {
		fmt.Println(string(payload))
	}

	entries, err := scraper.AutoParser{Location: loc}.Parse(payload)
	if err != nil {
		fmt.Printf("⚠ Payload does not parse: %v\n", err)
		return nil
	}
	fmt.Printf("✓ Payload parses into %d entries\n", len(entries))
	return nil
}
