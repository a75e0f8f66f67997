package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/config"
	"github.com/jgoulah/bwusage/internal/control"
	"github.com/jgoulah/bwusage/internal/scraper"
)

var parseFormat string

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a saved usage payload",
	Long: `Runs the payload parser on a file saved with 'bwusage debug --output' and
prints the entries. Nothing is written to the database.

Formats: auto (default), json, html`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVar(&parseFormat, "format", "auto", "Payload format: auto, json or html")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	parser, err := newParser(cfg, parseFormat)
	if err != nil {
		return err
	}

	payload, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}

	entries, err := parser.Parse(payload)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	control.WriteListing(cmd.OutOrStdout(), args[0], entries)
	return nil
}

func newParser(cfg *config.Config, format string) (scraper.Parser, error) {
	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, err
	}
	switch format {
	case "auto":
		return scraper.AutoParser{Location: loc}, nil
	case "json":
		return scraper.JSONParser{Location: loc}, nil
	case "html":
		return scraper.HTMLParser{Location: loc}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (available: auto, json, html)", format)
	}
}
