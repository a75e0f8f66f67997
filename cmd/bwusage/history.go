package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	historySince string
	historyUntil string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List historical captures of the day's counters",
	Long:  `Displays what the portal reported for the current day at each gather.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historySince, "since", "1d", "Only show captures since this date (YYYY-MM-DD or relative like 7d)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Only show captures until this date (YYYY-MM-DD)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
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

	now := time.Now().In(s.loc)
	since, err := parseDate(historySince, now)
	if err != nil {
		return err
	}
	until := now
	if historyUntil != "" {
		if until, err = parseDate(historyUntil, now); err != nil {
			return err
		}
		until = until.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	captures := s.history.FindByRange(context.Background(), since, until)
	if len(captures) == 0 {
		fmt.Println("No captures found")
		return nil
	}

	fmt.Println(strings.Repeat("-", 46))
	for _, h := range captures {
		fmt.Println(h)
	}
	fmt.Println(strings.Repeat("-", 46))
	fmt.Printf("%d captures\n", len(captures))
	return nil
}

// parseDate parses a date in YYYY-MM-DD format or a relative "Nd" for N days before now
func parseDate(dateStr string, now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", dateStr, now.Location())
	if err == nil {
		return t, nil
	}

	if len(dateStr) > 1 && dateStr[len(dateStr)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(dateStr[:len(dateStr)-1], "%d", &days); err == nil {
			return now.AddDate(0, 0, -days), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD or Nd for N days ago)", dateStr)
}
