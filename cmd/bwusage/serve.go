package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/app"
)

var serveNoConsole bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gather and report schedule",
	Long: `Starts the scheduler: the portal is polled every gather period and the day,
month and all-time reports are rewritten on their own periods. Commands can be
typed at the console prompt, which shows the time until the next gather:

  run | gather       gather now
  report <kind>      write the today, month or all report now
  list <kind>        print the entries of a report (lmonth = list month)
  jobs               show job state and next run
  quit | exit        stop after running jobs finish

When http.addr is set the same operations are served over HTTP.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoConsole, "no-console", false, "Do not read commands from stdin")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	fmt.Printf("=== bwusage started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var console io.Reader = os.Stdin
	if serveNoConsole {
		console = nil
	}
	return a.Serve(ctx, console, os.Stdout)
}
