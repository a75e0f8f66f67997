package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jgoulah/bwusage/pkg/models"
)

// Console reads commands line by line and writes human-readable results
type Console struct {
	ctrl *Controller
	in   io.Reader
	out  io.Writer
}

// NewConsole creates a console over in and out
func NewConsole(ctrl *Controller, in io.Reader, out io.Writer) *Console {
	return &Console{ctrl: ctrl, in: in, out: out}
}

// Run serves commands until quit, end of input or ctx is done
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		c.prompt()
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading console input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

func (c *Console) prompt() {
	fmt.Fprintf(c.out, "(%s) $> ", Countdown(c.ctrl.NextGather()))
}

// Exec runs one command line. It returns true when the console should stop.
func (c *Console) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "run", "gather":
		if err := c.ctrl.TriggerGather(ctx); err != nil {
			fmt.Fprintf(c.out, "Gather failed: %v\n", err)
			return false
		}
		fmt.Fprintln(c.out, "Gather complete")

	case "report":
		kind, ok := c.kindArg(args)
		if !ok {
			return false
		}
		if err := c.ctrl.TriggerReport(ctx, kind); err != nil {
			fmt.Fprintf(c.out, "Report %s failed: %v\n", kind, err)
			return false
		}
		fmt.Fprintf(c.out, "Report %s written\n", kind)

	case "list", "lmonth":
		if cmd == "lmonth" {
			args = []string{string(models.ReportMonth)}
		}
		kind, ok := c.kindArg(args)
		if !ok {
			return false
		}
		WriteListing(c.out, title(kind), c.ctrl.List(ctx, kind))

	case "jobs":
		WriteJobs(c.out, c.ctrl.Jobs())

	case "help":
		fmt.Fprintln(c.out, "Commands: run | gather, report <today|month|all>, list <today|month|all>, lmonth, jobs, quit | exit")

	case "quit", "exit":
		if err := c.ctrl.Shutdown(ctx); err != nil {
			fmt.Fprintf(c.out, "Shutdown failed: %v\n", err)
			return false
		}
		fmt.Fprintln(c.out, "Shutting down")
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command '%s'\n", fields[0])
	}
	return false
}

func (c *Console) kindArg(args []string) (models.ReportKind, bool) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Expected one report kind: today, month or all")
		return "", false
	}
	kind, err := models.ParseReportKind(args[0])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return "", false
	}
	return kind, true
}
