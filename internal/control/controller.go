// Package control exposes the manual operations of a running bwusage process:
// trigger a gather or a report, list entries, inspect jobs and shut down.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/jgoulah/bwusage/internal/report"
	"github.com/jgoulah/bwusage/internal/scheduler"
	"github.com/jgoulah/bwusage/pkg/models"
)

// GatherJob is the scheduler name of the gather job
const GatherJob = "gather"

// ReportJob returns the scheduler name of the report job for kind
func ReportJob(kind models.ReportKind) string {
	return "report:" + string(kind)
}

// Controller is shared by the console and the HTTP API
type Controller struct {
	sched *scheduler.Scheduler
	gen   *report.Generator
	clock quartz.Clock
	stop  func()
}

// NewController wires the control surface. stop is called by Shutdown to ask
// the hosting process to wind down.
func NewController(sched *scheduler.Scheduler, gen *report.Generator, clock quartz.Clock, stop func()) *Controller {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Controller{sched: sched, gen: gen, clock: clock, stop: stop}
}

// TriggerGather runs the gather job now
func (c *Controller) TriggerGather(ctx context.Context) error {
	return c.sched.Trigger(ctx, GatherJob)
}

// TriggerReport runs the report job of kind now
func (c *Controller) TriggerReport(ctx context.Context, kind models.ReportKind) error {
	return c.sched.Trigger(ctx, ReportJob(kind))
}

// List returns the current entries of kind. Store failures yield an empty list.
func (c *Controller) List(ctx context.Context, kind models.ReportKind) []models.Entry {
	return c.gen.List(ctx, kind, c.clock.Now("control", "list"))
}

// Render encodes entries in the report file format
func (c *Controller) Render(entries []models.Entry) ([]byte, error) {
	return c.gen.Render(entries)
}

// Jobs returns the status of every scheduled job
func (c *Controller) Jobs() []scheduler.Status {
	return c.sched.Jobs()
}

// NextGather returns the time until the next scheduled gather
func (c *Controller) NextGather() (time.Duration, bool) {
	return c.sched.NextRun(GatherJob)
}

// Shutdown asks the process to stop. Jobs in flight are drained by the host.
func (c *Controller) Shutdown(context.Context) error {
	if c.stop == nil {
		return fmt.Errorf("shutdown not supported")
	}
	c.stop()
	return nil
}
