// Package scheduler runs named jobs at a fixed rate. Each job is guarded by a
// circuit breaker that cancels its schedule once it trips, and no two
// invocations of the same job ever run at the same time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/jgoulah/bwusage/internal/breaker"
)

var (
	// ErrUnknownJob is returned for a job name that was never added
	ErrUnknownJob = errors.New("unknown job")
	// ErrStopped is returned once Shutdown has begun
	ErrStopped = errors.New("scheduler stopped")
)

// Task is one invocation of a job. now is the time the invocation started.
type Task func(ctx context.Context, now time.Time, st *JobState) error

// JobState is the mutable state of one job. It is only ever written from
// inside an invocation, which is single-flight per job.
type JobState struct {
	name    string
	breaker *breaker.Breaker

	mu      sync.Mutex
	lastRun time.Time
}

// Name of the job
func (s *JobState) Name() string { return s.name }

// Breaker guarding the job
func (s *JobState) Breaker() *breaker.Breaker { return s.breaker }

// LastRun is the start time of the last successful invocation, zero if none
func (s *JobState) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *JobState) setLastRun(t time.Time) {
	s.mu.Lock()
	s.lastRun = t
	s.mu.Unlock()
}

type job struct {
	delay  time.Duration
	period time.Duration
	task   Task
	state  *JobState

	mu        sync.Mutex
	timer     *quartz.Timer
	next      time.Time
	cancelled bool
}

// Status is a point-in-time view of a job
type Status struct {
	Name      string
	Breaker   string
	State     string // active, tripped or cancelled
	Failures  int
	LastRun   time.Time
	NextRunIn time.Duration // negative when nothing is scheduled
}

// Scheduler owns a set of jobs
type Scheduler struct {
	clock   quartz.Clock
	logger  *slog.Logger
	metrics *metrics

	group singleflight.Group
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	started bool
	stopped bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the real clock, mostly for tests
func WithClock(c quartz.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRegisterer registers the job metrics with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.metrics = newMetrics(reg) }
}

// New creates an idle scheduler; call Add then Start
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		clock:  quartz.NewReal(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(nil)
	}
	return s
}

// Add registers a job that first fires delay after Start and then every
// period. Jobs sharing a breaker are all cancelled when it trips.
func (s *Scheduler) Add(name string, delay, period time.Duration, b *breaker.Breaker, task Task) error {
	if period <= 0 {
		return fmt.Errorf("job %s: period must be positive, got %s", name, period)
	}
	if delay < 0 {
		return fmt.Errorf("job %s: delay must not be negative, got %s", name, delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already added", name)
	}
	if s.started {
		return fmt.Errorf("job %s: scheduler already started", name)
	}

	s.jobs[name] = &job{
		delay:  delay,
		period: period,
		task:   task,
		state:  &JobState{name: name, breaker: b},
	}
	s.order = append(s.order, name)
	b.OnTrip(func() { s.Cancel(name) })

	s.metrics.failures.WithLabelValues(name).Set(0)
	s.metrics.tripped.WithLabelValues(name).Set(0)
	return nil
}

// Start arms every job. The first firing of each job is at Start + delay.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	now := s.clock.Now("scheduler", "start")
	for _, name := range s.order {
		j := s.jobs[name]
		j.mu.Lock()
		j.next = now.Add(j.delay)
		j.timer = s.clock.AfterFunc(j.delay, func() { s.fire(name, j) }, "scheduler", name)
		j.mu.Unlock()
		s.logger.Info("job scheduled", "job", name, "delay", j.delay, "period", j.period)
	}
}

// fire handles one timer expiry. The next firing is armed before the task
// runs so the cadence does not drift with task duration. Firings missed while
// a task ran long are coalesced into the next period boundary.
func (s *Scheduler) fire(name string, j *job) {
	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		return
	}
	now := s.clock.Now("scheduler", "fire")
	next := nextFiring(j.next, now, j.period)
	j.next = next
	j.timer = s.clock.AfterFunc(next.Sub(now), func() { s.fire(name, j) }, "scheduler", name)
	j.mu.Unlock()

	// outcome is logged and recorded by run
	_ = s.run(s.ctx, name, j, "schedule")
}

// nextFiring returns the first point prev + k*period, k >= 1, after now
func nextFiring(prev, now time.Time, period time.Duration) time.Time {
	next := prev.Add(period)
	if next.After(now) {
		return next
	}
	missed := now.Sub(next)/period + 1
	return next.Add(missed * period)
}

// Trigger runs the job now. If an invocation of the same job is already in
// flight, the call waits for it and returns its outcome instead of starting
// another one. Manual outcomes count toward the breaker. ctx bounds only the
// wait: a caller that gives up leaves the invocation running.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, name, j, "manual")
}

func (s *Scheduler) run(ctx context.Context, name string, j *job, trigger string) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	ch := s.group.DoChan(name, func() (any, error) {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return nil, ErrStopped
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		// shared by every caller; bound to the scheduler's lifetime
		return nil, s.invoke(s.ctx, name, j, trigger)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) invoke(ctx context.Context, name string, j *job, trigger string) error {
	b := j.state.breaker
	if err := b.Allow(); err != nil {
		s.metrics.runs.WithLabelValues(name, "skipped").Inc()
		return fmt.Errorf("job %s: %w", name, err)
	}

	logger := s.logger.With("job", name, "run_id", uuid.NewString(), "trigger", trigger)
	now := s.clock.Now("scheduler", "run", name)
	logger.Debug("job started")

	err := j.task(ctx, now, j.state)
	tripped := b.Record(err)
	if err == nil {
		j.state.setLastRun(now)
	}

	elapsed := s.clock.Since(now, "scheduler", "elapsed", name)
	if err != nil {
		s.metrics.runs.WithLabelValues(name, "failure").Inc()
		logger.Warn("job failed", "err", err, "failures", b.Failures(), "elapsed", elapsed)
	} else {
		s.metrics.runs.WithLabelValues(name, "success").Inc()
		logger.Debug("job finished", "elapsed", elapsed)
	}
	s.metrics.failures.WithLabelValues(name).Set(float64(b.Failures()))
	if tripped {
		s.markTripped(b)
	}
	return err
}

func (s *Scheduler) markTripped(b *breaker.Breaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, j := range s.jobs {
		if j.state.breaker == b {
			s.metrics.tripped.WithLabelValues(name).Set(1)
		}
	}
}

// Cancel stops future firings of the job. An invocation already in flight
// runs to completion. Cancelling twice is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		return
	}
	j.cancelled = true
	if j.timer != nil {
		j.timer.Stop()
	}
	s.logger.Info("job cancelled", "job", name)
}

// NextRun returns the time until the job's next firing. ok is false when the
// job is unknown, not started or cancelled.
func (s *Scheduler) NextRun(name string) (d time.Duration, ok bool) {
	s.mu.Lock()
	j, found := s.jobs[name]
	s.mu.Unlock()
	if !found {
		return 0, false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled || j.next.IsZero() {
		return 0, false
	}
	d = j.next.Sub(s.clock.Now("scheduler", "next", name))
	if d < 0 {
		d = 0
	}
	return d, true
}

// Jobs returns the status of every job, sorted by name
func (s *Scheduler) Jobs() []Status {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		s.mu.Lock()
		j := s.jobs[name]
		s.mu.Unlock()

		b := j.state.breaker
		st := Status{
			Name:      name,
			Breaker:   b.Name(),
			State:     b.State().String(),
			Failures:  b.Failures(),
			LastRun:   j.state.LastRun(),
			NextRunIn: -1,
		}
		if d, ok := s.NextRun(name); ok {
			st.NextRunIn = d
		} else if b.State() == breaker.Active {
			j.mu.Lock()
			if j.cancelled {
				st.State = "cancelled"
			}
			j.mu.Unlock()
		}
		out = append(out, st)
	}
	return out
}

// Shutdown cancels every job and waits for in-flight invocations until ctx
// is done. New triggers are refused from the moment it is called.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, name := range names {
		s.Cancel(name)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	defer s.cancel()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
