// Package breaker counts consecutive job failures and trips once a threshold
// is reached. A tripped breaker stays tripped for the life of the process.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrTripped is returned by Allow once the breaker has tripped
var ErrTripped = errors.New("circuit breaker tripped")

// State of a breaker
type State int

const (
	Active State = iota
	Tripped
)

func (s State) String() string {
	if s == Tripped {
		return "tripped"
	}
	return "active"
}

// Breaker is safe for concurrent use. Several jobs may share one breaker, in
// which case their failures count toward the same threshold.
type Breaker struct {
	name          string
	maxErrorCount int
	logger        *slog.Logger

	mu       sync.Mutex
	failures int
	tripped  bool
	onTrip   []func()
}

// New returns an active breaker. A maxErrorCount of zero or less never trips.
func New(name string, maxErrorCount int, logger *slog.Logger) *Breaker {
	return &Breaker{
		name:          name,
		maxErrorCount: maxErrorCount,
		logger:        logger.With("breaker", name),
	}
}

// Name returns the breaker name
func (b *Breaker) Name() string { return b.name }

// OnTrip registers f to run once, at the moment the breaker trips
func (b *Breaker) OnTrip(f func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = append(b.onTrip, f)
}

// Allow reports whether another invocation may run
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return ErrTripped
	}
	return nil
}

// Record feeds one invocation outcome into the breaker. Every non-nil error
// counts the same. It returns true only for the call that trips the breaker.
func (b *Breaker) Record(err error) bool {
	b.mu.Lock()
	if b.tripped {
		b.mu.Unlock()
		return false
	}

	if err == nil {
		b.failures = 0
		b.mu.Unlock()
		return false
	}

	b.failures++
	if b.maxErrorCount <= 0 || b.failures < b.maxErrorCount {
		b.mu.Unlock()
		return false
	}

	b.tripped = true
	callbacks := append([]func(){}, b.onTrip...)
	failures := b.failures
	b.mu.Unlock()

	b.logger.Error("circuit breaker tripped, cancelling schedule", "failures", failures, "last_err", err)
	for _, f := range callbacks {
		f()
	}
	return true
}

// Failures returns the current consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// State returns Active or Tripped
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return Tripped
	}
	return Active
}
