// Package breaker implements a consecutive-failure circuit breaker.
package breaker

import (
	"log"
	"sync"
	"time"

	"github.com/mood-agency/funny-sub004/internal/errkind"
)

// State is the breaker position.
type State string

const (
	// StateClosed lets calls through.
	StateClosed State = "closed"
	// StateOpen fails calls immediately.
	StateOpen State = "open"
	// StateHalfOpen lets a single probe call through.
	StateHalfOpen State = "half_open"
)

// Breaker wraps calls to one external collaborator and opens after a run of
// consecutive failures. After the reset timeout it admits one probe; a
// successful probe closes the breaker, a failing one re-opens it.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a breaker named for its collaborator. threshold is the number
// of consecutive failures that opens it.
func New(name string, threshold int, resetTimeout time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// Do runs fn unless the breaker is open. An open breaker returns a
// CircuitOpen error without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probing {
			return errkind.Errorf(errkind.CircuitOpen, "breaker."+b.name, "circuit half-open, probe in flight")
		}
		b.probing = true
		return nil
	default: // StateOpen
		if time.Since(b.openedAt) < b.resetTimeout {
			return errkind.Errorf(errkind.CircuitOpen, "breaker."+b.name, "circuit open")
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	}
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if ok {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openedAt = time.Now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	log.Printf("[breaker] %s: %s -> %s (failures=%d)", b.name, b.state, to, b.failures)
	b.state = to
}

// Name returns the collaborator this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure run length.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
