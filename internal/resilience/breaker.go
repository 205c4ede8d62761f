// Package resilience keeps a flaky conversational or synthesis backend from
// dragging down the utterance pipeline. A [Breaker] stops forwarding calls to
// a backend that keeps failing, and the provider fallback wrappers
// ([ResponderFallback], [SynthesizerFallback]) route each call to the first
// backend whose breaker still admits it.
//
// Transcription is deliberately not wrapped here: an utterance gets exactly
// one transcription attempt, because a transcript that arrives seconds late
// is useless to a live conversation.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Execute] while the breaker refuses
// calls to its backend.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State is the breaker's admission mode.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota

	// StateOpen refuses every call until the retry delay elapses.
	StateOpen

	// StateHalfOpen admits a small probe budget to test whether the backend
	// recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults.
type BreakerConfig struct {
	// Name labels the backend in log messages.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker open.
	// Default: 5.
	MaxFailures int

	// RetryAfter is how long an open breaker refuses calls before probing
	// the backend again. Default: 30s.
	RetryAfter time.Duration

	// ProbeBudget is how many calls the half-open state admits; that many
	// consecutive probe successes close the breaker, any probe failure
	// reopens it. Default: 3.
	ProbeBudget int
}

func (c *BreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = 30 * time.Second
	}
	if c.ProbeBudget <= 0 {
		c.ProbeBudget = 3
	}
}

// Breaker guards one backend. It trips open after MaxFailures consecutive
// failures, refuses calls for RetryAfter, then admits a probe budget to
// decide between closing again and reopening.
type Breaker struct {
	cfg BreakerConfig

	mu         sync.Mutex
	st         State
	failures   int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{cfg: cfg}
}

// Execute runs fn if the breaker admits the call, otherwise it returns
// [ErrBreakerOpen] without calling fn. The outcome of fn feeds the breaker's
// failure accounting and is returned as-is.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn()
	b.observe(probe, callErr)
	return callErr
}

// admit decides whether a call may go through and whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.RetryAfter {
			return false, ErrBreakerOpen
		}
		b.st = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("breaker probing backend again", "backend", b.cfg.Name)
		fallthrough

	case StateHalfOpen:
		if b.probes >= b.cfg.ProbeBudget {
			return false, ErrBreakerOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// observe feeds one call outcome into the state machine.
func (b *Breaker) observe(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		if !probe {
			b.failures = 0
			return
		}
		if b.probes-b.probeFails >= b.cfg.ProbeBudget {
			b.st = StateClosed
			b.failures = 0
			slog.Info("breaker closed, backend healthy again", "backend", b.cfg.Name)
		}
		return
	}

	if probe {
		// Any probe failure reopens immediately.
		b.probeFails++
		b.st = StateOpen
		b.openedAt = time.Now()
		slog.Warn("breaker reopened, probe failed", "backend", b.cfg.Name)
		return
	}

	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.st = StateOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened",
			"backend", b.cfg.Name, "consecutive_failures", b.failures)
	}
}

// State reports the current admission mode. An open breaker whose retry delay
// has elapsed reports half-open; the actual transition happens on the next
// Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == StateOpen && time.Since(b.openedAt) >= b.cfg.RetryAfter {
		return StateHalfOpen
	}
	return b.st
}

// Reset forces the breaker closed and clears all failure accounting.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
	slog.Info("breaker manually reset", "backend", b.cfg.Name)
}
