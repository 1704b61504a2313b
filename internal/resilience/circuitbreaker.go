// Package resilience protects earshot's outbound calls.
//
// [CircuitBreaker] is a three-state breaker. The webhook sink wraps every
// delivery in one, so a dead consumer costs a fast rejection instead of a
// full timeout per utterance. [FallbackGroup] gives each backend of one kind
// its own breaker and [STTFallback] uses it to fail over between
// transcription engines shared by all connections.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while a breaker is open
// or its half-open probe budget is spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls are rejected until ResetTimeout elapses
	StateHalfOpen              // up to HalfOpenMax probe calls pass
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	Name string

	MaxFailures  int           // consecutive failures that open the circuit; 5
	ResetTimeout time.Duration // time spent open before probing; 30s
	HalfOpenMax  int           // successful probes needed to close; 3

	// IsFailure classifies a call error. By default every error counts
	// except context cancellation, which means the caller gave up rather
	// than that the backend failed.
	IsFailure func(error) bool

	// OnStateChange runs after each transition with the breaker locked. It
	// must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	Now func() time.Time
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // calls admitted in the current half-open period
	passed   int // of which succeeded
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Name is the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the circuit rejects it and returns fn's error.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// State reports the current state. An open breaker whose reset timeout has
// passed reports half-open; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooled() {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		if !cb.cooled() {
			return false, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.cfg.IsFailure(err) {
		if !probe {
			cb.failures = 0
			return
		}
		cb.passed++
		if cb.state == StateHalfOpen && cb.passed >= cb.cfg.HalfOpenMax {
			cb.moveTo(StateClosed)
		}
		return
	}

	cb.failures++
	if probe || cb.failures >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Now()
		cb.moveTo(StateOpen)
	}
}

// moveTo switches state and resets the counters of the state entered.
// cb.mu must be held.
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probes, cb.passed = 0, 0
	}

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state change",
		"name", cb.cfg.Name, "from", from.String(), "to", to.String(), "failures", cb.failures)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
