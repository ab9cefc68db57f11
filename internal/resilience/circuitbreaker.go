// Package resilience provides the circuit breaker that guards audio playback.
//
// A [CircuitBreaker] is a three-state breaker (closed, open, half-open). After
// MaxFailures consecutive failures it opens and rejects calls with
// [ErrCircuitOpen] until ResetTimeout has elapsed. The next call is then let
// through as a single probe: success closes the breaker, failure re-opens it.
//
// All methods are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open or a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets exactly one probe call through.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is used in log messages and errors.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange, if set, is called after every transition. It runs
	// without the breaker lock held.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Tests use it to move time forward.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields take their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		onChange:     cfg.OnStateChange,
		now:          cfg.Now,
	}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it. A rejected call returns
// [ErrCircuitOpen] without invoking fn. A [context.Canceled] error from fn is
// passed through but not counted as a failure; deadlines are.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	var from, to State
	changed := false
	cb.mu.Lock()
	switch {
	case err == nil:
		from, to, changed = cb.setState(StateClosed)
		cb.failures = 0
	case errors.Is(err, context.Canceled):
		// Cancellation says nothing about the backend.
	case probe:
		cb.openedAt = cb.now()
		from, to, changed = cb.setState(StateOpen)
	default:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			from, to, changed = cb.setState(StateOpen)
		}
	}
	if probe {
		cb.probing = false
	}
	failures := cb.failures
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to, failures)
	}
	return err
}

// admit decides whether a call may proceed and whether it is the half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from, to State
	changed := false
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, fmt.Errorf("resilience: %s: %w", cb.name, ErrCircuitOpen)
		}
		from, to, changed = cb.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return false, fmt.Errorf("resilience: %s: %w", cb.name, ErrCircuitOpen)
		}
		cb.probing = true
		probe = true
	}
	failures := cb.failures
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to, failures)
	}
	return probe, nil
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) (from, to State, changed bool) {
	from = cb.state
	cb.state = s
	return from, s, from != s
}

func (cb *CircuitBreaker) notify(from, to State, failures int) {
	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.name, "from", from, "consecutive_failures", failures)
	default:
		slog.Info("circuit breaker state change", "name", cb.name, "from", from, "to", to)
	}
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call to Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Check reports an error while the breaker is open. It satisfies the
// readiness checker signature used by the health endpoints.
func (cb *CircuitBreaker) Check(context.Context) error {
	if cb.State() == StateOpen {
		return fmt.Errorf("resilience: %s: %w", cb.name, ErrCircuitOpen)
	}
	return nil
}

// Reset forces the breaker back to [StateClosed] and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, to, changed := cb.setState(StateClosed)
	cb.failures = 0
	cb.probing = false
	cb.mu.Unlock()
	if changed {
		cb.notify(from, to, 0)
	}
}
