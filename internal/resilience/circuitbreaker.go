// Package resilience contains the failure-containment primitives wrapped
// around Hearth's upstream calls: a circuit breaker per external service,
// bounded retries with exponential backoff, and per-category daily request
// budgets.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen reports that a [CircuitBreaker] rejected the call without
// attempting it because the guarded service is considered down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's operating mode.
type State int

const (
	// StateClosed forwards every call and counts failures.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after the
	// failure streak reaches the configured limit; left once the reset
	// timeout has passed.
	StateOpen

	// StateHalfOpen lets a small number of trial calls through to find out
	// whether the service has recovered. A clean run of trials closes the
	// breaker again; a single failed trial re-opens it.
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

// CircuitBreakerConfig tunes one [CircuitBreaker]. The zero value of any
// field selects its default.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output, usually the upstream it
	// guards ("weather", "llm:primary").
	Name string

	// MaxFailures is the closed-state failure streak that trips the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before it
	// starts letting trial calls through. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is how many trial calls the half-open state admits, and
	// how many must succeed for the breaker to close. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker guards one upstream service. While the service fails, calls
// are rejected up front instead of each one burning a timeout.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu          sync.Mutex
	state       State
	streak      int
	lastFailure time.Time
	trials      int
	trialFails  int
}

// NewCircuitBreaker builds a closed breaker from cfg, filling in defaults.
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
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker is rejecting calls, in which case it
// returns [ErrCircuitOpen] and fn is never invoked. The outcome of fn feeds
// the breaker's failure accounting.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trials = 0
		cb.trialFails = 0
		slog.Info("circuit breaker transitioning to half-open", "name", cb.name)

	case StateHalfOpen:
		if cb.trials >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	trial := cb.state == StateHalfOpen
	if trial {
		cb.trials++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure(trial)
	} else {
		cb.onSuccess(trial)
	}
	return err
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(trial bool) {
	cb.lastFailure = time.Now()

	if trial {
		// One failed trial is enough evidence the service is still down.
		cb.trialFails++
		cb.state = StateOpen
		cb.streak = cb.maxFailures
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)
		return
	}

	cb.streak++
	if cb.streak >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.streak)
	}
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(trial bool) {
	if !trial {
		cb.streak = 0
		return
	}
	if cb.trials-cb.trialFails >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.streak = 0
		cb.trials = 0
		cb.trialFails = 0
		slog.Info("circuit breaker closed after recovery", "name", cb.name)
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the stored state flips on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.streak = 0
	cb.trials = 0
	cb.trialFails = 0
}
