// Package resilience provides retry, circuit breaking and API key rotation
// for outbound provider calls.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal: requests pass through
	StateOpen                         // Tripped: requests are rejected
	StateHalfOpen                     // Probing: one request allowed
)

func (s CircuitState) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips open after consecutive failures reach a threshold and
// lets a probe through once the cooldown has elapsed.
type CircuitBreaker struct {
	mu sync.Mutex

	name                string
	state               CircuitState
	failureThreshold    int
	consecutiveFailures int
	cooldown            time.Duration
	lastFailure         time.Time
	onStateChange       func(name string, to CircuitState)

	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64
}

// CircuitBreakerConfig holds configuration for a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name             string        // Used in logs and state-change callbacks
	FailureThreshold int           // Number of consecutive failures to trip
	Cooldown         time.Duration // Time to wait before probing

	// OnStateChange is called (with the breaker lock held) on every transition.
	OnStateChange func(name string, to CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	return &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		onStateChange:    cfg.OnStateChange,
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Allow reports whether a request may proceed, counting rejections.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.cooldown {
			cb.transition(StateHalfOpen)
			return true
		}
		cb.totalRejected++
		return false
	default:
		return false
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.totalFailures++
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.transition(StateOpen)
	}
}

// RecordSuccess records a successful call; any success closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.consecutiveFailures = 0
	cb.transition(StateClosed)
}

// Counts returns the lifetime success, failure and rejection counters.
func (cb *CircuitBreaker) Counts() (successes, failures, rejected int64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalSuccesses, cb.totalFailures, cb.totalRejected
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	cb.state = to
	if to == StateOpen {
		slog.Warn("circuit breaker opened", "name", cb.name, "failures", cb.consecutiveFailures)
	} else {
		slog.Info("circuit breaker state change", "name", cb.name, "state", to.String())
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, to)
	}
}
