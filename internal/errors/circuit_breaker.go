package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otto/internal/logging"
)

// CircuitState is the breaker's position: closed passes requests through,
// open rejects them, half-open lets probes test whether the backend
// recovered.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig tunes when the breaker trips and recovers.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // probes that must succeed before closing again
	Timeout          time.Duration // how long to stay open before probing
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker guards an unreliable collaborator, such as the reasoning
// backend, so a dead service fails fast instead of eating the retry budget
// on every call.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger

	mu          sync.Mutex
	state       CircuitState
	failures    int
	probesOK    int
	lastFailure time.Time
}

func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.OrNop(logger),
		state:  StateClosed,
	}
}

// Execute runs fn unless the breaker is open, and feeds the outcome back
// into the trip logic.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteFunc is Execute for value-returning calls. A free function because
// methods cannot be generic.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	cb.record(err)
	return result, err
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// admit decides whether a request may pass. An open breaker flips to
// half-open once the timeout since the last failure has elapsed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}

	waited := time.Since(cb.lastFailure)
	if waited >= cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.probesOK = 0
		cb.logger.Info("[%s] breaker half-open, probing", cb.name)
		return nil
	}

	return NewDegradedError(
		fmt.Errorf("circuit breaker open for %s", cb.name),
		fmt.Sprintf("Service '%s' is temporarily unavailable after repeated failures. Retrying in %v.",
			cb.name, cb.config.Timeout-waited),
		"",
	)
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.lastFailure = time.Now()
		switch cb.state {
		case StateClosed:
			cb.failures++
			if cb.failures >= cb.config.FailureThreshold {
				cb.state = StateOpen
				cb.logger.Warn("[%s] breaker opened after %d consecutive failures", cb.name, cb.failures)
			}
		case StateHalfOpen:
			// One failed probe sends the breaker straight back to open.
			cb.state = StateOpen
			cb.probesOK = 0
			cb.logger.Warn("[%s] probe failed, breaker reopened", cb.name)
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probesOK++
		if cb.probesOK >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.probesOK = 0
			cb.logger.Info("[%s] breaker closed, service recovered", cb.name)
		}
	}
}
