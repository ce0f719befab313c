package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by CircuitBreaker.Allow while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig configures CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before allowing a
	// single trial request through.
	OpenTimeout time.Duration
}

// DefaultCircuitBreakerConfig mirrors the thresholds the core ships with.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: 30 * time.Second}
}

// CircuitBreaker is a process-wide, single-owner breaker: Executor calls
// Allow before a retry envelope runs and Success/Failure after it
// completes. State mutation is internal and mutex-guarded.
type CircuitBreaker struct {
	mu          sync.Mutex
	cfg         CircuitBreakerConfig
	failures    int
	open        bool
	openedAt    time.Time
}

// NewCircuitBreaker builds a breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg}
}

// Allow reports ErrOpen if the circuit is open and its timeout has
// not yet elapsed. Once the timeout elapses, it lets one trial request
// through without resetting state (reset happens on Success); the open
// window restarts, so callers after the trial are refused again.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if time.Since(b.openedAt) > b.cfg.OpenTimeout {
		b.openedAt = time.Now()
		return nil
	}
	return ErrOpen
}

// Success resets the breaker to closed with a clean failure count.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// Failure records a failure, opening the circuit once the threshold is
// reached (or re-opening it if the trial request after an open timeout
// also failed).
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.open || b.failures >= b.cfg.FailureThreshold {
		b.open = true
		b.openedAt = time.Now()
	}
}

// IsOpen reports the breaker's current state, for metrics/diagnostics.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
