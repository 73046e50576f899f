// Package resilience guards sub-model calls against cascading failures.
package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState is the current state of a circuit breaker.
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

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker half-open: test in progress")
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	OnStateChange    func(from, to CircuitState)
}

// DefaultBreakerConfig returns the default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker fails fast when a sub-model endpoint is unhealthy, instead
// of piling up timeouts against it.
type CircuitBreaker struct {
	config BreakerConfig

	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenInFlight bool

	totalCalls      int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
}

// NewCircuitBreaker creates a circuit breaker with the given configuration.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Call executes fn if the circuit allows it.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		atomic.AddInt64(&cb.totalRejections, 1)
		return ErrCircuitOpen
	}
	atomic.AddInt64(&cb.totalCalls, 1)

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the current circuit state, applying the open-to-half-open
// timer transition as a side effect if the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
		cb.transitionTo(StateHalfOpen)
	}
	return cb.state
}

// Reset forces the circuit back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenInFlight = false
}

// BreakerMetrics is a snapshot of circuit breaker counters.
type BreakerMetrics struct {
	State           CircuitState
	TotalCalls      int64
	TotalFailures   int64
	TotalSuccesses  int64
	TotalRejections int64
	FailureCount    int
	LastStateChange time.Time
}

// Metrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	cb.mu.Lock()
	state := cb.state
	failureCount := cb.failureCount
	lastStateChange := cb.lastStateChange
	cb.mu.Unlock()

	return BreakerMetrics{
		State:           state,
		TotalCalls:      atomic.LoadInt64(&cb.totalCalls),
		TotalFailures:   atomic.LoadInt64(&cb.totalFailures),
		TotalSuccesses:  atomic.LoadInt64(&cb.totalSuccesses),
		TotalRejections: atomic.LoadInt64(&cb.totalRejections),
		FailureCount:    failureCount,
		LastStateChange: lastStateChange,
	}
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.AddInt64(&cb.totalSuccesses, 1)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		cb.halfOpenInFlight = false
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddInt64(&cb.totalFailures, 1)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.halfOpenInFlight = false
		cb.successCount = 0
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(oldState, newState)
	}
}

// Registry manages one circuit breaker per model ID, created lazily.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
}

// NewRegistry creates a registry with the given default config.
func NewRegistry(config BreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the circuit breaker for a model, creating one if necessary.
func (r *Registry) Get(model string) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[model]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[model]; ok {
		return cb
	}
	cb := NewCircuitBreaker(r.config)
	r.breakers[model] = cb
	return cb
}

// AggregateMetrics returns combined metrics across all registered breakers.
func (r *Registry) AggregateMetrics() map[string]BreakerMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]BreakerMetrics, len(r.breakers))
	for model, cb := range r.breakers {
		result[model] = cb.Metrics()
	}
	return result
}
