// Package resilience provides retries and circuit breakers for gateway calls.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the state of a breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout passes.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failures that open the circuit. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open. Default: 30s.
	ResetTimeout time.Duration
	// HalfOpenMaxProbes is the successful probes needed to close. Default: 1.
	HalfOpenMaxProbes int
	// ShouldTrip decides which errors count as failures. Default: all.
	ShouldTrip func(err error) bool
	// OnStateChange runs on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker guards one upstream gateway.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	failures        int
	lastFailure     time.Time
	halfOpenSuccess int

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a breaker, filling unset config with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed, nowFunc: time.Now}
}

// Execute runs fn unless the circuit is open, recording the outcome.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State returns the current state, reporting half-open once an open
// circuit's reset timeout has passed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.halfOpenSuccess = 0
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.nowFunc().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		cb.transition(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	trips := err != nil
	if trips && cb.cfg.ShouldTrip != nil {
		trips = cb.cfg.ShouldTrip(err)
	}

	if !trips {
		switch cb.state {
		case CircuitHalfOpen:
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.cfg.HalfOpenMaxProbes {
				cb.failures = 0
				cb.halfOpenSuccess = 0
				cb.transition(CircuitClosed)
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	cb.lastFailure = cb.nowFunc()
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.halfOpenSuccess = 0
		cb.transition(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// Breakers hands out one breaker per gateway name.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewBreakers creates a registry whose breakers share cfg.
func NewBreakers(cfg CircuitBreakerConfig) *Breakers {
	return &Breakers{breakers: make(map[string]*CircuitBreaker), cfg: cfg}
}

// Get returns the breaker for gateway, creating it on first use.
func (b *Breakers) Get(gateway string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[gateway]; ok {
		return cb
	}
	cfg := b.cfg
	user := cfg.OnStateChange
	cfg.OnStateChange = func(from, to CircuitState) {
		zap.L().Warn("resilience: circuit state change",
			zap.String("gateway", gateway),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if user != nil {
			user(from, to)
		}
	}
	cb := NewCircuitBreaker(cfg)
	b.breakers[gateway] = cb
	return cb
}

// States snapshots every breaker's state.
func (b *Breakers) States() map[string]CircuitState {
	b.mu.Lock()
	cbs := make(map[string]*CircuitBreaker, len(b.breakers))
	for name, cb := range b.breakers {
		cbs[name] = cb
	}
	b.mu.Unlock()

	states := make(map[string]CircuitState, len(cbs))
	for name, cb := range cbs {
		states[name] = cb.State()
	}
	return states
}
