package resilience

import (
	"context"
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// Guard combines a gateway's breaker with retries. Each retry goes
// through the breaker so an opening circuit stops further attempts.
type Guard struct {
	Name    string
	Breaker *CircuitBreaker
	Retry   RetryConfig
}

// NewGuard builds a Guard for the named gateway. A nil breakers registry
// disables the circuit breaker.
func NewGuard(name string, breakers *Breakers, retry RetryConfig) Guard {
	g := Guard{Name: name, Retry: retry}
	if breakers != nil {
		g.Breaker = breakers.Get(name)
	}
	if g.Retry.OnRetry == nil {
		g.Retry.OnRetry = RetryLogger(name)
	}
	return g
}

// Call runs fn under the guard.
func Call[T any](ctx context.Context, g Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	return Do(ctx, g.Retry, func(ctx context.Context) (T, error) {
		if g.Breaker == nil {
			return fn(ctx)
		}
		return Execute(ctx, g.Breaker, fn)
	})
}
