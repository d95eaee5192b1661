package explorer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// breaker is a minimal circuit breaker guarding one explorer upstream.
// After failureThreshold consecutive failures it rejects calls until
// recoveryTimeout passes, then lets a probe call through.
type breaker struct {
	mu               sync.Mutex
	failureThreshold int
	recoveryTimeout  time.Duration

	failures    int
	open        bool
	lastFailure time.Time
}

func newBreaker(failureThreshold int, recoveryTimeout time.Duration) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &breaker{failureThreshold: failureThreshold, recoveryTimeout: recoveryTimeout}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	// Let a probe through once the recovery window has passed.
	return time.Since(b.lastFailure) > b.recoveryTimeout
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.open = false
		return
	}
	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.failureThreshold {
		b.open = true
	}
}

// guard runs fn behind the breaker. Domain results like ErrTxNotFound and
// ErrNoTransferToTarget count as healthy upstream responses.
func guard[T any](ctx context.Context, b *breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, ErrUpstreamUnhealthy
	}
	out, err := fn(ctx)
	switch {
	case err == nil, isDomainErr(err):
		b.record(nil)
	default:
		b.record(err)
	}
	return out, err
}

func isDomainErr(err error) bool {
	return errors.Is(err, ErrTxNotFound) || errors.Is(err, ErrNoTransferToTarget)
}
