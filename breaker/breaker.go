// Package breaker implements a per-layer circuit breaker: a simple
// two-state (closed/open) gate with a failure threshold and a break
// duration, as opposed to sony/gobreaker's closed/half-open/open state
// machine, which does not map cleanly onto a breaker that transparently
// resets once its break deadline passes. See DESIGN.md for the rationale.
package breaker

import (
	"sync"
	"time"
)

// Config configures a CircuitBreaker.
type Config struct {
	// Threshold is the number of consecutive failures (with no intervening
	// success) that opens the breaker.
	Threshold int
	// BreakDuration is how long the breaker stays open once tripped.
	BreakDuration time.Duration
	// OnTrip, if non-nil, is called once per closed->open transition (not
	// on every failure recorded while already open).
	OnTrip func()
}

// CircuitBreaker gates calls to a single failure-prone layer (an L2 driver
// or a transport). All transitions are atomic last-writer-wins under a
// single mutex; there is no half-open probing state in this model.
type CircuitBreaker struct {
	mu            sync.Mutex
	threshold     int
	breakDuration time.Duration
	failureCount  int
	openUntil     time.Time // zero value means "not open"
	now           func() time.Time
	onTrip        func()
}

// New creates a CircuitBreaker from cfg. A zero Threshold disables tripping
// (IsOpen always returns false).
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:     cfg.Threshold,
		breakDuration: cfg.BreakDuration,
		now:           time.Now,
		onTrip:        cfg.OnTrip,
	}
}

// IsOpen reports whether the breaker currently short-circuits calls. If the
// breaker was open but openUntil has passed, it transitions to closed and
// resets failureCount as a side effect of this call.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOpenLocked()
}

func (b *CircuitBreaker) isOpenLocked() bool {
	if b.openUntil.IsZero() {
		return false
	}
	if !b.now().Before(b.openUntil) {
		b.openUntil = time.Time{}
		b.failureCount = 0
		return false
	}
	return true
}

// RecordSuccess resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.threshold <= 0 {
		return
	}
	b.failureCount++
	if b.failureCount >= b.threshold {
		wasOpen := !b.openUntil.IsZero() && b.now().Before(b.openUntil)
		b.openUntil = b.now().Add(b.breakDuration)
		if !wasOpen && b.onTrip != nil {
			b.onTrip()
		}
	}
}

// Reset forces the breaker closed, discarding any failure count.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.openUntil = time.Time{}
}
