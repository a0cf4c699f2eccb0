// Package resilience wraps outbound calls with per-source rate
// limiting and retry-with-backoff.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/tidemark/conflux/errors"
)

// waitEpsilon pads the computed sleep so the oldest timestamp has
// actually left the window when the caller wakes up.
const waitEpsilon = 10 * time.Millisecond

// Limiter enforces max calls per time window using a sliding window of
// call timestamps.
type Limiter struct {
	callsPerPeriod int
	period         time.Duration
	mu             sync.Mutex
	callTimes      []time.Time
	timeNow        func() time.Time // Injectable for testing
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(callsPerPeriod int, period time.Duration) *Limiter {
	return NewLimiterWithClock(callsPerPeriod, period, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing).
// A non-positive quota is clamped to one call per period; a quota of
// zero would leave Wait with no slot to ever free up.
func NewLimiterWithClock(callsPerPeriod int, period time.Duration, timeNow func() time.Time) *Limiter {
	if callsPerPeriod < 1 {
		callsPerPeriod = 1
	}
	return &Limiter{
		callsPerPeriod: callsPerPeriod,
		period:         period,
		callTimes:      make([]time.Time, 0, callsPerPeriod),
		timeNow:        timeNow,
	}
}

// Allow checks if a call is allowed under the quota and records it.
// Returns an error if the window is full.
func (l *Limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpiredCalls(now)

	if len(l.callTimes) >= l.callsPerPeriod {
		return errors.Newf("rate limit exceeded: %d calls in window (limit: %d per %s)",
			len(l.callTimes), l.callsPerPeriod, l.period)
	}

	l.callTimes = append(l.callTimes, now)
	return nil
}

// Wait blocks until a call slot is free, then records the call.
// Blocking is local to the calling goroutine: no lock is held while
// sleeping, and the sleep is cancellable through ctx.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.timeNow()
		l.removeExpiredCalls(now)

		if len(l.callTimes) < l.callsPerPeriod {
			l.callTimes = append(l.callTimes, now)
			l.mu.Unlock()
			return nil
		}

		// Sleep until the oldest timestamp exits the window
		wait := l.period - now.Sub(l.callTimes[0]) + waitEpsilon
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// removeExpiredCalls removes call timestamps that are outside the sliding window
// Must be called with lock held
func (l *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-l.period)

	// Timestamps are ordered, so count expired calls from the front
	expired := 0
	for _, callTime := range l.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	l.callTimes = l.callTimes[expired:]
}

// Reset clears the rate limiter state
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.callTimes = l.callTimes[:0]
}

// Stats returns current rate limiter statistics
func (l *Limiter) Stats() (callsInWindow int, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpiredCalls(now)

	callsInWindow = len(l.callTimes)
	remaining = l.callsPerPeriod - callsInWindow
	if remaining < 0 {
		remaining = 0
	}

	return callsInWindow, remaining
}
