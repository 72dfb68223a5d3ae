// Package ratelimit implements cooperative request throttling against a
// trailing one-minute window, matching the per-minute request weight cap
// enforced by the Binance spot API.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultCallsPerMinute matches the Binance spot API weight ceiling.
const DefaultCallsPerMinute = 1200

const window = time.Minute

// Limiter throttles callers so that no more than callsPerMinute calls occur
// within any trailing 60-second window. It is cooperative, not distributed:
// correct only for a single process sharing one instance. The mutex keeps
// the call record consistent if callers are ever parallelized; ordering
// fairness across concurrent waiters is not guaranteed.
type Limiter struct {
	mu             sync.Mutex
	callsPerMinute int
	calls          []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleeper replaces the blocking sleep. Used by tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// New creates a limiter allowing callsPerMinute calls per trailing minute.
// Values <= 0 fall back to DefaultCallsPerMinute.
func New(callsPerMinute int, opts ...Option) *Limiter {
	if callsPerMinute <= 0 {
		callsPerMinute = DefaultCallsPerMinute
	}
	l := &Limiter{
		callsPerMinute: callsPerMinute,
		calls:          make([]time.Time, 0, callsPerMinute),
		now:            time.Now,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until the caller may perform another call, then records the
// call time. The only failure mode is context cancellation during the wait;
// throttling itself never fails.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	l.prune(now)

	var wait time.Duration
	if len(l.calls) >= l.callsPerMinute {
		// Wait until the oldest recorded call turns one window old.
		wait = l.calls[0].Add(window).Sub(now)
	}
	l.mu.Unlock()

	if wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now = l.now()
	l.prune(now)
	l.calls = append(l.calls, now)
	return nil
}

// Pending returns the number of calls currently recorded inside the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.calls)
}

// prune drops recorded call times older than the window. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
	// Bound the record to the most recent callsPerMinute entries.
	if len(l.calls) > l.callsPerMinute {
		l.calls = append(l.calls[:0], l.calls[len(l.calls)-l.callsPerMinute:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
