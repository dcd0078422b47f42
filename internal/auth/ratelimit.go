package auth

import (
	"sync"
	"time"
)

// Rate limiter defaults: an address that fails maxFailures times within
// the window is locked out until the oldest failure ages past it.
const (
	DefaultMaxFailures = 5
	DefaultWindow      = 300 * time.Second
)

// Limiter tracks failed login attempts per remote address. Successful
// logins clear the address's history. Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	maxFailures int
	window      time.Duration
	now         func() time.Time // injectable for tests
	failures    map[string][]time.Time
}

// NewLimiter creates a limiter. Non-positive arguments fall back to the
// package defaults.
func NewLimiter(maxFailures int, window time.Duration) *Limiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		maxFailures: maxFailures,
		window:      window,
		now:         time.Now,
		failures:    make(map[string][]time.Time),
	}
}

// Allowed reports whether addr may attempt a login. When blocked, the
// second return is how long until the next attempt is permitted.
func (l *Limiter) Allowed(addr string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(addr)
	if len(recent) < l.maxFailures {
		return true, 0
	}
	retryIn := recent[0].Add(l.window).Sub(l.now())
	return false, retryIn
}

// RecordFailure registers a failed attempt for addr.
func (l *Limiter) RecordFailure(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[addr] = append(l.prune(addr), l.now())
}

// RecordSuccess clears addr's failure history.
func (l *Limiter) RecordSuccess(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, addr)
}

// prune drops failures older than the window. Caller holds the lock.
func (l *Limiter) prune(addr string) []time.Time {
	cutoff := l.now().Add(-l.window)
	recent := l.failures[addr][:0]
	for _, t := range l.failures[addr] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		delete(l.failures, addr)
		return nil
	}
	l.failures[addr] = recent
	return recent
}
