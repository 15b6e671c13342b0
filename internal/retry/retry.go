// Package retry implements exponential backoff with jitter and a
// per-identifier circuit breaker, grounded on the teacher's
// RetryManager (internal/transport/retry_manager.go). spec.md §4.2
// states reconnect is never automatic — the caller always reissues
// Connect — so this package governs backoff *within* a single
// caller-driven retry loop around one connect attempt, never a
// background reconnect loop.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// CircuitState is the state of a per-identifier circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Manager tracks failure counts and backoff timing per identifier
// (typically a transport+host key), so a flaky FTP host doesn't share
// a circuit with an unrelated HTTP endpoint.
type Manager struct {
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFactor      float64

	mu       sync.Mutex
	failures map[string]int
	state    map[string]CircuitState
}

// New creates a Manager with sane defaults.
func New() *Manager {
	return &Manager{
		MaxRetries:        5,
		BaseBackoff:       100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
		failures:          make(map[string]int),
		state:             make(map[string]CircuitState),
	}
}

// ShouldRetry reports whether another attempt should be made for the
// given 1-indexed attempt number. It never consults err today (every
// ConnectionError is retryable up to MaxRetries) but keeps the
// parameter so a caller can extend it without an API break.
func (r *Manager) ShouldRetry(attempt int, err error) bool {
	return attempt < r.MaxRetries
}

// NextBackoff computes the delay before the next attempt: the
// exponential delay is raised to the last observed RTT, capped at
// MaxBackoff, then given +/-JitterFactor jitter to avoid thundering-herd
// reconnects and floored at BaseBackoff. With JitterFactor 0 and an RTT
// below MaxBackoff the result is never shorter than RTT; jitter or the
// cap can take it below RTT.
func (r *Manager) NextBackoff(attempt int, rtt time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := float64(r.BaseBackoff) * math.Pow(r.BackoffMultiplier, float64(attempt-1))
	if rtt > 0 && float64(rtt) > backoff {
		backoff = float64(rtt)
	}
	if backoff > float64(r.MaxBackoff) {
		backoff = float64(r.MaxBackoff)
	}
	jitter := backoff * r.JitterFactor * (rand.Float64()*2 - 1)
	backoff += jitter
	if backoff < float64(r.BaseBackoff) {
		backoff = float64(r.BaseBackoff)
	}
	return time.Duration(backoff)
}

// RecordSuccess resets the failure count and closes the circuit for id.
func (r *Manager) RecordSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, id)
	r.state[id] = CircuitClosed
}

// RecordFailure increments the failure count for id, opening its
// circuit once MaxRetries consecutive failures accumulate.
func (r *Manager) RecordFailure(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id]++
	if r.failures[id] >= r.MaxRetries {
		r.state[id] = CircuitOpen
	}
}

// CircuitStateFor returns the current circuit state for id (closed if
// unknown).
func (r *Manager) CircuitStateFor(id string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.state[id]; ok {
		return s
	}
	return CircuitClosed
}
