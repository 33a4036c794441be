// Package breaker implements the circuit breaker guarding registry
// access: closed -> open after N consecutive failures, then a single
// half-open probe once the cooldown elapses.
package breaker

import (
	"sync"
	"time"
)

const (
	DefaultThreshold = 3
	DefaultCooldown  = 60 * time.Second
)

// Breaker is shared by every worker goroutine; all methods are safe for
// concurrent use.
type Breaker struct {
	mu                  sync.Mutex
	threshold           int
	cooldown            time.Duration
	consecutiveFailures int
	lastFailure         time.Time
	open                bool
	probing             bool

	now func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// ShouldBlock reports whether the caller must fail fast instead of
// touching the registry. Once the cooldown has elapsed it lets exactly
// one caller through as the half-open probe; everyone else keeps
// blocking until that probe resolves.
func (b *Breaker) ShouldBlock() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false
	}
	if b.probing {
		return true
	}
	if b.now().Sub(b.lastFailure) > b.cooldown {
		b.probing = true
		return false
	}
	return true
}

// RecordSuccess resets counters and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.open = false
	b.probing = false
}

// RecordFailure counts a failed registry call. Reaching the threshold
// opens the circuit; a failed half-open probe restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = b.now()
	b.probing = false
	if b.consecutiveFailures >= b.threshold {
		b.open = true
	}
}

// State is a point-in-time view for the health surface.
type State struct {
	Open                bool
	ConsecutiveFailures int
	LastFailure         time.Time
}

func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return State{
		Open:                b.open,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailure:         b.lastFailure,
	}
}
