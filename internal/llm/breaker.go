package llm

import (
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 5
	defaultFailureWindow    = 60 * time.Second
	defaultCooldown         = 30 * time.Second
)

// Breaker is a keyed circuit breaker. Failures are counted in a sliding time
// window per key; once the threshold is reached the key opens and calls are
// rejected without network I/O until the cooldown elapses. A single success
// clears the window and closes the key.
//
// State is process-local and owned by whoever constructs it: callers receive
// it by injection, never via package globals. Each enrichment process handles
// a bounded slice of traffic, so per-process open/closed decisions are
// acceptable.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration
	states    map[string]*breakerState
	now       func() time.Time
}

type breakerState struct {
	failures []time.Time
	openedAt time.Time
	open     bool
}

// NewBreaker creates a Breaker. Non-positive arguments fall back to defaults.
func NewBreaker(threshold int, window, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if window <= 0 {
		window = defaultFailureWindow
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		states:    make(map[string]*breakerState),
		now:       time.Now,
	}
}

// Allow reports whether a call for key may proceed. Returns ErrCircuitOpen
// while the key is open and its cooldown has not elapsed.
func (b *Breaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[key]
	if !ok || !st.open {
		return nil
	}
	if b.now().Sub(st.openedAt) >= b.cooldown {
		// Cooldown over: let one call probe the provider. The breaker stays
		// formally open until that probe succeeds.
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess clears the failure window for key and closes it.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.states[key]; ok {
		st.failures = nil
		st.open = false
	}
}

// RecordFailure adds a failure for key and opens it once the in-window count
// reaches the threshold.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[key]
	if !ok {
		st = &breakerState{}
		b.states[key] = st
	}

	now := b.now()
	cutoff := now.Add(-b.window)
	kept := st.failures[:0]
	for _, t := range st.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.failures = append(kept, now)

	if len(st.failures) >= b.threshold {
		st.open = true
		st.openedAt = now
	} else if st.open {
		// A failed probe re-arms the cooldown.
		st.openedAt = now
	}
}

// IsOpen reports the current open state of key.
func (b *Breaker) IsOpen(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[key]
	return ok && st.open
}
