package routehealth

import (
	"sync"
	"time"
)

const (
	defaultFailThreshold = 3
	defaultCooldown      = 15 * time.Minute
)

type routeState struct {
	consecutiveFailures int
	lastFailureAt       time.Time
}

// Tracker is a per-route circuit breaker. A route that fails
// `threshold` times in a row is skipped until `cooldown` has elapsed since the
// last failure; the first success closes the route again.
//
// One tracker is owned by one service instance and shared by its workers, so
// every update goes through the mutex.
type Tracker struct {
	mu        sync.Mutex
	routes    map[string]*routeState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewTracker creates a tracker with the given threshold and
// cooldown; zero values select the defaults (3 failures, 15 minutes).
func NewTracker(threshold int, cooldown time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = defaultFailThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Tracker{
		routes:    make(map[string]*routeState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// ShouldSkip reports whether the route is currently open (cooling down).
// A route whose cooldown has elapsed is allowed one probe attempt; its state
// is kept so that another failure re-opens it for a full cooldown.
func (t *Tracker) ShouldSkip(route string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.routes[route]
	if !ok || state.consecutiveFailures < t.threshold {
		return false
	}
	return t.now().Sub(state.lastFailureAt) < t.cooldown
}

// RecordFailure increments the route's consecutive failure count and stamps
// the failure time.
func (t *Tracker) RecordFailure(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.routes[route]
	if !ok {
		state = &routeState{}
		t.routes[route] = state
	}
	state.consecutiveFailures++
	state.lastFailureAt = t.now()
}

// RecordSuccess closes the route, clearing any failure history.
func (t *Tracker) RecordSuccess(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.routes, route)
}

// Failures returns the current consecutive failure count for a route.
func (t *Tracker) Failures(route string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.routes[route]; ok {
		return state.consecutiveFailures
	}
	return 0
}
