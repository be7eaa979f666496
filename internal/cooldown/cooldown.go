// Package cooldown implements the command cooldown bookkeeping: a global
// per-command ledger and a per-user sliding-window tracker that escalates heavy
// users to a longer cooldown.
//
// Every check in this package fails open: an invalid input or an internal failure
// yields "not on cooldown", so commands never block because the bookkeeping broke.
package cooldown

import (
	"sync"
	"time"
)

// heavyUseWindow is the sliding window inspected for per-user escalation
const heavyUseWindow = 6 * time.Minute

// heavyUseThreshold is the number of command uses within heavyUseWindow that flags
// a user as heavy
const heavyUseThreshold = 4

// Stats counts cooldown activity for the status endpoint
type Stats struct {
	Checks int64 `json:"checks"`
	Blocks int64 `json:"blocks"`
}

// Manager holds the global per-command cooldown ledger. It is constructed once in
// the composition root and shared by reference; it is not a package singleton.
type Manager struct {
	mu    sync.Mutex
	last  map[string]time.Time
	stats Stats
	now   func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// OnCooldown reports whether the named command is still within its cooldown. An
// empty name or non-positive cooldown is counted as a check but never blocks.
func (m *Manager) OnCooldown(name string, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Checks++
	if name == "" || cooldown <= 0 {
		return false
	}
	last, ok := m.last[name]
	if !ok {
		return false
	}
	if m.now().Sub(last) < cooldown {
		m.stats.Blocks++
		return true
	}
	return false
}

// Touch records an execution of the named command at the current instant
func (m *Manager) Touch(name string) {
	if name == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[name] = m.now()
}

// Remaining returns how much of the cooldown is left for the named command, zero if
// it has elapsed or was never started
func (m *Manager) Remaining(name string, cooldown time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.last[name]
	if !ok || cooldown <= 0 {
		return 0
	}
	remaining := cooldown - m.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClearExpired drops entries older than maxAge and returns how many were removed
func (m *Manager) ClearExpired(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := m.now().Add(-maxAge)
	for name, last := range m.last {
		if last.Before(cutoff) {
			delete(m.last, name)
			removed++
		}
	}
	return removed
}

// GetStats returns a snapshot of check/block counters
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// UserTracker keeps the per-user sliding window of command-use instants and the
// heavy-user flags derived from it
type UserTracker struct {
	mu         sync.Mutex
	timestamps map[string][]time.Time
	heavy      map[string]bool
	now        func() time.Time
}

func NewUserTracker() *UserTracker {
	return &UserTracker{
		timestamps: make(map[string][]time.Time),
		heavy:      make(map[string]bool),
		now:        time.Now,
	}
}

// RecordUse appends the current instant to the user's window, trims entries older
// than the heavy-use window, and sets the heavy flag once the threshold is reached
func (t *UserTracker) RecordUse(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-heavyUseWindow)
	kept := make([]time.Time, 0, len(t.timestamps[userID])+1)
	for _, ts := range t.timestamps[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	t.timestamps[userID] = kept

	if len(kept) >= heavyUseThreshold {
		t.heavy[userID] = true
	}
}

// Check reports whether the user may run a command right now. Heavy users are held
// to heavyCooldown; once that elapses the heavy flag clears and the user returns to
// the normal cooldown. Invalid inputs fail open.
func (t *UserTracker) Check(userID string, normalCooldown, heavyCooldown time.Duration) bool {
	if userID == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.timestamps[userID]
	if len(window) == 0 {
		return true
	}
	last := window[len(window)-1]
	elapsed := t.now().Sub(last)

	if t.heavy[userID] {
		if elapsed < heavyCooldown {
			return false
		}
		delete(t.heavy, userID)
		return true
	}
	return elapsed >= normalCooldown
}

// IsHeavy reports whether the user currently carries the heavy flag
func (t *UserTracker) IsHeavy(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heavy[userID]
}
