package task

import (
	"sync"
	"time"
)

// Key identifies one retry/backoff state.
type Key struct {
	TargetID int64
	RoomID   int64
	Kind     Kind
}

const (
	// backoffCap bounds the exponential failure delay (2^10 seconds).
	backoffCap = 1024 * time.Second

	// recheckDelay is the fixed pause after an ineligibility (wrong live
	// status, badge already lit). No exponential growth: the condition
	// clears on the remote side, not by waiting longer.
	recheckDelay = 60 * time.Second

	// logWindow throttles skip-reason logging. Eligibility checks run
	// every pass; without this a large target set floods the output.
	logWindow = 30 * time.Minute
)

type backoffEntry struct {
	nextEligible time.Time
	failures     int
	lastLog      time.Time
}

// Tracker holds per-key retry state. Entries appear on first skip or
// failure and disappear on success; the whole tracker is rebuilt from
// scratch each run.
type Tracker struct {
	mu      sync.Mutex
	entries map[Key]*backoffEntry
	now     func() time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{entries: map[Key]*backoffEntry{}, now: now}
}

// ShouldAttempt reports whether the key is past its next-eligible time.
// Keys with no state are always eligible.
func (t *Tracker) ShouldAttempt(k Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[k]
	if !ok {
		return true
	}
	return !t.now().Before(e.nextEligible)
}

// Failure records a transient failure: failure count increments and the
// next attempt is pushed out by min(cap, 2^min(n,10)) seconds.
func (t *Tracker) Failure(k Key) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(k)
	e.failures++
	n := e.failures
	if n > 10 {
		n = 10
	}
	delay := time.Duration(1<<uint(n)) * time.Second
	if delay > backoffCap {
		delay = backoffCap
	}
	e.nextEligible = t.now().Add(delay)
	return delay
}

// Ineligible records a non-error skip with a fixed short re-check delay.
func (t *Tracker) Ineligible(k Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(k)
	e.nextEligible = t.now().Add(recheckDelay)
}

// Success deletes the key's state.
func (t *Tracker) Success(k Key) {
	t.mu.Lock()
	delete(t.entries, k)
	t.mu.Unlock()
}

// Failures returns the current failure count for a key.
func (t *Tracker) Failures(k Key) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[k]; ok {
		return e.failures
	}
	return 0
}

// ShouldLog reports whether the key's skip reason may be logged now, at
// most once per window regardless of how often the key is re-checked.
func (t *Tracker) ShouldLog(k Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(k)
	now := t.now()
	if e.lastLog.IsZero() || now.Sub(e.lastLog) >= logWindow {
		e.lastLog = now
		return true
	}
	return false
}

func (t *Tracker) ensureLocked(k Key) *backoffEntry {
	e, ok := t.entries[k]
	if !ok {
		e = &backoffEntry{}
		t.entries[k] = e
	}
	return e
}
