// Package cooldown suppresses repeated detections of the same identity inside
// a short window, so a person lingering in front of the camera triggers the
// attendance logic once.
package cooldown

import (
	"sync"
	"time"
)

// Ledger tracks the last accepted detection per identity.
//
// ShouldProcess and RecordProcessed are the plain check-then-record pair.
// Begin, Commit and Abort do the same for concurrent callers: Begin reserves
// the identity so a second stream cannot pass the check before the first one
// has recorded its outcome.
type Ledger struct {
	window   time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
	inFlight map[string]bool
}

// New creates a ledger. A zero or negative window disables suppression.
func New(window time.Duration) *Ledger {
	return &Ledger{
		window:   window,
		last:     make(map[string]time.Time),
		inFlight: make(map[string]bool),
	}
}

// Window returns the configured suppression window.
func (l *Ledger) Window() time.Duration { return l.window }

func (l *Ledger) allowed(identity string, now time.Time) bool {
	if l.window <= 0 {
		return true
	}
	last, ok := l.last[identity]
	return !ok || now.Sub(last) >= l.window
}

// ShouldProcess reports whether a detection at now falls outside the window.
func (l *Ledger) ShouldProcess(identity string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowed(identity, now)
}

// RecordProcessed marks a detection as accepted downstream.
func (l *Ledger) RecordProcessed(identity string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[identity] = now
}

// Begin reserves identity for processing. It returns false when the detection
// is inside the window or another detection of the identity is in flight.
// A true result must be followed by Commit or Abort.
func (l *Ledger) Begin(identity string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[identity] || !l.allowed(identity, now) {
		return false
	}
	l.inFlight[identity] = true
	return true
}

// Commit releases the reservation and records the accepted detection.
func (l *Ledger) Commit(identity string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, identity)
	l.last[identity] = now
}

// Abort releases the reservation without touching the window.
func (l *Ledger) Abort(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, identity)
}

// Remaining returns how long identity stays suppressed after now.
func (l *Ledger) Remaining(identity string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.last[identity]
	if !ok || l.window <= 0 {
		return 0
	}
	return max(0, l.window-now.Sub(last))
}

// Prune drops entries whose window has passed and returns how many were removed.
func (l *Ledger) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, last := range l.last {
		if now.Sub(last) >= l.window {
			delete(l.last, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}
