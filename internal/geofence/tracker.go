// Package geofence counts per-guard geofence violations and evaluates configured zones.
package geofence

import (
	"context"
	"sync"
	"time"

	"guardwatch/internal/model"
)

// DefaultThreshold is the violation count above which breaches become critical.
const DefaultThreshold = 2

type counter struct {
	n        int
	lastSeen time.Time
}

// Tracker holds a violation counter per guard. It is safe for concurrent use.
type Tracker struct {
	threshold int
	ttl       time.Duration
	now       func() time.Time

	mu     sync.Mutex
	counts map[string]*counter
}

// NewTracker creates a Tracker. A threshold <= 0 uses DefaultThreshold; ttl 0 keeps
// counters until they are reset.
func NewTracker(threshold int, ttl time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{threshold: threshold, ttl: ttl, now: time.Now, counts: map[string]*counter{}}
}

// RecordBreach increments and returns the guard's violation count.
func (t *Tracker) RecordBreach(guardID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counts[guardID]
	if !ok {
		c = &counter{}
		t.counts[guardID] = c
	}
	c.n++
	c.lastSeen = t.now()
	return c.n
}

// Count returns the current violation count of a guard.
func (t *Tracker) Count(guardID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counts[guardID]; ok {
		return c.n
	}
	return 0
}

// Reset clears a guard's counter, typically at shift change. It returns the previous count.
func (t *Tracker) Reset(guardID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counts[guardID]
	if !ok {
		return 0
	}
	delete(t.counts, guardID)
	return c.n
}

// SeverityFor maps a violation count to an alert severity.
func (t *Tracker) SeverityFor(count int) model.Severity {
	return SeverityFor(count, t.threshold)
}

// Threshold returns the effective violation threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// SeverityFor returns critical once count exceeds threshold, high otherwise.
func SeverityFor(count, threshold int) model.Severity {
	if count > threshold {
		return model.SeverityCritical
	}
	return model.SeverityHigh
}

// Sweep drops counters not touched within the TTL.
func (t *Tracker) Sweep(now time.Time) int {
	if t.ttl <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, c := range t.counts {
		if now.Sub(c.lastSeen) >= t.ttl {
			delete(t.counts, id)
			n++
		}
	}
	return n
}

// Serve sweeps idle counters periodically until ctx is canceled.
func (t *Tracker) Serve(ctx context.Context) error {
	interval := t.ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Sweep(t.now())
		}
	}
}

func (t *Tracker) String() string { return "geofence-tracker" }
