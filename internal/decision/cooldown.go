package decision

import (
	"sync"
	"time"
)

// CooldownTracker rate-limits the mention-triggered path per user. State is
// process-lifetime only; timestamps never move backward. The live flow is
// single-consumer, but the map is still mutex-guarded in case handlers are
// ever parallelized.
type CooldownTracker struct {
	mu    sync.Mutex
	last  map[string]time.Time
	clock func() time.Time
}

// NewCooldownTracker builds a tracker with an injected clock. clock may be
// nil, in which case wall time is used; tests inject a fake.
func NewCooldownTracker(clock func() time.Time) *CooldownTracker {
	if clock == nil {
		clock = time.Now
	}
	return &CooldownTracker{
		last:  make(map[string]time.Time),
		clock: clock,
	}
}

// Allow reports whether userID may trigger a mention reply. The owner is
// never throttled. Allow does not record anything; call Record after the
// attempt has been dispatched.
func (c *CooldownTracker) Allow(userID, ownerID string, window time.Duration) bool {
	if userID == ownerID {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[userID]
	if !ok {
		return true
	}
	return c.clock().Sub(last) >= window
}

// Record marks an attempt for userID. Called after dispatch regardless of
// whether generation succeeded. A stale clock never rewinds an entry.
func (c *CooldownTracker) Record(userID string) {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[userID]; ok && !now.After(last) {
		return
	}
	c.last[userID] = now
}
