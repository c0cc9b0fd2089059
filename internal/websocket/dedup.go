package websocket

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// How much of the free-text reason participates in the dedup key. Coarse on
// purpose: a double-clicked admin action produces byte-identical reasons, and
// the first characters are enough to tell genuinely different updates apart
// most of the time.
const reasonPrefixLen = 24

// RecencyCache is a short-lived key -> last-sent timestamp store used to
// suppress repeat delivery of identical events within a window. Entries older
// than the horizon are purged lazily on each write and periodically by the
// reaper.
type RecencyCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	horizon time.Duration

	now func() time.Time
}

// NewRecencyCache creates a cache whose entries expire after horizon.
func NewRecencyCache(horizon time.Duration) *RecencyCache {
	return &RecencyCache{
		entries: make(map[string]time.Time),
		horizon: horizon,
		now:     time.Now,
	}
}

// ShouldSuppress reports whether an identical event was sent less than window
// ago. A suppressed call does not refresh the timestamp, so a steady stream
// of duplicates still gets one delivery per window. A non-suppressed call
// records the current time under key.
func (c *RecencyCache) ShouldSuppress(key string, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.entries[key]; ok && now.Sub(last) < window {
		return true
	}
	c.purgeLocked(now)
	c.entries[key] = now
	return false
}

// Record unconditionally stamps key with the current time. Used by the
// batcher to register delivered notification ids.
func (c *RecencyCache) Record(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.now()
}

// Purge drops entries older than the horizon. Called by the reaper; writes
// also purge lazily.
func (c *RecencyCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(c.now())
}

// Len returns the number of live entries.
func (c *RecencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *RecencyCache) purgeLocked(now time.Time) int {
	purged := 0
	for key, ts := range c.entries {
		if now.Sub(ts) > c.horizon {
			delete(c.entries, key)
			purged++
		}
	}
	return purged
}

// HousePointsKey builds the coarse dedup key for point broadcasts. Two
// legitimately distinct but identical-looking updates inside the window
// collapse to one delivery; that imprecision is accepted.
func HousePointsKey(house string, points int, reason string) string {
	prefix := strings.ToLower(strings.TrimSpace(reason))
	if len(prefix) > reasonPrefixLen {
		prefix = prefix[:reasonPrefixLen]
	}
	return fmt.Sprintf("%s:%d:%s", house, points, prefix)
}
