package processor

import (
	"math"
	"sync"
	"time"
)

// cacheEntry is a DuplicateCacheEntry (spec §3): the last-seen
// (lat, lng, timestamp) for one device.
type cacheEntry struct {
	lat       float64
	lng       float64
	timestamp time.Time
}

// dupeCache is a bounded per-device cache of the last accepted position.
// Eviction is oldest-inserted, not least-recently-used — this is a
// deliberate reading of spec §4.1/§9 Open Question 4, which documents
// the source's behavior as insertion-order eviction and explicitly
// declines to decide whether that was intentional. We implement it
// literally rather than upgrading it to true LRU.
type dupeCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]cacheEntry
	order   []string
}

func newDupeCache(maxSize int) *dupeCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &dupeCache{
		maxSize: maxSize,
		entries: make(map[string]cacheEntry, maxSize),
	}
}

// isDuplicate reports whether p is within thresholds of the cached
// entry for deviceID, per spec §4.1's duplicate policy.
func (c *dupeCache) isDuplicate(deviceID string, lat, lng float64, ts time.Time, timeThreshold time.Duration, coordThreshold float64) bool {
	c.mu.Lock()
	entry, ok := c.entries[deviceID]
	c.mu.Unlock()
	if !ok {
		return false
	}

	dt := ts.Sub(entry.timestamp)
	if dt < 0 {
		dt = -dt
	}
	if dt > timeThreshold {
		return false
	}

	if math.Abs(lat-entry.lat) >= coordThreshold {
		return false
	}
	if math.Abs(lng-entry.lng) >= coordThreshold {
		return false
	}
	return true
}

// observe records (or refreshes) the cached entry for deviceID,
// evicting the oldest-inserted entry first if the cache is full.
func (c *dupeCache) observe(deviceID string, lat, lng float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[deviceID]; !exists {
		if len(c.entries) >= c.maxSize && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, deviceID)
	}

	c.entries[deviceID] = cacheEntry{lat: lat, lng: lng, timestamp: ts}
}

func (c *dupeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
