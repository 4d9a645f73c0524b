package escalation

import (
	"sync"
	"time"
)

// Record is the most recent escalation for one user.
type Record struct {
	TicketID  string
	CreatedAt time.Time
}

// Cache suppresses repeated escalations from the same user. Entries
// live for the process lifetime and are purged by age once the cache
// grows past its size bound.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]Record
	cooldown   time.Duration
	maxEntries int
	maxAge     time.Duration
}

// Cache defaults.
const (
	DefaultCooldown   = 5 * time.Minute
	DefaultMaxEntries = 1000
	DefaultMaxAge     = 24 * time.Hour
)

// NewCache creates a cache. Non-positive arguments take the defaults.
func NewCache(cooldown time.Duration, maxEntries int, maxAge time.Duration) *Cache {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		entries:    make(map[string]Record),
		cooldown:   cooldown,
		maxEntries: maxEntries,
		maxAge:     maxAge,
	}
}

// Claim records ticketID for userKey unless the user escalated within
// the cooldown. It returns the record now in effect and whether it is
// the new one.
func (c *Cache) Claim(userKey, ticketID string, now time.Time) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[userKey]; ok && now.Sub(prev.CreatedAt) < c.cooldown {
		return prev, false
	}

	rec := Record{TicketID: ticketID, CreatedAt: now}
	c.entries[userKey] = rec
	if len(c.entries) > c.maxEntries {
		c.evictLocked(now)
	}
	return rec, true
}

// Lookup returns the record for userKey if it is inside the cooldown.
func (c *Cache) Lookup(userKey string, now time.Time) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[userKey]
	if !ok || now.Sub(rec.CreatedAt) >= c.cooldown {
		return Record{}, false
	}
	return rec, true
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops records older than maxAge. c.mu must be held.
func (c *Cache) evictLocked(now time.Time) int {
	removed := 0
	for k, rec := range c.entries {
		if now.Sub(rec.CreatedAt) > c.maxAge {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
