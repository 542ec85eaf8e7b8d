// Package cache keeps per-patient facility picklists between runs of the
// same process, so an interactive facility choice does not force a
// second table scan.
package cache

import (
	"strings"
	"sync"
	"time"
)

// entry holds a cached picklist with its creation timestamp.
type entry struct {
	enti      []string
	createdAt time.Time
}

// Cache is an in-memory TTL cache of facility picklists, keyed by codice
// fiscale. It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	store map[string]*entry
	ttl   time.Duration
}

// New creates a Cache whose entries expire after ttl. A background
// goroutine evicts expired entries every minute.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		store: make(map[string]*entry),
		ttl:   ttl,
	}

	go c.cleanupLoop()
	return c
}

// Key normalizes a codice fiscale into a cache key.
func Key(codiceFiscale string) string {
	return strings.ToUpper(strings.TrimSpace(codiceFiscale))
}

// Get retrieves a cached picklist if it exists and has not expired.
// Returns the picklist and whether it was a cache hit.
func (c *Cache) Get(key string) ([]string, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) > c.ttl {
		return nil, false
	}
	return e.enti, true
}

// Set stores a picklist for the given key.
func (c *Cache) Set(key string, enti []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store[key] = &entry{
		enti:      enti,
		createdAt: time.Now(),
	}
}

// cleanupLoop evicts expired entries every minute.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-c.ttl)
		c.mu.Lock()
		for k, e := range c.store {
			if e.createdAt.Before(cutoff) {
				delete(c.store, k)
			}
		}
		c.mu.Unlock()
	}
}
