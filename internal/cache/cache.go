package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached non-streaming response body.
type Entry struct {
	Fingerprint string
	Response    []byte
	Size        int64
	CreatedAt   time.Time
	LastUsedAt  time.Time
	HitCount    int64
}

// Stats is a point-in-time snapshot of the cache counters. Hits, misses,
// stores and evictions are cumulative since process start; Bytes and Entries
// reflect the current contents.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Stores    int64 `json:"stores"`
	Evictions int64 `json:"evictions"`
	Bytes     int64 `json:"bytes"`
	Entries   int   `json:"entries"`
}

// Cache maps request fingerprints to serialized response bodies under a
// byte budget, evicting least-recently-used entries when the budget is
// exceeded. A budget of zero (or less) disables it: Get always misses and
// Set is a no-op.
type Cache struct {
	mu          sync.Mutex
	store       map[string]*Entry
	accessOrder []string
	maxBytes    int64
	totalBytes  int64

	hits      int64
	misses    int64
	stores    int64
	evictions int64

	group singleflight.Group
}

// New creates a cache with the given byte budget.
func New(maxBytes int64) *Cache {
	return &Cache{
		store:       make(map[string]*Entry),
		accessOrder: make([]string, 0, 64),
		maxBytes:    maxBytes,
	}
}

// Enabled reports whether the cache accepts and serves entries.
func (c *Cache) Enabled() bool {
	return c != nil && c.maxBytes > 0
}

// Key derives the storage key for a request fingerprint scoped to one
// backend and model. The fingerprint itself covers only prompt content, so
// identical prompts sent to different backends or models must not share an
// entry.
func Key(backend, model, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(backend))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response body for key. The returned slice is the
// stored one; callers must not modify it.
func (c *Cache) Get(key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.store[key]
	if !exists {
		c.misses++
		return nil, false
	}

	entry.LastUsedAt = time.Now()
	entry.HitCount++
	c.hits++
	c.touch(key)
	return entry.Response, true
}

// Set inserts or replaces the entry for key, then evicts LRU entries until
// the total is back under budget. Responses larger than the whole budget
// are not stored at all; admitting one would flush every other entry for a
// single-use payload.
func (c *Cache) Set(key, fingerprint string, response []byte) {
	if !c.Enabled() || len(response) == 0 {
		return
	}
	size := int64(len(response))
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, exists := c.store[key]; exists {
		c.totalBytes -= prev.Size
	}

	now := time.Now()
	c.store[key] = &Entry{
		Fingerprint: fingerprint,
		Response:    response,
		Size:        size,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	c.totalBytes += size
	c.stores++
	c.touch(key)

	for c.totalBytes > c.maxBytes {
		c.evictLRU()
	}
}

// Fetch returns the cached response for key, or computes it exactly once
// and stores the result. Concurrent calls for the same missing key share a
// single in-flight compute. The bool reports whether this call was served
// without running compute (a cache hit or a shared flight).
func (c *Cache) Fetch(key, fingerprint string, compute func() ([]byte, error)) ([]byte, bool, error) {
	if !c.Enabled() {
		body, err := compute()
		return body, false, err
	}

	if body, ok := c.Get(key); ok {
		return body, true, nil
	}

	var computed bool
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		computed = true

		// A previous flight may have stored the entry between our miss
		// and acquiring the flight.
		if body, ok := c.lookup(key); ok {
			return body, nil
		}

		body, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, fingerprint, body)
		return body, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), !computed, nil
}

// Clear removes all entries. Cumulative counters are preserved.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store = make(map[string]*Entry)
	c.accessOrder = c.accessOrder[:0]
	c.totalBytes = 0
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Stores:    c.stores,
		Evictions: c.evictions,
		Bytes:     c.totalBytes,
		Entries:   len(c.store),
	}
}

// lookup reads an entry without counting a hit or a miss. Used for the
// re-check inside a singleflight compute, which already counted its miss.
func (c *Cache) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.store[key]
	if !exists {
		return nil, false
	}
	entry.LastUsedAt = time.Now()
	c.touch(key)
	return entry.Response, true
}

// touch moves key to the most-recently-used end of the access order.
// Callers must hold c.mu.
func (c *Cache) touch(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, key)
}

// evictLRU removes the least recently used entry. Callers must hold c.mu.
func (c *Cache) evictLRU() {
	if len(c.accessOrder) == 0 {
		return
	}

	lruKey := c.accessOrder[0]
	if entry, exists := c.store[lruKey]; exists {
		c.totalBytes -= entry.Size
		delete(c.store, lruKey)
		c.evictions++
	}
	c.accessOrder = c.accessOrder[1:]
}
