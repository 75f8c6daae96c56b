// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package cache

import (
	"sync"
	"time"
)

// lruEntry is a node of the recency list. timestamps holds the listen times
// registered under the entry's bucket key.
type lruEntry struct {
	key        string
	timestamps []int64
	prev       *lruEntry
	next       *lruEntry
	expiresAt  time.Time
}

// LRUCache is a thread-safe LRU map from bucket keys to registered listen
// timestamps, with per-entry TTL.
//
// A doubly-linked list orders entries by recency and a map gives O(1)
// lookup. Expired entries are dropped lazily on access and in bulk by
// CleanupExpired.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruEntry
	// head.next is the most recently used entry, tail.prev the least.
	head *lruEntry
	tail *lruEntry
	now  func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// NewLRUCache creates a cache holding at most capacity bucket keys.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruEntry, min(capacity, 4096)),
		head:     &lruEntry{},
		tail:     &lruEntry{},
		now:      time.Now,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns a copy of the timestamps stored under key.
func (c *LRUCache) Get(key string) ([]int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.removeEntry(entry)
		c.misses++
		return nil, false
	}
	c.moveToFront(entry)
	c.hits++
	out := make([]int64, len(entry.timestamps))
	copy(out, entry.timestamps)
	return out, true
}

// Append adds ts under key (once) and refreshes the entry's TTL. The least
// recently used key is evicted when the cache is over capacity.
func (c *LRUCache) Append(key string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if entry, ok := c.items[key]; ok {
		if c.now().After(entry.expiresAt) {
			entry.timestamps = entry.timestamps[:0]
		}
		if !containsTS(entry.timestamps, ts) {
			entry.timestamps = append(entry.timestamps, ts)
		}
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &lruEntry{key: key, timestamps: []int64{ts}, expiresAt: expiresAt}
	c.addToFront(entry)
	c.items[key] = entry
	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Remove deletes key. It reports whether the key was present.
func (c *LRUCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.items[key]; ok {
		c.removeEntry(entry)
		return true
	}
	return false
}

// Len returns the number of bucket keys held.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes everything.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*lruEntry, min(c.capacity, 4096))
	c.head.next = c.tail
	c.tail.prev = c.head
}

// CleanupExpired removes expired entries and returns how many were removed.
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.removeEntry(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// Keys returns the live keys from most to least recently used.
func (c *LRUCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	keys := make([]string, 0, len(c.items))
	for entry := c.head.next; entry != c.tail; entry = entry.next {
		if !now.After(entry.expiresAt) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Stats returns hit, miss and eviction counters and the current size.
func (c *LRUCache) Stats() (hits, misses, evictions int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions, len(c.items)
}

// The helpers below require c.mu.

func (c *LRUCache) addToFront(entry *lruEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *LRUCache) moveToFront(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *LRUCache) removeEntry(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *LRUCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
	c.evictions++
}

func containsTS(list []int64, ts int64) bool {
	for _, v := range list {
		if v == ts {
			return true
		}
	}
	return false
}
