// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package cache implements the content cache for hierarchical browse
// results: a thread-safe LRU with per-entry TTL and explicit
// invalidation. Entries never self-refresh; staleness is handled by TTL
// and by event-driven invalidation from the coordinator.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/periscope/internal/metrics"
)

// Key addresses one cached browse page: a parent container, a pagination
// cursor, and the filter parameters of the request.
type Key struct {
	ContainerID string
	Cursor      string
	Filter      string
}

// String renders the composite key for logging.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.ContainerID, k.Cursor, k.Filter)
}

// entry is a node of the doubly-linked LRU list.
type entry struct {
	key        Key
	value      any
	prev       *entry
	next       *entry
	expiresAt  time.Time
	insertedAt time.Time
}

// Cache is a thread-safe LRU cache with TTL support. A doubly-linked
// list keeps recency order and a map provides O(1) lookup; eviction runs
// in O(1) when the capacity bound is exceeded. Expired entries are
// treated as misses on access and purged eagerly by the sweeper.
type Cache struct {
	mu sync.Mutex

	capacity   int
	defaultTTL time.Duration

	items map[Key]*entry

	// head.next is most recently used, tail.prev is least recently used.
	head *entry
	tail *entry
}

// New creates a cache with the given capacity and default TTL. The
// default TTL applies when Put is called with ttl <= 0.
func New(capacity int, defaultTTL time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}

	c := &Cache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		items:      make(map[Key]*entry, capacity),
		head:       &entry{},
		tail:       &entry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get retrieves a value. An entry past its expiry is a miss even if
// still resident, and is purged on the spot.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}

	if time.Now().After(e.expiresAt) {
		c.remove(e)
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		metrics.CacheMisses.Inc()
		return nil, false
	}

	c.moveToFront(e)
	metrics.CacheHits.Inc()
	return e.value, true
}

// Put stores a value with the given TTL (or the default when ttl <= 0).
// Inserting beyond capacity evicts the least-recently-used entry.
func (c *Cache) Put(key Key, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = now.Add(ttl)
		e.insertedAt = now
		c.moveToFront(e)
		return
	}

	e := &entry{
		key:        key,
		value:      value,
		expiresAt:  now.Add(ttl),
		insertedAt: now,
	}
	c.addToFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// InvalidateAll clears the entire cache. Used when the scope of a change
// is unknown or spans multiple containers.
func (c *Cache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	c.items = make(map[Key]*entry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
	metrics.CacheEvictions.WithLabelValues("invalidated").Add(float64(n))
	return n
}

// Invalidate removes every entry whose key matches the predicate and
// returns the number removed.
func (c *Cache) Invalidate(pred func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if pred(e.key) {
			c.remove(e)
			removed++
		}
		e = prev
	}
	metrics.CacheEvictions.WithLabelValues("invalidated").Add(float64(removed))
	return removed
}

// InvalidateContainer removes all pages cached for one container.
func (c *Cache) InvalidateContainer(containerID string) int {
	return c.Invalidate(func(k Key) bool { return k.ContainerID == containerID })
}

// CleanupExpired eagerly removes all expired entries and returns the
// number removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if now.After(e.expiresAt) {
			c.remove(e)
			removed++
		}
		e = prev
	}
	metrics.CacheEvictions.WithLabelValues("expired").Add(float64(removed))
	return removed
}

// Len returns the current number of resident entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// RunSweeper purges expired entries every interval until the context is
// canceled. Intended to run as a goroutine owned by the coordinator.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupExpired()
		}
	}
}

// Internal list operations (must be called with mu held)

func (c *Cache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *Cache) remove(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

func (c *Cache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.remove(oldest)
	metrics.CacheEvictions.WithLabelValues("capacity").Inc()
}
