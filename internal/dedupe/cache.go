// ABOUTME: Thread-safe TTL cache over seen message identifiers
// ABOUTME: Backs the synchronizer's dedup-by-identifier merge rule for live events

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the timestamp and list element for a cached message ID.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache tracks recently seen message identifiers so that a duplicate live
// event (same store-assigned ID delivered twice, or a live event racing a
// history fetch that returned the same message) is applied exactly once.
// Size-limited with O(1) oldest-first eviction via a linked list.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // message IDs in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// has returns true if the message ID has been marked and is not expired.
// SeenOrMark and Mark are the wired surface; this exists for tests.
func (c *Cache) has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[id]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < c.ttl
}

// SeenOrMark atomically checks whether the message ID was already seen and
// marks it if not. Returns true for a duplicate, false if the ID is new and
// now marked. The single lock acquisition is what makes concurrent delivery
// of the same event safe.
func (c *Cache) SeenOrMark(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[id]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.markLocked(id)
	return false
}

// Mark records a message ID without checking it first. Used when merging
// history pages, whose contents are authoritative by definition.
func (c *Cache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(id)
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (c *Cache) markLocked(id string) {
	now := time.Now()

	// Refresh an existing entry and move it to the back
	if entry, exists := c.seen[id]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(id)
	c.seen[id] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, id)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
