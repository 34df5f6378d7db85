// Package cache provides a thread-safe cache with per-entry time-based
// expiration. The API server uses it to memoize render results, which are
// pure functions of a fragment's markup and the caller's highlights and so
// stay valid until either changes.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	deadline time.Time
}

// TTL is a thread-safe cache whose entries expire individually.
type TTL[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]entry[V]
	ttl  time.Duration
}

// New creates an empty cache. Entries live for ttl after each Set.
func New[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		data: make(map[K]entry[V]),
		ttl:  ttl,
	}
}

// Get retrieves a value. ok is false if the key is absent or its entry has
// expired; expired entries are left for Set or Purge to overwrite.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[key]
	if !ok || time.Now().After(e.deadline) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value, restarting its expiry clock.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = entry[V]{value: value, deadline: time.Now().Add(c.ttl)}
}

// Delete removes one entry.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// DeleteFunc removes every entry whose key matches, returning the count.
func (c *TTL[K, V]) DeleteFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.data {
		if match(k) {
			delete(c.data, k)
			n++
		}
	}
	return n
}

// Purge drops expired entries so long-idle keys do not pin memory.
func (c *TTL[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.data {
		if now.After(e.deadline) {
			delete(c.data, k)
		}
	}
}

// Len returns the number of entries, expired ones included.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
