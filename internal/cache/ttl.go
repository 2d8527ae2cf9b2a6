// Package cache holds the small expiring caches used by the acquisition
// strategies, the context gate and mount geometry.
package cache

import (
	"sync"
	"time"
)

// TTL holds one value for a fixed validity window.
type TTL[T any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	value T
	at    time.Time
	ok    bool
}

// NewTTL creates an empty cache whose entries expire after ttl.
func NewTTL[T any](ttl time.Duration) *TTL[T] {
	return &TTL[T]{ttl: ttl, now: time.Now}
}

// WithClock replaces the time source (tests).
func (c *TTL[T]) WithClock(now func() time.Time) *TTL[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get returns the cached value while it is still valid.
func (c *TTL[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ok || c.now().Sub(c.at) >= c.ttl {
		var zero T
		return zero, false
	}
	return c.value, true
}

// Set stores v and restarts the validity window.
func (c *TTL[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value, c.at, c.ok = v, c.now(), true
}

// Reset drops the cached value.
func (c *TTL[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value, c.ok = zero, false
}

// SetTTL changes the validity window for subsequent reads.
func (c *TTL[T]) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// Invalidator is anything owning caches that a forced refresh must clear.
type Invalidator interface {
	Invalidate()
}

// Group invalidates several owners together.
type Group []Invalidator

// Invalidate clears every member.
func (g Group) Invalidate() {
	for _, inv := range g {
		if inv != nil {
			inv.Invalidate()
		}
	}
}
