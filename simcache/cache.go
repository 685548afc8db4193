// Package simcache provides a bounded-lifetime cache for expensive
// fee and balance simulation calls.
package simcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	value      any
	insertedAt time.Time
}

// Cache is a TTL cache keyed by a deterministic serialization of the
// simulation input parameters. A background sweep removes entries older than
// the TTL on a period equal to the TTL.
//
// The cache deliberately provides no single-flight guarantee: concurrent
// misses on the same key each invoke compute independently, and the cache
// holds whichever result is written last. Duplicate simulation RPC calls are
// a tolerated cost, not a correctness issue.
type Cache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// New creates a cache and starts its sweep goroutine.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Key serializes params into a stable cache key.
func Key(params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("serialize cache key: %w", err)
	}
	return string(raw), nil
}

// GetOrExecute returns the cached value for params if one exists within the
// TTL, otherwise invokes compute, stores its result, and returns it.
func (c *Cache) GetOrExecute(ctx context.Context, params any, compute func(context.Context) (any, error)) (any, error) {
	key, err := Key(params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.insertedAt) <= c.ttl {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, insertedAt: c.now()}
	c.mu.Unlock()
	return value, nil
}

// Close stops the sweep goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			cutoff := c.now().Add(-c.ttl)
			c.mu.Lock()
			for key, e := range c.entries {
				if e.insertedAt.Before(cutoff) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
