// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"sync"
	"time"
)

const (
	// cleanupInterval is how often expired entries are removed.
	cleanupInterval = 1 * time.Minute
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is an in-process Cache with lazy expiry on read and a
// background sweep of expired entries.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryCache creates a memory cache and starts its cleanup goroutine.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		stopCh:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.cleanupExpired()
	return c
}

var _ Cache = (*MemoryCache)(nil)

// Get retrieves a value, treating expired entries as misses.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores a value with a TTL.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return nil
}

func (c *MemoryCache) cleanupExpired() {
	defer c.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// MemoryNotifier fans changes out to in-process subscribers. It backs the
// push-notification boundary in single-process deployments and tests.
type MemoryNotifier struct {
	mu   sync.RWMutex
	subs []chan Change
}

// NewMemoryNotifier creates a notifier with no subscribers.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

var _ Notifier = (*MemoryNotifier)(nil)

// Publish delivers the change to every subscriber without blocking; a
// subscriber with a full buffer misses the notification (callers re-resolve
// on demand, notifications are a hint).
func (n *MemoryNotifier) Publish(_ context.Context, change Change) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subs {
		select {
		case sub <- change:
		default:
		}
	}
	return nil
}

// Subscribe registers a change listener. Cancel the returned function to
// unsubscribe.
func (n *MemoryNotifier) Subscribe(buffer int) (<-chan Change, func()) {
	ch := make(chan Change, buffer)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, sub := range n.subs {
			if sub == ch {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}
