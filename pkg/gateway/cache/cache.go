// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the caching layer shared by the catalog resolver,
// access resolver and credential exchange: a TTL'd key-value cache with
// pluggable backends (memory, Redis) and a change notifier that tells
// external listeners a manifest changed.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL'd byte cache. Values are opaque; consumers define their
// own encoding and key scheme.
type Cache interface {
	// Get retrieves a value. The second return is false on miss or expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with a TTL. A non-positive TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the cache.
	Close() error
}

// Change identifies an invalidated manifest: kind is "group" or "caller",
// id the group ID or claim-set fingerprint.
type Change struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Notifier publishes manifest-change notifications after a cache update
// completes. The transport connected callers are notified over is out of
// scope; the engine's obligation ends at Publish.
type Notifier interface {
	Publish(ctx context.Context, change Change) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, change Change) error

// Publish calls f.
func (f NotifierFunc) Publish(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// NopNotifier discards all notifications.
var NopNotifier = NotifierFunc(func(context.Context, Change) error { return nil })
