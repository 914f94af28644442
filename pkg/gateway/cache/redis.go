// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// changesChannel is the pub/sub channel manifest changes are published on.
const changesChannel = "toolgate:manifest-changes"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address, host:port.
	Addr string

	// Username and Password authenticate against a Redis ACL user.
	// Both empty for an unauthenticated server.
	Username string
	Password string

	// DB is the logical database index.
	DB int

	// KeyPrefix namespaces all keys, e.g. "toolgate:prod:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisCache is a Cache and Notifier backed by Redis, for multi-replica
// deployments where manifest caches must be shared and invalidations seen
// by every replica.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

var (
	_ Cache    = (*RedisCache)(nil)
	_ Notifier = (*RedisCache)(nil)
)

func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// Get retrieves a value; Redis handles expiry server-side.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores a value with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Publish broadcasts a manifest change on the shared pub/sub channel.
func (c *RedisCache) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshaling change notification: %w", err)
	}
	if err := c.client.Publish(ctx, c.keyPrefix+changesChannel, payload).Err(); err != nil {
		return fmt.Errorf("publishing change notification: %w", err)
	}
	return nil
}

// Subscribe returns a channel of manifest changes published by any replica.
// Close the returned cancel function to unsubscribe.
func (c *RedisCache) Subscribe(ctx context.Context) (<-chan Change, func(), error) {
	sub := c.client.Subscribe(ctx, c.keyPrefix+changesChannel)
	// Wait for the subscription to be established.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribing to change notifications: %w", err)
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
