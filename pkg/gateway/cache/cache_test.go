// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must read as a miss")
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	in := []byte("original")
	require.NoError(t, c.Set(ctx, "k", in, 0))
	in[0] = 'X'

	out, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("original"), out)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, "manifest:g1", []byte(`["t1","t2"]`), time.Minute))
	val, ok, err := c.Get(ctx, "manifest:g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `["t1","t2"]`, string(val))

	// Keys are namespaced by the configured prefix.
	assert.True(t, mr.Exists("test:manifest:g1"))

	// Server-side expiry reads as a miss.
	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "manifest:g1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newRedisCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is not an error.
	require.NoError(t, c.Delete(ctx, "k"))
}

func TestRedisPublishSubscribe(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newRedisCache(t)

	ch, unsub, err := c.Subscribe(ctx)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, c.Publish(ctx, Change{Kind: "group", ID: "g1"}))

	select {
	case change := <-ch:
		assert.Equal(t, Change{Kind: "group", ID: "g1"}, change)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestMemoryNotifierFanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := NewMemoryNotifier()

	ch1, cancel1 := n.Subscribe(4)
	ch2, cancel2 := n.Subscribe(4)
	defer cancel1()

	require.NoError(t, n.Publish(ctx, Change{Kind: "caller", ID: "fp-1"}))
	assert.Equal(t, Change{Kind: "caller", ID: "fp-1"}, <-ch1)
	assert.Equal(t, Change{Kind: "caller", ID: "fp-1"}, <-ch2)

	// After unsubscribe, the channel receives nothing further.
	cancel2()
	require.NoError(t, n.Publish(ctx, Change{Kind: "group", ID: "g1"}))
	assert.Equal(t, Change{Kind: "group", ID: "g1"}, <-ch1)
	select {
	case change := <-ch2:
		t.Fatalf("unsubscribed channel received %+v", change)
	default:
	}
}
