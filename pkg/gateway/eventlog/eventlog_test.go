// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
)

func ev(typ string) Event {
	return Event{Type: typ, Data: json.RawMessage(`{}`), Actor: "test"}
}

// backends returns one constructor per Log implementation so every test
// runs against both.
func backends(t *testing.T) map[string]func(t *testing.T) Log {
	t.Helper()
	return map[string]func(t *testing.T) Log{
		"memory": func(t *testing.T) Log {
			t.Helper()
			return NewMemoryLog()
		},
		"sqlite": func(t *testing.T) Log {
			t.Helper()
			l, err := NewSQLiteLog(context.Background(), filepath.Join(t.TempDir(), "events.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = l.Close() })
			return l
		},
	}
}

func TestAppendAndRead(t *testing.T) {
	t.Parallel()

	for name, newLog := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			log := newLog(t)

			v, err := log.Append(ctx, "source/s1", 0, []Event{ev("source.registered"), ev("source.enabled")})
			require.NoError(t, err)
			assert.Equal(t, uint64(2), v)

			v, err = log.Append(ctx, "source/s1", 2, []Event{ev("source.sync_succeeded")})
			require.NoError(t, err)
			assert.Equal(t, uint64(3), v)

			events, err := log.Read(ctx, "source/s1")
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, "source.registered", events[0].Type)
			assert.Equal(t, uint64(1), events[0].Version)
			assert.Equal(t, "source.sync_succeeded", events[2].Type)
			assert.Equal(t, uint64(3), events[2].Version)
			assert.Equal(t, "test", events[0].Actor)
		})
	}
}

func TestStaleVersionRejected(t *testing.T) {
	t.Parallel()

	for name, newLog := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			log := newLog(t)

			_, err := log.Append(ctx, "group/g1", 0, []Event{ev("group.created")})
			require.NoError(t, err)

			// A second writer that derived its state from version 0 must be
			// rejected, never silently merged.
			_, err = log.Append(ctx, "group/g1", 0, []Event{ev("group.selector_added")})
			require.Error(t, err)
			assert.True(t, gateway.IsKind(err, gateway.KindConcurrencyConflict))

			events, err := log.Read(ctx, "group/g1")
			require.NoError(t, err)
			assert.Len(t, events, 1, "rejected append must not be partially applied")
		})
	}
}

func TestConcurrentAppendsOneWinner(t *testing.T) {
	t.Parallel()

	for name, newLog := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			log := newLog(t)

			const writers = 8
			var wg sync.WaitGroup
			errs := make([]error, writers)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = log.Append(ctx, "policy/p1", 0, []Event{ev("policy.defined")})
				}()
			}
			wg.Wait()

			var won int
			for _, err := range errs {
				if err == nil {
					won++
				} else {
					assert.True(t, gateway.IsKind(err, gateway.KindConcurrencyConflict))
				}
			}
			assert.Equal(t, 1, won, "exactly one concurrent append at the same version may win")
		})
	}
}

func TestReadAllOrdering(t *testing.T) {
	t.Parallel()

	for name, newLog := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			log := newLog(t)

			_, err := log.Append(ctx, "source/a", 0, []Event{ev("source.registered")})
			require.NoError(t, err)
			_, err = log.Append(ctx, "source/b", 0, []Event{ev("source.registered")})
			require.NoError(t, err)
			_, err = log.Append(ctx, "source/a", 1, []Event{ev("source.disabled")})
			require.NoError(t, err)

			all, err := log.ReadAll(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			for i := 1; i < len(all); i++ {
				assert.Greater(t, all[i].GlobalSeq, all[i-1].GlobalSeq)
			}

			// Resume from the middle of the log.
			tail, err := log.ReadAll(ctx, all[1].GlobalSeq)
			require.NoError(t, err)
			require.Len(t, tail, 1)
			assert.Equal(t, "source.disabled", tail[0].Type)
		})
	}
}

func TestEmptyAppendIsNoop(t *testing.T) {
	t.Parallel()

	for name, newLog := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			log := newLog(t)

			v, err := log.Append(ctx, "source/s1", 0, nil)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), v)
		})
	}
}
