// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// health codes stored in the per-source atomic state.
const (
	healthUnknown int32 = iota
	healthHealthy
	healthDegraded
	healthUnhealthy
)

func healthOf(code int32) gateway.SourceHealth {
	switch code {
	case healthHealthy:
		return gateway.SourceHealthy
	case healthDegraded:
		return gateway.SourceDegraded
	case healthUnhealthy:
		return gateway.SourceUnhealthy
	default:
		return gateway.SourceUnknown
	}
}

// breaker tracks consecutive dispatch failures per source. Crossing the
// degraded threshold marks the source degraded; crossing the unhealthy
// threshold makes new executions fail fast until the cool-down elapses or
// health is reset. Counters use atomic semantics: concurrent executions
// against one source never read-modify-write race.
type breaker struct {
	degradedAfter  int64
	unhealthyAfter int64
	coolDown       time.Duration
	now            func() time.Time

	mu      sync.Mutex
	entries map[string]*breakerEntry
}

type breakerEntry struct {
	failures  atomic.Int64
	health    atomic.Int32
	trippedAt atomic.Int64 // unix nanos of the unhealthy transition
}

func newBreaker(degradedAfter, unhealthyAfter int, coolDown time.Duration) *breaker {
	return &breaker{
		degradedAfter:  int64(degradedAfter),
		unhealthyAfter: int64(unhealthyAfter),
		coolDown:       coolDown,
		now:            time.Now,
		entries:        make(map[string]*breakerEntry),
	}
}

func (b *breaker) entry(sourceID string) *breakerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[sourceID]
	if !ok {
		e = &breakerEntry{}
		b.entries[sourceID] = e
	}
	return e
}

// allow reports whether a new execution against the source may proceed.
// An unhealthy source inside its cool-down window fails fast; once the
// cool-down elapses a probe request is let through without changing state.
func (b *breaker) allow(sourceID string) bool {
	e := b.entry(sourceID)
	if e.health.Load() != healthUnhealthy {
		return true
	}
	trippedAt := time.Unix(0, e.trippedAt.Load())
	return b.now().Sub(trippedAt) >= b.coolDown
}

// success resets the source's counter and health. It returns the new
// health and whether this call transitioned it.
func (b *breaker) success(sourceID string) (gateway.SourceHealth, bool) {
	e := b.entry(sourceID)
	e.failures.Store(0)
	old := e.health.Swap(healthHealthy)
	return gateway.SourceHealthy, old != healthHealthy
}

// failure increments the source's consecutive-failure counter and returns
// the resulting health and whether this call transitioned it.
func (b *breaker) failure(sourceID string) (gateway.SourceHealth, bool) {
	e := b.entry(sourceID)
	n := e.failures.Add(1)

	var code int32
	switch {
	case n >= b.unhealthyAfter:
		code = healthUnhealthy
	case n >= b.degradedAfter:
		code = healthDegraded
	default:
		// Below both thresholds a failure moves the counter but not the
		// health; only success promotes to healthy.
		return healthOf(e.health.Load()), false
	}

	old := e.health.Swap(code)
	if code == healthUnhealthy && old != healthUnhealthy {
		e.trippedAt.Store(b.now().UnixNano())
	}
	return healthOf(code), old != code
}

// reset clears the source's breaker state, as after an explicit
// health-reset command.
func (b *breaker) reset(sourceID string) {
	e := b.entry(sourceID)
	e.failures.Store(0)
	e.health.Store(healthUnknown)
	e.trippedAt.Store(0)
}

// state returns the source's current health and consecutive-failure count.
func (b *breaker) state(sourceID string) (gateway.SourceHealth, int) {
	e := b.entry(sourceID)
	return healthOf(e.health.Load()), int(e.failures.Load())
}
