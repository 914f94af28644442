// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"sync"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// MemoryLog is an in-memory Log implementation. It is the default for
// tests and single-process deployments without a persistence path.
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string][]StoredEvent
	global  []StoredEvent
	seq     uint64
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{streams: make(map[string][]StoredEvent)}
}

var _ Log = (*MemoryLog)(nil)

// Append atomically appends events to a stream with optimistic concurrency.
func (l *MemoryLog) Append(_ context.Context, streamID string, expectedVersion uint64, events []Event) (uint64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[streamID]
	actual := uint64(len(stream))
	if actual != expectedVersion {
		return 0, gateway.NewConcurrencyConflictError(streamID, expectedVersion, actual)
	}

	for _, ev := range events {
		l.seq++
		stored := StoredEvent{
			Event:     ev,
			StreamID:  streamID,
			Version:   actual + 1,
			GlobalSeq: l.seq,
		}
		actual++
		stream = append(stream, stored)
		l.global = append(l.global, stored)
	}
	l.streams[streamID] = stream

	return actual, nil
}

// Read returns all events of a stream in version order.
func (l *MemoryLog) Read(_ context.Context, streamID string) ([]StoredEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[streamID]
	out := make([]StoredEvent, len(stream))
	copy(out, stream)
	return out, nil
}

// ReadAll returns events across all streams after the given sequence.
func (l *MemoryLog) ReadAll(_ context.Context, afterSeq uint64) ([]StoredEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []StoredEvent
	for _, ev := range l.global {
		if ev.GlobalSeq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory log.
func (*MemoryLog) Close() error {
	return nil
}
