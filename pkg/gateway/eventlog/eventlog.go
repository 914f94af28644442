// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog provides the append-only event persistence for gateway
// aggregates. Every aggregate instance owns one stream; events within a
// stream are applied in strictly increasing version order with optimistic
// concurrency enforced at append time.
package eventlog

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one domain event, prior to persistence. The payload is opaque
// to the log; aggregates define the concrete shapes.
type Event struct {
	// Type is the event type discriminator (e.g. "source.registered").
	Type string `json:"type"`

	// Data is the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`

	// Actor records who issued the originating command, for audit.
	Actor string `json:"actor,omitempty"`

	// OccurredAt is when the command was accepted.
	OccurredAt time.Time `json:"occurred_at"`
}

// StoredEvent is an event as read back from the log.
type StoredEvent struct {
	Event

	// StreamID identifies the aggregate instance.
	StreamID string `json:"stream_id"`

	// Version is the 1-based position of this event within its stream.
	Version uint64 `json:"version"`

	// GlobalSeq is the log-wide sequence number, used by projectors to
	// track progress across streams.
	GlobalSeq uint64 `json:"global_seq"`
}

// Log is the append-only event store consumed by aggregates and projectors.
type Log interface {
	// Append atomically appends events to a stream. expectedVersion is the
	// stream version the caller derived its state from (0 for a new
	// stream). A mismatch returns a concurrency-conflict error and appends
	// nothing; the caller must reload and retry. Returns the new stream
	// version.
	Append(ctx context.Context, streamID string, expectedVersion uint64, events []Event) (uint64, error)

	// Read returns all events of a stream in version order.
	Read(ctx context.Context, streamID string) ([]StoredEvent, error)

	// ReadAll returns events across all streams with GlobalSeq > afterSeq,
	// in global order. Used by projectors to catch up.
	ReadAll(ctx context.Context, afterSeq uint64) ([]StoredEvent, error)

	// Close releases resources held by the log.
	Close() error
}
