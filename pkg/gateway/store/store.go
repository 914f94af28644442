// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package store provides the queryable projection store: the read-side
// view of the aggregates, maintained by the projector. Resolvers read only
// from here, never from the event log.
package store

import (
	"context"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// ToolFilter configures ListTools.
type ToolFilter struct {
	// SourceID restricts to one source. Empty matches all sources.
	SourceID string

	// OnlyResolvable restricts to enabled, non-deprecated tools.
	OnlyResolvable bool
}

// Projections is the read-model store. Every upsert is idempotent: an
// entity carrying a version at or below the projected version is ignored,
// so replays and concurrent projector updates are safe.
type Projections interface {
	GetSource(ctx context.Context, id string) (*gateway.Source, error)
	UpsertSource(ctx context.Context, s *gateway.Source) error
	ListSources(ctx context.Context) ([]*gateway.Source, error)

	GetTool(ctx context.Context, id string) (*gateway.Tool, error)
	UpsertTool(ctx context.Context, t *gateway.Tool) error
	ListTools(ctx context.Context, filter ToolFilter) ([]*gateway.Tool, error)

	GetGroup(ctx context.Context, id string) (*gateway.ToolGroup, error)
	UpsertGroup(ctx context.Context, g *gateway.ToolGroup) error
	ListGroups(ctx context.Context, activeOnly bool) ([]*gateway.ToolGroup, error)

	GetPolicy(ctx context.Context, id string) (*gateway.AccessPolicy, error)
	UpsertPolicy(ctx context.Context, p *gateway.AccessPolicy) error
	ListPolicies(ctx context.Context, activeOnly bool) ([]*gateway.AccessPolicy, error)

	// Checkpoint returns the last applied global event sequence, used by
	// the projector to resume and to measure staleness against the log.
	Checkpoint(ctx context.Context) (uint64, error)
	SetCheckpoint(ctx context.Context, seq uint64) error
}
