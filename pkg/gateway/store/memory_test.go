// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
)

func TestUpsertIsIdempotentByVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertTool(ctx, &gateway.Tool{ID: "t1", SourceID: "s1", Enabled: true, Lifecycle: gateway.ToolActive, Version: 2}))

	// A stale update (same or lower version) must not overwrite.
	require.NoError(t, m.UpsertTool(ctx, &gateway.Tool{ID: "t1", SourceID: "s1", Enabled: false, Lifecycle: gateway.ToolActive, Version: 1}))
	tool, err := m.GetTool(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, tool.Enabled)

	// Re-applying the same version is safe.
	require.NoError(t, m.UpsertTool(ctx, &gateway.Tool{ID: "t1", SourceID: "s1", Enabled: false, Lifecycle: gateway.ToolActive, Version: 2}))
	tool, err = m.GetTool(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, tool.Enabled)

	// A newer version wins.
	require.NoError(t, m.UpsertTool(ctx, &gateway.Tool{ID: "t1", SourceID: "s1", Enabled: false, Lifecycle: gateway.ToolActive, Version: 3}))
	tool, err = m.GetTool(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, tool.Enabled)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetSource(ctx, "nope")
	assert.True(t, gateway.IsKind(err, gateway.KindNotFound))
	_, err = m.GetGroup(ctx, "nope")
	assert.True(t, gateway.IsKind(err, gateway.KindNotFound))
	_, err = m.GetPolicy(ctx, "nope")
	assert.True(t, gateway.IsKind(err, gateway.KindNotFound))
}

func TestListToolsFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertTool(ctx, &gateway.Tool{ID: "s1:a", SourceID: "s1", Enabled: true, Lifecycle: gateway.ToolActive, Version: 1}))
	require.NoError(t, m.UpsertTool(ctx, &gateway.Tool{ID: "s1:b", SourceID: "s1", Enabled: false, Lifecycle: gateway.ToolActive, Version: 1}))
	require.NoError(t, m.UpsertTool(ctx, &gateway.Tool{ID: "s2:c", SourceID: "s2", Enabled: true, Lifecycle: gateway.ToolDeprecated, Version: 1}))

	all, err := m.ListTools(ctx, ToolFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bySource, err := m.ListTools(ctx, ToolFilter{SourceID: "s1"})
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	resolvable, err := m.ListTools(ctx, ToolFilter{OnlyResolvable: true})
	require.NoError(t, err)
	require.Len(t, resolvable, 1)
	assert.Equal(t, "s1:a", resolvable[0].ID)
}

func TestListPoliciesPriorityOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertPolicy(ctx, &gateway.AccessPolicy{ID: "low", Priority: 1, Active: true, Version: 1}))
	require.NoError(t, m.UpsertPolicy(ctx, &gateway.AccessPolicy{ID: "high", Priority: 100, Active: true, Version: 1}))
	require.NoError(t, m.UpsertPolicy(ctx, &gateway.AccessPolicy{ID: "inactive", Priority: 50, Active: false, Version: 1}))

	active, err := m.ListPolicies(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "high", active[0].ID)
	assert.Equal(t, "low", active[1].ID)
}

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SetCheckpoint(ctx, 10))
	require.NoError(t, m.SetCheckpoint(ctx, 5))
	seq, err := m.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), seq)
}
