// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// Memory is an in-process Projections implementation. Projections are
// derived and rebuildable from the event log, so process-local storage is
// sufficient; a restart replays the log through the projector.
type Memory struct {
	mu         sync.RWMutex
	sources    map[string]gateway.Source
	tools      map[string]gateway.Tool
	groups     map[string]gateway.ToolGroup
	policies   map[string]gateway.AccessPolicy
	checkpoint uint64
}

// NewMemory creates an empty projection store.
func NewMemory() *Memory {
	return &Memory{
		sources:  make(map[string]gateway.Source),
		tools:    make(map[string]gateway.Tool),
		groups:   make(map[string]gateway.ToolGroup),
		policies: make(map[string]gateway.AccessPolicy),
	}
}

var _ Projections = (*Memory)(nil)

// GetSource returns a copy of the projected source.
func (m *Memory) GetSource(_ context.Context, id string) (*gateway.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, gateway.NewNotFoundError("source", id)
	}
	return &s, nil
}

// UpsertSource stores the source unless the projection is already at or
// past its version.
func (m *Memory) UpsertSource(_ context.Context, s *gateway.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sources[s.ID]; ok && cur.Version >= s.Version {
		return nil
	}
	m.sources[s.ID] = *s
	return nil
}

// ListSources returns all projected sources, ordered by name.
func (m *Memory) ListSources(_ context.Context) ([]*gateway.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*gateway.Source, 0, len(m.sources))
	for _, s := range m.sources {
		s := s
		out = append(out, &s)
	}
	slices.SortFunc(out, func(a, b *gateway.Source) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// GetTool returns a copy of the projected tool.
func (m *Memory) GetTool(_ context.Context, id string) (*gateway.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[id]
	if !ok {
		return nil, gateway.NewNotFoundError("tool", id)
	}
	return &t, nil
}

// UpsertTool stores the tool unless the projection is already at or past
// its version.
func (m *Memory) UpsertTool(_ context.Context, t *gateway.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.tools[t.ID]; ok && cur.Version >= t.Version {
		return nil
	}
	m.tools[t.ID] = *t
	return nil
}

// ListTools returns projected tools matching the filter, ordered by ID.
func (m *Memory) ListTools(_ context.Context, filter ToolFilter) ([]*gateway.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*gateway.Tool
	for _, t := range m.tools {
		if filter.SourceID != "" && t.SourceID != filter.SourceID {
			continue
		}
		if filter.OnlyResolvable && !t.Resolvable() {
			continue
		}
		t := t
		out = append(out, &t)
	}
	slices.SortFunc(out, func(a, b *gateway.Tool) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// GetGroup returns a copy of the projected group.
func (m *Memory) GetGroup(_ context.Context, id string) (*gateway.ToolGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, gateway.NewNotFoundError("group", id)
	}
	return &g, nil
}

// UpsertGroup stores the group unless the projection is already at or past
// its version.
func (m *Memory) UpsertGroup(_ context.Context, g *gateway.ToolGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.groups[g.ID]; ok && cur.Version >= g.Version {
		return nil
	}
	m.groups[g.ID] = *g
	return nil
}

// ListGroups returns projected groups, ordered by name.
func (m *Memory) ListGroups(_ context.Context, activeOnly bool) ([]*gateway.ToolGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*gateway.ToolGroup
	for _, g := range m.groups {
		if activeOnly && !g.Active {
			continue
		}
		g := g
		out = append(out, &g)
	}
	slices.SortFunc(out, func(a, b *gateway.ToolGroup) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// GetPolicy returns a copy of the projected policy.
func (m *Memory) GetPolicy(_ context.Context, id string) (*gateway.AccessPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, gateway.NewNotFoundError("policy", id)
	}
	return &p, nil
}

// UpsertPolicy stores the policy unless the projection is already at or
// past its version.
func (m *Memory) UpsertPolicy(_ context.Context, p *gateway.AccessPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.policies[p.ID]; ok && cur.Version >= p.Version {
		return nil
	}
	m.policies[p.ID] = *p
	return nil
}

// ListPolicies returns projected policies ordered by descending priority,
// the evaluation order of the access resolver.
func (m *Memory) ListPolicies(_ context.Context, activeOnly bool) ([]*gateway.AccessPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*gateway.AccessPolicy
	for _, p := range m.policies {
		if activeOnly && !p.Active {
			continue
		}
		p := p
		out = append(out, &p)
	}
	slices.SortFunc(out, func(a, b *gateway.AccessPolicy) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Checkpoint returns the last applied global event sequence.
func (m *Memory) Checkpoint(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoint, nil
}

// SetCheckpoint records projector progress. It never moves backwards.
func (m *Memory) SetCheckpoint(_ context.Context, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.checkpoint {
		m.checkpoint = seq
	}
	return nil
}
