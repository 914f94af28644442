// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"path"
	"slices"
	"time"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
)

// ReplayGroup folds an event stream into group state. Returns nil for an
// empty stream.
func ReplayGroup(events []eventlog.StoredEvent) (*gateway.ToolGroup, error) {
	var g *gateway.ToolGroup
	for _, ev := range events {
		next, err := applyGroup(g, ev)
		if err != nil {
			return nil, err
		}
		g = next
	}
	return g, nil
}

// applyGroup is the pure reducer for the ToolGroup aggregate.
func applyGroup(g *gateway.ToolGroup, ev eventlog.StoredEvent) (*gateway.ToolGroup, error) {
	switch ev.Type {
	case TypeGroupCreated:
		var p GroupCreated
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		g = &gateway.ToolGroup{ID: p.ID, Name: p.Name, Active: true}

	case TypeGroupActivated:
		g.Active = true

	case TypeGroupDeactivated:
		g.Active = false

	case TypeSelectorAdded:
		var p SelectorAdded
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		g.Selectors = append(g.Selectors, p.Selector)

	case TypeSelectorRemoved:
		var p SelectorRemoved
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		g.Selectors = slices.DeleteFunc(g.Selectors, func(s gateway.Selector) bool {
			return s.ID == p.SelectorID
		})

	case TypeMemberAdded:
		var p MemberAdded
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		g.Members = append(g.Members, gateway.ExplicitMember{
			ToolID:  p.ToolID,
			AddedBy: p.AddedBy,
			AddedAt: p.AddedAt,
		})

	case TypeMemberRemoved:
		var p MemberRemoved
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		g.Members = slices.DeleteFunc(g.Members, func(m gateway.ExplicitMember) bool {
			return m.ToolID == p.ToolID
		})

	case TypeExclusionAdded:
		var p ExclusionAdded
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		if !slices.Contains(g.Exclusions, p.ToolID) {
			g.Exclusions = append(g.Exclusions, p.ToolID)
		}

	case TypeExclusionRemoved:
		var p ExclusionRemoved
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		g.Exclusions = slices.DeleteFunc(g.Exclusions, func(id string) bool {
			return id == p.ToolID
		})
	}

	if g != nil {
		g.Version = ev.Version
	}
	return g, nil
}

// CreateGroup emits group.created. Groups start active and empty.
func CreateGroup(state *gateway.ToolGroup, id, name, actor string) ([]eventlog.Event, error) {
	if state != nil {
		return nil, gateway.Errorf(gateway.KindValidation, "group %s already exists", state.ID)
	}
	if name == "" {
		return nil, gateway.NewValidationError("group name is required", nil)
	}
	ev, err := newEvent(TypeGroupCreated, GroupCreated{ID: id, Name: name}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// ActivateGroup emits group.activated. Idempotent.
func ActivateGroup(state *gateway.ToolGroup, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("group", "")
	}
	if state.Active {
		return nil, nil
	}
	ev, err := newEvent(TypeGroupActivated, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// DeactivateGroup emits group.deactivated. Deactivation hides the group
// from access resolution without deleting its history. Idempotent.
func DeactivateGroup(state *gateway.ToolGroup, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("group", "")
	}
	if !state.Active {
		return nil, nil
	}
	ev, err := newEvent(TypeGroupDeactivated, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// AddSelector validates the selector patterns and emits group.selector_added.
func AddSelector(state *gateway.ToolGroup, sel gateway.Selector, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("group", "")
	}
	if sel.ID == "" {
		return nil, gateway.NewValidationError("selector id is required", nil)
	}
	if slices.ContainsFunc(state.Selectors, func(s gateway.Selector) bool { return s.ID == sel.ID }) {
		return nil, gateway.Errorf(gateway.KindValidation, "selector %s already exists", sel.ID)
	}
	if sel.SourcePattern == "" || sel.NamePattern == "" {
		return nil, gateway.NewValidationError("selector requires source and name patterns", nil)
	}
	for _, pattern := range []string{sel.SourcePattern, sel.NamePattern, sel.PathPattern} {
		if pattern == "" {
			continue
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, gateway.NewValidationError("selector pattern is malformed", err)
		}
	}

	ev, err := newEvent(TypeSelectorAdded, SelectorAdded{Selector: sel}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// RemoveSelector emits group.selector_removed.
func RemoveSelector(state *gateway.ToolGroup, selectorID, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("group", "")
	}
	if !slices.ContainsFunc(state.Selectors, func(s gateway.Selector) bool { return s.ID == selectorID }) {
		return nil, gateway.NewNotFoundError("selector", selectorID)
	}
	ev, err := newEvent(TypeSelectorRemoved, SelectorRemoved{SelectorID: selectorID}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// AddMember emits group.member_added recording who pinned the tool and when.
// Adding a tool that is already an explicit member is a no-op.
func AddMember(state *gateway.ToolGroup, toolID, addedBy, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("group", "")
	}
	if toolID == "" {
		return nil, gateway.NewValidationError("tool id is required", nil)
	}
	if slices.ContainsFunc(state.Members, func(m gateway.ExplicitMember) bool { return m.ToolID == toolID }) {
		return nil, nil
	}
	ev, err := newEvent(TypeMemberAdded, MemberAdded{
		ToolID:  toolID,
		AddedBy: addedBy,
		AddedAt: time.Now().UTC(),
	}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// RemoveMember emits group.member_removed.
func RemoveMember(state *gateway.ToolGroup, toolID, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("group", "")
	}
	if !slices.ContainsFunc(state.Members, func(m gateway.ExplicitMember) bool { return m.ToolID == toolID }) {
		return nil, gateway.NewNotFoundError("member", toolID)
	}
	ev, err := newEvent(TypeMemberRemoved, MemberRemoved{ToolID: toolID}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// AddExclusion emits group.exclusion_added. Exclusion beats both selector
// match and explicit membership. Idempotent.
func AddExclusion(state *gateway.ToolGroup, toolID, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("group", "")
	}
	if toolID == "" {
		return nil, gateway.NewValidationError("tool id is required", nil)
	}
	if slices.Contains(state.Exclusions, toolID) {
		return nil, nil
	}
	ev, err := newEvent(TypeExclusionAdded, ExclusionAdded{ToolID: toolID}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// RemoveExclusion emits group.exclusion_removed.
func RemoveExclusion(state *gateway.ToolGroup, toolID, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("group", "")
	}
	if !slices.Contains(state.Exclusions, toolID) {
		return nil, gateway.NewNotFoundError("exclusion", toolID)
	}
	ev, err := newEvent(TypeExclusionRemoved, ExclusionRemoved{ToolID: toolID}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}
