// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"regexp"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
)

// ReplayPolicy folds an event stream into policy state. Returns nil for an
// empty stream.
func ReplayPolicy(events []eventlog.StoredEvent) (*gateway.AccessPolicy, error) {
	var p *gateway.AccessPolicy
	for _, ev := range events {
		next, err := applyPolicy(p, ev)
		if err != nil {
			return nil, err
		}
		p = next
	}
	return p, nil
}

// applyPolicy is the pure reducer for the AccessPolicy aggregate.
func applyPolicy(p *gateway.AccessPolicy, ev eventlog.StoredEvent) (*gateway.AccessPolicy, error) {
	switch ev.Type {
	case TypePolicyDefined:
		var d PolicyDefined
		if err := decode(ev, &d); err != nil {
			return nil, err
		}
		p = &gateway.AccessPolicy{
			ID:       d.ID,
			Name:     d.Name,
			Matchers: d.Matchers,
			GroupIDs: d.GroupIDs,
			Priority: d.Priority,
			Active:   true,
		}

	case TypePolicyUpdated:
		var d PolicyUpdated
		if err := decode(ev, &d); err != nil {
			return nil, err
		}
		p.Matchers = d.Matchers
		p.GroupIDs = d.GroupIDs
		p.Priority = d.Priority

	case TypePolicyActivated:
		p.Active = true

	case TypePolicyDeactivated:
		p.Active = false
	}

	if p != nil {
		p.Version = ev.Version
	}
	return p, nil
}

// DefinePolicyCmd creates an access policy.
type DefinePolicyCmd struct {
	ID       string
	Name     string
	Matchers []gateway.ClaimMatcher
	GroupIDs []string
	Priority int
	Actor    string
}

// DefinePolicy validates matchers and emits policy.defined.
func DefinePolicy(state *gateway.AccessPolicy, cmd DefinePolicyCmd) ([]eventlog.Event, error) {
	if state != nil {
		return nil, gateway.Errorf(gateway.KindValidation, "policy %s already exists", state.ID)
	}
	if cmd.Name == "" {
		return nil, gateway.NewValidationError("policy name is required", nil)
	}
	if err := validateMatchers(cmd.Matchers); err != nil {
		return nil, err
	}
	if len(cmd.GroupIDs) == 0 {
		return nil, gateway.NewValidationError("policy requires at least one target group", nil)
	}

	ev, err := newEvent(TypePolicyDefined, PolicyDefined{
		ID:       cmd.ID,
		Name:     cmd.Name,
		Matchers: cmd.Matchers,
		GroupIDs: cmd.GroupIDs,
		Priority: cmd.Priority,
	}, cmd.Actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// UpdatePolicy replaces matchers, target groups and priority in one event.
func UpdatePolicy(state *gateway.AccessPolicy, matchers []gateway.ClaimMatcher, groupIDs []string, priority int, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("policy", "")
	}
	if err := validateMatchers(matchers); err != nil {
		return nil, err
	}
	if len(groupIDs) == 0 {
		return nil, gateway.NewValidationError("policy requires at least one target group", nil)
	}
	ev, err := newEvent(TypePolicyUpdated, PolicyUpdated{
		Matchers: matchers,
		GroupIDs: groupIDs,
		Priority: priority,
	}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// validateMatchers rejects unknown operators, empty paths and regexps that
// don't compile. A policy with zero matchers would match every caller, so
// at least one is required.
func validateMatchers(matchers []gateway.ClaimMatcher) error {
	if len(matchers) == 0 {
		return gateway.NewValidationError("policy requires at least one claim matcher", nil)
	}
	for _, m := range matchers {
		if m.Path == "" {
			return gateway.NewValidationError("claim matcher requires a path", nil)
		}
		switch m.Operator {
		case gateway.OpEquals, gateway.OpNotEquals, gateway.OpContains, gateway.OpNotContains:
		case gateway.OpMatches:
			if _, err := regexp.Compile(m.Value); err != nil {
				return gateway.NewValidationError("claim matcher regexp is invalid", err)
			}
		default:
			return gateway.Errorf(gateway.KindValidation, "unknown matcher operator %q", m.Operator)
		}
	}
	return nil
}

// ActivatePolicy emits policy.activated. Idempotent.
func ActivatePolicy(state *gateway.AccessPolicy, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("policy", "")
	}
	if state.Active {
		return nil, nil
	}
	ev, err := newEvent(TypePolicyActivated, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// DeactivatePolicy emits policy.deactivated. Idempotent.
func DeactivatePolicy(state *gateway.AccessPolicy, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("policy", "")
	}
	if !state.Active {
		return nil, nil
	}
	ev, err := newEvent(TypePolicyDeactivated, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}
