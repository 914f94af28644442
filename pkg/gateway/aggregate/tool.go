// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
)

// ToolID derives the stable tool identity from the source ID and the
// upstream operation ID. It survives definition replacements.
func ToolID(sourceID, operationID string) string {
	return sourceID + ":" + operationID
}

// ReplayTool folds an event stream into tool state. Returns nil for an
// empty stream.
func ReplayTool(events []eventlog.StoredEvent) (*gateway.Tool, error) {
	var t *gateway.Tool
	for _, ev := range events {
		next, err := applyTool(t, ev)
		if err != nil {
			return nil, err
		}
		t = next
	}
	return t, nil
}

// applyTool is the pure reducer for the SourceTool aggregate.
func applyTool(t *gateway.Tool, ev eventlog.StoredEvent) (*gateway.Tool, error) {
	switch ev.Type {
	case TypeToolObserved:
		var p ToolObserved
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		t = &gateway.Tool{
			ID:          p.ID,
			SourceID:    p.SourceID,
			SourceName:  p.SourceName,
			OperationID: p.OperationID,
			Definition:  p.Definition,
			Enabled:     true,
			Lifecycle:   gateway.ToolActive,
		}

	case TypeToolDefinitionReplaced:
		var p ToolDefinitionReplaced
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		t.Definition = p.Definition

	case TypeToolDeprecated:
		t.Lifecycle = gateway.ToolDeprecated

	case TypeToolReactivated:
		t.Lifecycle = gateway.ToolActive

	case TypeToolEnabled:
		t.Enabled = true

	case TypeToolDisabled:
		t.Enabled = false
	}

	if t != nil {
		t.Version = ev.Version
	}
	return t, nil
}

// ObserveToolCmd records a tool seen in an inventory sync for the first time.
type ObserveToolCmd struct {
	SourceID    string
	SourceName  string
	OperationID string
	Definition  gateway.Definition
	Actor       string
}

// ObserveTool emits tool.observed for a first sighting, or
// tool.definition_replaced (plus tool.reactivated when the tool had been
// deprecated) for a re-sighting. Definitions are replaced, never merged.
func ObserveTool(state *gateway.Tool, cmd ObserveToolCmd) ([]eventlog.Event, error) {
	if err := validateDefinition(cmd.Definition); err != nil {
		return nil, err
	}

	if state == nil {
		ev, err := newEvent(TypeToolObserved, ToolObserved{
			ID:          ToolID(cmd.SourceID, cmd.OperationID),
			SourceID:    cmd.SourceID,
			SourceName:  cmd.SourceName,
			OperationID: cmd.OperationID,
			Definition:  cmd.Definition,
		}, cmd.Actor)
		if err != nil {
			return nil, err
		}
		return []eventlog.Event{ev}, nil
	}

	var events []eventlog.Event
	if state.Lifecycle == gateway.ToolDeprecated {
		ev, err := newEvent(TypeToolReactivated, empty{}, cmd.Actor)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	ev, err := newEvent(TypeToolDefinitionReplaced, ToolDefinitionReplaced{Definition: cmd.Definition}, cmd.Actor)
	if err != nil {
		return nil, err
	}
	return append(events, ev), nil
}

func validateDefinition(def gateway.Definition) error {
	if def.Name == "" {
		return gateway.NewValidationError("tool definition requires a name", nil)
	}
	p := def.Profile
	switch p.Mode {
	case gateway.ExecSync:
		if p.Poll != nil {
			return gateway.NewValidationError("sync profile must not carry a poll descriptor", nil)
		}
	case gateway.ExecAsyncPoll:
		if p.Poll == nil {
			return gateway.NewValidationError("async-poll profile requires a poll descriptor", nil)
		}
		if p.Poll.MaxAttempts <= 0 || p.Poll.BaseInterval <= 0 || p.Poll.Multiplier < 1 {
			return gateway.NewValidationError("poll descriptor requires max_attempts > 0, base_interval > 0, multiplier >= 1", nil)
		}
		if len(p.Poll.SuccessValues) == 0 {
			return gateway.NewValidationError("poll descriptor requires at least one success value", nil)
		}
	default:
		return gateway.Errorf(gateway.KindValidation, "unknown execution mode %q", p.Mode)
	}
	if p.Method == "" || p.URLTemplate == "" {
		return gateway.NewValidationError("execution profile requires method and url_template", nil)
	}
	return nil
}

// DeprecateTool emits tool.deprecated when a sync no longer reports the
// tool. Tools are never physically removed; the stream is the audit trail.
func DeprecateTool(state *gateway.Tool, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("tool", "")
	}
	if state.Lifecycle == gateway.ToolDeprecated {
		return nil, nil
	}
	ev, err := newEvent(TypeToolDeprecated, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// EnableTool emits tool.enabled. Idempotent.
func EnableTool(state *gateway.Tool, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("tool", "")
	}
	if state.Enabled {
		return nil, nil
	}
	ev, err := newEvent(TypeToolEnabled, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// DisableTool emits tool.disabled. Idempotent.
func DisableTool(state *gateway.Tool, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("tool", "")
	}
	if !state.Enabled {
		return nil, nil
	}
	ev, err := newEvent(TypeToolDisabled, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}
