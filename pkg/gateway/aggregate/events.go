// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregate implements the four event-sourced entities of the
// gateway: Source, SourceTool, ToolGroup and AccessPolicy. State is derived
// purely by folding an ordered event stream; commands validate invariants
// against the folded state and emit events, all-or-nothing.
package aggregate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
)

// Event type discriminators. The stream prefix doubles as the aggregate
// kind: "source/", "tool/", "group/", "policy/".
const (
	TypeSourceRegistered    = "source.registered"
	TypeSourceEnabled       = "source.enabled"
	TypeSourceDisabled      = "source.disabled"
	TypeSourceSyncSucceeded = "source.sync_succeeded"
	TypeSourceSyncFailed    = "source.sync_failed"
	TypeSourceHealthChanged = "source.health_changed"
	TypeSourceHealthReset   = "source.health_reset"

	TypeToolObserved           = "tool.observed"
	TypeToolDefinitionReplaced = "tool.definition_replaced"
	TypeToolDeprecated         = "tool.deprecated"
	TypeToolReactivated        = "tool.reactivated"
	TypeToolEnabled            = "tool.enabled"
	TypeToolDisabled           = "tool.disabled"

	TypeGroupCreated     = "group.created"
	TypeGroupActivated   = "group.activated"
	TypeGroupDeactivated = "group.deactivated"
	TypeSelectorAdded    = "group.selector_added"
	TypeSelectorRemoved  = "group.selector_removed"
	TypeMemberAdded      = "group.member_added"
	TypeMemberRemoved    = "group.member_removed"
	TypeExclusionAdded   = "group.exclusion_added"
	TypeExclusionRemoved = "group.exclusion_removed"

	TypePolicyDefined     = "policy.defined"
	TypePolicyUpdated     = "policy.updated"
	TypePolicyActivated   = "policy.activated"
	TypePolicyDeactivated = "policy.deactivated"
)

// SourceStream returns the event stream ID for a source aggregate.
func SourceStream(id string) string { return "source/" + id }

// ToolStream returns the event stream ID for a tool aggregate.
func ToolStream(id string) string { return "tool/" + id }

// GroupStream returns the event stream ID for a group aggregate.
func GroupStream(id string) string { return "group/" + id }

// PolicyStream returns the event stream ID for a policy aggregate.
func PolicyStream(id string) string { return "policy/" + id }

// SourceRegistered is the payload of TypeSourceRegistered.
type SourceRegistered struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	BaseURL   string             `json:"base_url"`
	Kind      string             `json:"kind"`
	TrustMode gateway.TrustMode  `json:"trust_mode"`
	Auth      gateway.AuthConfig `json:"auth"`
}

// SourceSyncSucceeded is the payload of TypeSourceSyncSucceeded.
type SourceSyncSucceeded struct {
	Fingerprint string `json:"fingerprint"`
	ToolCount   int    `json:"tool_count"`
}

// SourceSyncFailed is the payload of TypeSourceSyncFailed.
type SourceSyncFailed struct {
	Reason string `json:"reason"`
}

// SourceHealthChanged is the payload of TypeSourceHealthChanged. It records
// a circuit-breaker transition observed by the execution proxy.
type SourceHealthChanged struct {
	Health              gateway.SourceHealth `json:"health"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
}

// ToolObserved is the payload of TypeToolObserved.
type ToolObserved struct {
	ID          string             `json:"id"`
	SourceID    string             `json:"source_id"`
	SourceName  string             `json:"source_name"`
	OperationID string             `json:"operation_id"`
	Definition  gateway.Definition `json:"definition"`
}

// ToolDefinitionReplaced is the payload of TypeToolDefinitionReplaced.
// The definition is replaced wholesale, never merged.
type ToolDefinitionReplaced struct {
	Definition gateway.Definition `json:"definition"`
}

// GroupCreated is the payload of TypeGroupCreated.
type GroupCreated struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SelectorAdded is the payload of TypeSelectorAdded.
type SelectorAdded struct {
	Selector gateway.Selector `json:"selector"`
}

// SelectorRemoved is the payload of TypeSelectorRemoved.
type SelectorRemoved struct {
	SelectorID string `json:"selector_id"`
}

// MemberAdded is the payload of TypeMemberAdded.
type MemberAdded struct {
	ToolID  string    `json:"tool_id"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// MemberRemoved is the payload of TypeMemberRemoved.
type MemberRemoved struct {
	ToolID string `json:"tool_id"`
}

// ExclusionAdded is the payload of TypeExclusionAdded.
type ExclusionAdded struct {
	ToolID string `json:"tool_id"`
}

// ExclusionRemoved is the payload of TypeExclusionRemoved.
type ExclusionRemoved struct {
	ToolID string `json:"tool_id"`
}

// PolicyDefined is the payload of TypePolicyDefined.
type PolicyDefined struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Matchers []gateway.ClaimMatcher `json:"matchers"`
	GroupIDs []string               `json:"group_ids"`
	Priority int                    `json:"priority"`
}

// PolicyUpdated is the payload of TypePolicyUpdated.
type PolicyUpdated struct {
	Matchers []gateway.ClaimMatcher `json:"matchers"`
	GroupIDs []string               `json:"group_ids"`
	Priority int                    `json:"priority"`
}

// newEvent marshals a payload into an eventlog.Event.
func newEvent(typ string, payload any, actor string) (eventlog.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return eventlog.Event{}, fmt.Errorf("marshaling %s payload: %w", typ, err)
	}
	return eventlog.Event{
		Type:       typ,
		Data:       data,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// decode unmarshals an event payload into out.
func decode(ev eventlog.StoredEvent, out any) error {
	if err := json.Unmarshal(ev.Data, out); err != nil {
		return fmt.Errorf("decoding %s event at %s v%d: %w", ev.Type, ev.StreamID, ev.Version, err)
	}
	return nil
}

// empty is the payload of marker events that carry no data.
type empty struct{}
