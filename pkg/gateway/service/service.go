// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the command side of the gateway: each administrative
// operation replays its aggregate stream, runs the command against the
// folded state, and appends the emitted events with optimistic
// concurrency. A conflicting append is replayed and retried a bounded
// number of times before the conflict surfaces to the caller.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregate"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
	"github.com/toolgate/toolgate/pkg/logger"
)

// conflictRetries bounds how often a command is retried after losing an
// optimistic-concurrency race.
const conflictRetries = 3

// Commands executes administrative commands against the event log.
type Commands struct {
	log eventlog.Log
}

// NewCommands creates the command service.
func NewCommands(log eventlog.Log) *Commands {
	return &Commands{log: log}
}

// RegisterSource registers a new upstream source and returns its
// generated ID.
func (c *Commands) RegisterSource(ctx context.Context, cmd aggregate.RegisterSourceCmd) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	err := c.run(ctx, aggregate.SourceStream(cmd.ID), func(events []eventlog.StoredEvent) ([]eventlog.Event, error) {
		state, err := replaySourceIfAny(events)
		if err != nil {
			return nil, err
		}
		return aggregate.RegisterSource(state, cmd)
	})
	if err != nil {
		return "", err
	}
	return cmd.ID, nil
}

// EnableSource re-enables a disabled source. Idempotent.
func (c *Commands) EnableSource(ctx context.Context, sourceID, actor string) error {
	return c.runSource(ctx, sourceID, func(state *gateway.Source) ([]eventlog.Event, error) {
		return aggregate.EnableSource(state, actor)
	})
}

// DisableSource disables a source; its tools vanish from every resolution.
func (c *Commands) DisableSource(ctx context.Context, sourceID, actor string) error {
	return c.runSource(ctx, sourceID, func(state *gateway.Source) ([]eventlog.Event, error) {
		return aggregate.DisableSource(state, actor)
	})
}

// RecordSyncSuccess records a completed inventory sync.
func (c *Commands) RecordSyncSuccess(ctx context.Context, sourceID, fingerprint string, toolCount int, actor string) error {
	return c.runSource(ctx, sourceID, func(state *gateway.Source) ([]eventlog.Event, error) {
		return aggregate.RecordSyncSuccess(state, fingerprint, toolCount, actor)
	})
}

// RecordSyncFailure records a failed inventory sync.
func (c *Commands) RecordSyncFailure(ctx context.Context, sourceID, reason, actor string) error {
	return c.runSource(ctx, sourceID, func(state *gateway.Source) ([]eventlog.Event, error) {
		return aggregate.RecordSyncFailure(state, reason, actor)
	})
}

// RecordHealthChange records a circuit-breaker transition on the source
// aggregate. Recording the current health is a no-op.
func (c *Commands) RecordHealthChange(ctx context.Context, sourceID string, health gateway.SourceHealth, failures int, actor string) error {
	return c.runSource(ctx, sourceID, func(state *gateway.Source) ([]eventlog.Event, error) {
		return aggregate.RecordHealthChange(state, health, failures, actor)
	})
}

// ResetSourceHealth closes an open circuit by administrative decision.
func (c *Commands) ResetSourceHealth(ctx context.Context, sourceID, actor string) error {
	return c.runSource(ctx, sourceID, func(state *gateway.Source) ([]eventlog.Event, error) {
		return aggregate.ResetSourceHealth(state, actor)
	})
}

// ObserveTool records a discovered tool, creating it on first sight and
// replacing its definition otherwise. Returns the tool ID.
func (c *Commands) ObserveTool(ctx context.Context, cmd aggregate.ObserveToolCmd) (string, error) {
	toolID := aggregate.ToolID(cmd.SourceID, cmd.OperationID)
	err := c.run(ctx, aggregate.ToolStream(toolID), func(events []eventlog.StoredEvent) ([]eventlog.Event, error) {
		state, err := replayToolIfAny(events)
		if err != nil {
			return nil, err
		}
		return aggregate.ObserveTool(state, cmd)
	})
	if err != nil {
		return "", err
	}
	return toolID, nil
}

// EnableTool re-enables a disabled tool. Idempotent.
func (c *Commands) EnableTool(ctx context.Context, toolID, actor string) error {
	return c.runTool(ctx, toolID, func(state *gateway.Tool) ([]eventlog.Event, error) {
		return aggregate.EnableTool(state, actor)
	})
}

// DisableTool disables a tool; it vanishes from every resolution.
func (c *Commands) DisableTool(ctx context.Context, toolID, actor string) error {
	return c.runTool(ctx, toolID, func(state *gateway.Tool) ([]eventlog.Event, error) {
		return aggregate.DisableTool(state, actor)
	})
}

// DeprecateTool marks a tool gone from upstream. Idempotent.
func (c *Commands) DeprecateTool(ctx context.Context, toolID, actor string) error {
	return c.runTool(ctx, toolID, func(state *gateway.Tool) ([]eventlog.Event, error) {
		return aggregate.DeprecateTool(state, actor)
	})
}

// CreateGroup creates a tool group and returns its generated ID.
func (c *Commands) CreateGroup(ctx context.Context, id, name, actor string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	err := c.run(ctx, aggregate.GroupStream(id), func(events []eventlog.StoredEvent) ([]eventlog.Event, error) {
		state, err := replayGroupIfAny(events)
		if err != nil {
			return nil, err
		}
		return aggregate.CreateGroup(state, id, name, actor)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ActivateGroup makes a group visible to access resolution. Idempotent.
func (c *Commands) ActivateGroup(ctx context.Context, groupID, actor string) error {
	return c.runGroup(ctx, groupID, func(state *gateway.ToolGroup) ([]eventlog.Event, error) {
		return aggregate.ActivateGroup(state, actor)
	})
}

// DeactivateGroup hides a group without deleting its history. Idempotent.
func (c *Commands) DeactivateGroup(ctx context.Context, groupID, actor string) error {
	return c.runGroup(ctx, groupID, func(state *gateway.ToolGroup) ([]eventlog.Event, error) {
		return aggregate.DeactivateGroup(state, actor)
	})
}

// AddSelector adds a selector to a group. A missing selector ID is
// generated.
func (c *Commands) AddSelector(ctx context.Context, groupID string, sel gateway.Selector, actor string) (string, error) {
	if sel.ID == "" {
		sel.ID = uuid.NewString()
	}
	err := c.runGroup(ctx, groupID, func(state *gateway.ToolGroup) ([]eventlog.Event, error) {
		return aggregate.AddSelector(state, sel, actor)
	})
	if err != nil {
		return "", err
	}
	return sel.ID, nil
}

// RemoveSelector removes a selector from a group.
func (c *Commands) RemoveSelector(ctx context.Context, groupID, selectorID, actor string) error {
	return c.runGroup(ctx, groupID, func(state *gateway.ToolGroup) ([]eventlog.Event, error) {
		return aggregate.RemoveSelector(state, selectorID, actor)
	})
}

// AddMember pins a tool into a group regardless of selector match.
func (c *Commands) AddMember(ctx context.Context, groupID, toolID, actor string) error {
	return c.runGroup(ctx, groupID, func(state *gateway.ToolGroup) ([]eventlog.Event, error) {
		return aggregate.AddMember(state, toolID, actor, actor)
	})
}

// RemoveMember removes an explicit member from a group.
func (c *Commands) RemoveMember(ctx context.Context, groupID, toolID, actor string) error {
	return c.runGroup(ctx, groupID, func(state *gateway.ToolGroup) ([]eventlog.Event, error) {
		return aggregate.RemoveMember(state, toolID, actor)
	})
}

// AddExclusion vetoes a tool from a group. Exclusion beats both selector
// match and explicit membership.
func (c *Commands) AddExclusion(ctx context.Context, groupID, toolID, actor string) error {
	return c.runGroup(ctx, groupID, func(state *gateway.ToolGroup) ([]eventlog.Event, error) {
		return aggregate.AddExclusion(state, toolID, actor)
	})
}

// RemoveExclusion lifts a veto.
func (c *Commands) RemoveExclusion(ctx context.Context, groupID, toolID, actor string) error {
	return c.runGroup(ctx, groupID, func(state *gateway.ToolGroup) ([]eventlog.Event, error) {
		return aggregate.RemoveExclusion(state, toolID, actor)
	})
}

// DefinePolicy defines an access policy and returns its generated ID.
func (c *Commands) DefinePolicy(ctx context.Context, cmd aggregate.DefinePolicyCmd) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	err := c.run(ctx, aggregate.PolicyStream(cmd.ID), func(events []eventlog.StoredEvent) ([]eventlog.Event, error) {
		state, err := replayPolicyIfAny(events)
		if err != nil {
			return nil, err
		}
		return aggregate.DefinePolicy(state, cmd)
	})
	if err != nil {
		return "", err
	}
	return cmd.ID, nil
}

// UpdatePolicy replaces a policy's matchers, groups and priority.
func (c *Commands) UpdatePolicy(
	ctx context.Context,
	policyID string,
	matchers []gateway.ClaimMatcher,
	groupIDs []string,
	priority int,
	actor string,
) error {
	return c.runPolicy(ctx, policyID, func(state *gateway.AccessPolicy) ([]eventlog.Event, error) {
		return aggregate.UpdatePolicy(state, matchers, groupIDs, priority, actor)
	})
}

// ActivatePolicy makes a policy participate in access resolution.
func (c *Commands) ActivatePolicy(ctx context.Context, policyID, actor string) error {
	return c.runPolicy(ctx, policyID, func(state *gateway.AccessPolicy) ([]eventlog.Event, error) {
		return aggregate.ActivatePolicy(state, actor)
	})
}

// DeactivatePolicy withdraws a policy from access resolution.
func (c *Commands) DeactivatePolicy(ctx context.Context, policyID, actor string) error {
	return c.runPolicy(ctx, policyID, func(state *gateway.AccessPolicy) ([]eventlog.Event, error) {
		return aggregate.DeactivatePolicy(state, actor)
	})
}

// run replays the stream, produces events and appends them, retrying a
// bounded number of times when another writer won the version race. A
// command that emits no events is an idempotent no-op.
func (c *Commands) run(
	ctx context.Context,
	streamID string,
	decide func([]eventlog.StoredEvent) ([]eventlog.Event, error),
) error {
	var lastErr error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		stored, err := c.log.Read(ctx, streamID)
		if err != nil {
			return err
		}

		events, err := decide(stored)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		_, err = c.log.Append(ctx, streamID, uint64(len(stored)), events)
		if err == nil {
			return nil
		}
		if !gateway.IsKind(err, gateway.KindConcurrencyConflict) {
			return err
		}
		lastErr = err
		logger.Debugw("command lost version race, replaying", "stream_id", streamID, "attempt", attempt+1)
	}
	return lastErr
}

func (c *Commands) runSource(ctx context.Context, sourceID string, decide func(*gateway.Source) ([]eventlog.Event, error)) error {
	return c.run(ctx, aggregate.SourceStream(sourceID), func(events []eventlog.StoredEvent) ([]eventlog.Event, error) {
		state, err := replaySourceIfAny(events)
		if err != nil {
			return nil, err
		}
		return decide(state)
	})
}

func (c *Commands) runTool(ctx context.Context, toolID string, decide func(*gateway.Tool) ([]eventlog.Event, error)) error {
	return c.run(ctx, aggregate.ToolStream(toolID), func(events []eventlog.StoredEvent) ([]eventlog.Event, error) {
		state, err := replayToolIfAny(events)
		if err != nil {
			return nil, err
		}
		return decide(state)
	})
}

func (c *Commands) runGroup(ctx context.Context, groupID string, decide func(*gateway.ToolGroup) ([]eventlog.Event, error)) error {
	return c.run(ctx, aggregate.GroupStream(groupID), func(events []eventlog.StoredEvent) ([]eventlog.Event, error) {
		state, err := replayGroupIfAny(events)
		if err != nil {
			return nil, err
		}
		return decide(state)
	})
}

func (c *Commands) runPolicy(ctx context.Context, policyID string, decide func(*gateway.AccessPolicy) ([]eventlog.Event, error)) error {
	return c.run(ctx, aggregate.PolicyStream(policyID), func(events []eventlog.StoredEvent) ([]eventlog.Event, error) {
		state, err := replayPolicyIfAny(events)
		if err != nil {
			return nil, err
		}
		return decide(state)
	})
}

func replaySourceIfAny(events []eventlog.StoredEvent) (*gateway.Source, error) {
	if len(events) == 0 {
		return nil, nil
	}
	return aggregate.ReplaySource(events)
}

func replayToolIfAny(events []eventlog.StoredEvent) (*gateway.Tool, error) {
	if len(events) == 0 {
		return nil, nil
	}
	return aggregate.ReplayTool(events)
}

func replayGroupIfAny(events []eventlog.StoredEvent) (*gateway.ToolGroup, error) {
	if len(events) == 0 {
		return nil, nil
	}
	return aggregate.ReplayGroup(events)
}

func replayPolicyIfAny(events []eventlog.StoredEvent) (*gateway.AccessPolicy, error) {
	if len(events) == 0 {
		return nil, nil
	}
	return aggregate.ReplayPolicy(events)
}
