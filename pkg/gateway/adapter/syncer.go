// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregate"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
	"github.com/toolgate/toolgate/pkg/logger"
)

// Syncer reconciles a source's discovered inventory with the tool
// aggregates: new operations are observed, changed definitions replaced,
// vanished operations deprecated. A discovery whose fingerprint matches
// the last successful sync is skipped entirely.
type Syncer struct {
	commands *service.Commands
	store    store.Projections
	adapters map[string]SourceAdapter
}

// NewSyncer creates a syncer. Adapters are registered per source kind.
func NewSyncer(commands *service.Commands, projections store.Projections) *Syncer {
	return &Syncer{
		commands: commands,
		store:    projections,
		adapters: make(map[string]SourceAdapter),
	}
}

// Register installs the adapter for a source kind.
func (s *Syncer) Register(kind string, a SourceAdapter) {
	s.adapters[kind] = a
}

// Sync runs one inventory sync for the source. Discovery failures are
// recorded on the source aggregate and returned.
func (s *Syncer) Sync(ctx context.Context, sourceID, actor string) error {
	source, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return gateway.NewNotFoundError("source", sourceID)
	}

	a, ok := s.adapters[source.Kind]
	if !ok {
		return gateway.Errorf(gateway.KindValidation, "no adapter registered for source kind %q", source.Kind)
	}

	inv, err := a.Discover(ctx, source)
	if err != nil {
		if recordErr := s.commands.RecordSyncFailure(ctx, sourceID, err.Error(), actor); recordErr != nil {
			logger.Errorw("recording sync failure", "source_id", sourceID, "error", recordErr)
		}
		return fmt.Errorf("discovering source %s: %w", source.Name, err)
	}

	if inv.Fingerprint == source.LastFingerprint {
		logger.Debugw("inventory unchanged, skipping sync", "source_id", sourceID, "fingerprint", inv.Fingerprint)
		return nil
	}

	seen := make(map[string]struct{}, len(inv.Tools))
	for _, discovered := range inv.Tools {
		seen[aggregate.ToolID(sourceID, discovered.OperationID)] = struct{}{}
		_, err := s.commands.ObserveTool(ctx, aggregate.ObserveToolCmd{
			SourceID:    sourceID,
			SourceName:  source.Name,
			OperationID: discovered.OperationID,
			Definition:  discovered.Definition,
			Actor:       actor,
		})
		if err != nil {
			return fmt.Errorf("observing tool %s: %w", discovered.OperationID, err)
		}
	}

	// Tools that disappeared from the inventory are deprecated, never
	// deleted; their streams remain the audit trail.
	existing, err := s.store.ListTools(ctx, store.ToolFilter{SourceID: sourceID})
	if err != nil {
		return err
	}
	for _, tool := range existing {
		if _, present := seen[tool.ID]; present || tool.Lifecycle == gateway.ToolDeprecated {
			continue
		}
		if err := s.commands.DeprecateTool(ctx, tool.ID, actor); err != nil {
			return fmt.Errorf("deprecating tool %s: %w", tool.ID, err)
		}
	}

	return s.commands.RecordSyncSuccess(ctx, sourceID, inv.Fingerprint, len(inv.Tools), actor)
}
