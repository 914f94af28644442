// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package projector folds the event log into the projection store and
// invalidates the manifest caches affected by each event. It is the only
// writer of projections; resolvers never touch the log.
package projector

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/access"
	"github.com/toolgate/toolgate/pkg/gateway/aggregate"
	"github.com/toolgate/toolgate/pkg/gateway/cache"
	"github.com/toolgate/toolgate/pkg/gateway/catalog"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
	"github.com/toolgate/toolgate/pkg/gateway/store"
	"github.com/toolgate/toolgate/pkg/logger"
)

const (
	// defaultInterval is how often Run polls the log for new events.
	defaultInterval = 500 * time.Millisecond

	// catchUpMaxTries bounds the retries of one failing catch-up pass;
	// the next tick starts a fresh one, so a lagging projection is a
	// transient state rather than a fatal error.
	catchUpMaxTries = 5
)

// StalenessReporter receives the number of log events not yet applied.
type StalenessReporter interface {
	ObserveEventsApplied(count int)
	SetProjectorLag(pending int)
}

// Projector drives projections and cache invalidation from the log.
type Projector struct {
	log      eventlog.Log
	store    store.Projections
	catalog  *catalog.Resolver
	access   *access.Resolver
	notifier cache.Notifier
	metrics  StalenessReporter
	interval time.Duration
}

// Option customizes a Projector.
type Option func(*Projector)

// WithInterval sets the log polling interval.
func WithInterval(d time.Duration) Option {
	return func(p *Projector) { p.interval = d }
}

// WithMetrics wires a staleness reporter.
func WithMetrics(m StalenessReporter) Option {
	return func(p *Projector) { p.metrics = m }
}

// New creates a projector.
func New(
	log eventlog.Log,
	projections store.Projections,
	catalogResolver *catalog.Resolver,
	accessResolver *access.Resolver,
	notifier cache.Notifier,
	opts ...Option,
) *Projector {
	if notifier == nil {
		notifier = cache.NopNotifier
	}
	p := &Projector{
		log:      log,
		store:    projections,
		catalog:  catalogResolver,
		access:   accessResolver,
		notifier: notifier,
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run catches up and then keeps the projections current until the context
// is cancelled. Catch-up failures are retried with backoff and never stop
// the loop.
func (p *Projector) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.catchUpWithRetry(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Projection catch-up failed, will retry: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Projector) catchUpWithRetry(ctx context.Context) (int, error) {
	operation := func() (int, error) {
		return p.CatchUp(ctx)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(catchUpMaxTries),
	)
}

// CatchUp applies all events past the checkpoint. It returns the number
// of events applied. Safe to call concurrently with resolvers; projection
// upserts are idempotent by version.
func (p *Projector) CatchUp(ctx context.Context) (int, error) {
	checkpoint, err := p.store.Checkpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading checkpoint: %w", err)
	}

	pending, err := p.log.ReadAll(ctx, checkpoint)
	if err != nil {
		return 0, fmt.Errorf("reading log: %w", err)
	}
	if p.metrics != nil {
		p.metrics.SetProjectorLag(len(pending))
	}

	applied := 0
	for _, ev := range pending {
		if err := p.apply(ctx, ev); err != nil {
			return applied, fmt.Errorf("applying %s at seq %d: %w", ev.Type, ev.GlobalSeq, err)
		}
		if err := p.store.SetCheckpoint(ctx, ev.GlobalSeq); err != nil {
			return applied, fmt.Errorf("advancing checkpoint: %w", err)
		}
		applied++
	}

	if p.metrics != nil && applied > 0 {
		p.metrics.ObserveEventsApplied(applied)
		p.metrics.SetProjectorLag(0)
	}
	return applied, nil
}

// apply projects one event and performs its cache side effects.
func (p *Projector) apply(ctx context.Context, ev eventlog.StoredEvent) error {
	switch {
	case strings.HasPrefix(ev.StreamID, "source/"):
		return p.applySource(ctx, ev)
	case strings.HasPrefix(ev.StreamID, "tool/"):
		return p.applyTool(ctx, ev)
	case strings.HasPrefix(ev.StreamID, "group/"):
		return p.applyGroup(ctx, ev)
	case strings.HasPrefix(ev.StreamID, "policy/"):
		return p.applyPolicy(ctx, ev)
	default:
		logger.Warnw("skipping event on unknown stream", "stream_id", ev.StreamID, "type", ev.Type)
		return nil
	}
}

func (p *Projector) applySource(ctx context.Context, ev eventlog.StoredEvent) error {
	source, err := p.replaySource(ctx, ev.StreamID)
	if err != nil {
		return err
	}
	if err := p.store.UpsertSource(ctx, source); err != nil {
		return err
	}

	// Enabling or disabling a source changes which tools resolve; health
	// and sync bookkeeping do not.
	if ev.Type == aggregate.TypeSourceEnabled || ev.Type == aggregate.TypeSourceDisabled {
		return p.invalidateGroupsOfSource(ctx, source)
	}
	return nil
}

func (p *Projector) applyTool(ctx context.Context, ev eventlog.StoredEvent) error {
	events, err := p.log.Read(ctx, ev.StreamID)
	if err != nil {
		return err
	}
	tool, err := aggregate.ReplayTool(events)
	if err != nil {
		return err
	}
	if err := p.store.UpsertTool(ctx, tool); err != nil {
		return err
	}
	return p.invalidateGroupsOfTool(ctx, tool)
}

func (p *Projector) applyGroup(ctx context.Context, ev eventlog.StoredEvent) error {
	events, err := p.log.Read(ctx, ev.StreamID)
	if err != nil {
		return err
	}
	group, err := aggregate.ReplayGroup(events)
	if err != nil {
		return err
	}
	if err := p.store.UpsertGroup(ctx, group); err != nil {
		return err
	}
	return p.invalidateGroup(ctx, group.ID)
}

func (p *Projector) applyPolicy(ctx context.Context, ev eventlog.StoredEvent) error {
	events, err := p.log.Read(ctx, ev.StreamID)
	if err != nil {
		return err
	}
	policy, err := aggregate.ReplayPolicy(events)
	if err != nil {
		return err
	}
	if err := p.store.UpsertPolicy(ctx, policy); err != nil {
		return err
	}
	// Any policy mutation may change any caller's manifest.
	p.access.InvalidateAll(ctx)
	return nil
}

func (p *Projector) replaySource(ctx context.Context, streamID string) (*gateway.Source, error) {
	events, err := p.log.Read(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return aggregate.ReplaySource(events)
}

// invalidateGroup drops a group's cached manifest and every caller
// manifest that depends on it, then notifies listeners.
func (p *Projector) invalidateGroup(ctx context.Context, groupID string) error {
	if err := p.catalog.Invalidate(ctx, groupID); err != nil {
		return err
	}
	p.access.InvalidateGroup(ctx, groupID)
	if err := p.notifier.Publish(ctx, cache.Change{Kind: "group", ID: groupID}); err != nil {
		logger.Warnw("manifest change notification failed", "group_id", groupID, "error", err)
	}
	return nil
}

// invalidateGroupsOfTool invalidates every group whose resolution can
// reference the tool, by selector match, explicit membership or exclusion.
func (p *Projector) invalidateGroupsOfTool(ctx context.Context, tool *gateway.Tool) error {
	groups, err := p.store.ListGroups(ctx, false)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if !groupReferencesTool(group, tool) {
			continue
		}
		if err := p.invalidateGroup(ctx, group.ID); err != nil {
			return err
		}
	}
	return nil
}

// invalidateGroupsOfSource invalidates every group with a selector whose
// source pattern matches the source, or a member or exclusion pinned to
// one of its tools.
func (p *Projector) invalidateGroupsOfSource(ctx context.Context, source *gateway.Source) error {
	groups, err := p.store.ListGroups(ctx, false)
	if err != nil {
		return err
	}
	idPrefix := source.ID + ":"
	for _, group := range groups {
		referenced := slices.ContainsFunc(group.Selectors, func(sel gateway.Selector) bool {
			ok, err := path.Match(sel.SourcePattern, source.Name)
			return err == nil && ok
		}) || slices.ContainsFunc(group.Members, func(m gateway.ExplicitMember) bool {
			return strings.HasPrefix(m.ToolID, idPrefix)
		}) || slices.ContainsFunc(group.Exclusions, func(id string) bool {
			return strings.HasPrefix(id, idPrefix)
		})
		if !referenced {
			continue
		}
		if err := p.invalidateGroup(ctx, group.ID); err != nil {
			return err
		}
	}
	return nil
}

func groupReferencesTool(group *gateway.ToolGroup, tool *gateway.Tool) bool {
	if slices.ContainsFunc(group.Selectors, func(sel gateway.Selector) bool {
		return catalog.MatchSelector(sel, tool)
	}) {
		return true
	}
	if slices.ContainsFunc(group.Members, func(m gateway.ExplicitMember) bool {
		return m.ToolID == tool.ID
	}) {
		return true
	}
	return slices.Contains(group.Exclusions, tool.ID)
}
