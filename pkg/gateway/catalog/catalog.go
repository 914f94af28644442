// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog computes the concrete tool set of a group: selector
// matches plus explicit members minus exclusions, with disabled and
// deprecated tools (and tools of disabled sources) vetoed throughout.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/cache"
	"github.com/toolgate/toolgate/pkg/gateway/store"
	"github.com/toolgate/toolgate/pkg/logger"
)

const (
	// DefaultManifestTTL bounds how long a cached group manifest survives
	// without recomputation. Invalidation normally arrives much sooner via
	// the projector.
	DefaultManifestTTL = 5 * time.Minute

	cacheKeyPrefix = "manifest:group:"
)

// Resolver resolves group manifests against the projection store, with a
// cache in front and per-group coalescing of concurrent recomputations.
type Resolver struct {
	store store.Projections
	cache cache.Cache
	ttl   time.Duration

	// group ensures at most one in-flight recomputation per group ID;
	// concurrent triggers observe its result instead of starting another.
	group singleflight.Group
}

// NewResolver creates a catalog resolver. ttl <= 0 uses DefaultManifestTTL.
func NewResolver(projections store.Projections, manifestCache cache.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultManifestTTL
	}
	return &Resolver{store: projections, cache: manifestCache, ttl: ttl}
}

// Resolve returns the sorted tool-id set of the group, from cache when
// fresh, recomputing otherwise.
func (r *Resolver) Resolve(ctx context.Context, groupID string) ([]string, error) {
	if cached, ok := r.cachedManifest(ctx, groupID); ok {
		return cached, nil
	}

	result, err, _ := r.group.Do(groupID, func() (any, error) {
		// Double-check the cache after acquiring the singleflight slot:
		// another flight may have just populated it.
		if cached, ok := r.cachedManifest(ctx, groupID); ok {
			return cached, nil
		}
		return r.recompute(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}
	ids, ok := result.([]string)
	if !ok {
		return nil, gateway.Errorf(gateway.KindInternal, "unexpected manifest type %T", result)
	}
	return ids, nil
}

// Invalidate drops the cached manifest of a group. Called by the projector
// when a contributing aggregate changes.
func (r *Resolver) Invalidate(ctx context.Context, groupID string) error {
	return r.cache.Delete(ctx, cacheKeyPrefix+groupID)
}

// Recompute forces a fresh resolution and repopulates the cache,
// coalescing with any in-flight recomputation for the same group.
func (r *Resolver) Recompute(ctx context.Context, groupID string) ([]string, error) {
	result, err, _ := r.group.Do(groupID, func() (any, error) {
		return r.recompute(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (r *Resolver) cachedManifest(ctx context.Context, groupID string) ([]string, bool) {
	data, ok, err := r.cache.Get(ctx, cacheKeyPrefix+groupID)
	if err != nil {
		// A cache failure degrades to recomputation, it never fails a read.
		logger.Warnw("manifest cache read failed", "group_id", groupID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		logger.Warnw("manifest cache entry corrupt", "group_id", groupID, "error", err)
		return nil, false
	}
	return ids, true
}

// recompute runs the resolution algorithm and stores the result.
func (r *Resolver) recompute(ctx context.Context, groupID string) ([]string, error) {
	group, err := r.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	tools, err := r.store.ListTools(ctx, store.ToolFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing tools for group %s: %w", groupID, err)
	}
	sources, err := r.store.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sources for group %s: %w", groupID, err)
	}

	enabledSources := make(map[string]bool, len(sources))
	for _, s := range sources {
		enabledSources[s.ID] = s.Enabled
	}
	byID := make(map[string]*gateway.Tool, len(tools))
	for _, t := range tools {
		byID[t.ID] = t
	}

	// resolvable is the hard veto: disabled tools, deprecated tools and
	// tools of disabled sources never resolve, explicit membership
	// included.
	resolvable := func(t *gateway.Tool) bool {
		return t.Resolvable() && enabledSources[t.SourceID]
	}

	included := make(map[string]struct{})

	// Selector matches: OR across selectors, AND within one.
	for _, t := range tools {
		if !resolvable(t) {
			continue
		}
		for _, sel := range group.Selectors {
			if MatchSelector(sel, t) {
				included[t.ID] = struct{}{}
				break
			}
		}
	}

	// Explicit members bypass selector matching, not the vetoes.
	for _, m := range group.Members {
		t, ok := byID[m.ToolID]
		if !ok || !resolvable(t) {
			continue
		}
		included[t.ID] = struct{}{}
	}

	// Exclusion is evaluated last and is absolute.
	for _, id := range group.Exclusions {
		delete(included, id)
	}

	ids := make([]string, 0, len(included))
	for id := range included {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest for group %s: %w", groupID, err)
	}
	if err := r.cache.Set(ctx, cacheKeyPrefix+groupID, data, r.ttl); err != nil {
		// Losing the cache write costs a future recomputation, nothing else.
		logger.Warnw("manifest cache write failed", "group_id", groupID, "error", err)
	}

	logger.Debugw("group manifest recomputed", "group_id", groupID, "tool_count", len(ids))
	return ids, nil
}

// MatchSelector reports whether a tool satisfies all four selector
// conditions: source pattern, name pattern, optional path pattern, and
// required tags.
func MatchSelector(sel gateway.Selector, t *gateway.Tool) bool {
	if !matchPattern(sel.SourcePattern, t.SourceName) {
		return false
	}
	if !matchPattern(sel.NamePattern, t.Definition.Name) {
		return false
	}
	if sel.PathPattern != "" && !matchPattern(sel.PathPattern, t.Definition.Path) {
		return false
	}
	for _, tag := range sel.RequiredTags {
		if !slices.Contains(t.Definition.Tags, tag) {
			return false
		}
	}
	return true
}

// matchPattern applies a shell-style wildcard pattern. Malformed patterns
// are rejected at selector-add time; a pattern that still fails here
// matches nothing.
func matchPattern(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
