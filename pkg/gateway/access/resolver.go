// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/cache"
	"github.com/toolgate/toolgate/pkg/gateway/catalog"
	"github.com/toolgate/toolgate/pkg/gateway/store"
	"github.com/toolgate/toolgate/pkg/logger"
)

const (
	// DefaultManifestTTL bounds a cached caller manifest's lifetime.
	DefaultManifestTTL = 5 * time.Minute

	cacheKeyPrefix = "manifest:caller:"
)

// Combiner merges the group grants of all matching policies. The default
// is union-of-matches; priority orders evaluation, it never suppresses
// lower-priority matches. Kept pluggable because first-match-wins is a
// defensible alternative reading.
type Combiner func(matched [][]string) []string

// UnionCombiner returns the union of all granted group ID lists.
func UnionCombiner(matched [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, groups := range matched {
		for _, id := range groups {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

// Resolver computes caller manifests: claims -> matching policies ->
// granted groups -> union of group manifests -> tool descriptors.
type Resolver struct {
	store    store.Projections
	catalog  *catalog.Resolver
	cache    cache.Cache
	notifier cache.Notifier
	combine  Combiner
	ttl      time.Duration

	flight singleflight.Group

	// mu guards the invalidation registry: which cached fingerprints
	// depend on which groups.
	mu      sync.Mutex
	byGroup map[string]map[string]struct{}
	known   map[string]struct{}
}

// NewResolver creates an access resolver. combine nil uses UnionCombiner;
// ttl <= 0 uses DefaultManifestTTL.
func NewResolver(
	projections store.Projections,
	catalogResolver *catalog.Resolver,
	manifestCache cache.Cache,
	notifier cache.Notifier,
	combine Combiner,
	ttl time.Duration,
) *Resolver {
	if combine == nil {
		combine = UnionCombiner
	}
	if ttl <= 0 {
		ttl = DefaultManifestTTL
	}
	if notifier == nil {
		notifier = cache.NopNotifier
	}
	return &Resolver{
		store:    projections,
		catalog:  catalogResolver,
		cache:    manifestCache,
		notifier: notifier,
		combine:  combine,
		ttl:      ttl,
		byGroup:  make(map[string]map[string]struct{}),
		known:    make(map[string]struct{}),
	}
}

// Resolve returns the sorted tool-id set the caller may use.
func (r *Resolver) Resolve(ctx context.Context, claims Claims) ([]string, error) {
	fp, err := Fingerprint(claims)
	if err != nil {
		return nil, gateway.NewValidationError("claim set cannot be fingerprinted", err)
	}

	if ids, ok := r.cachedManifest(ctx, fp); ok {
		return ids, nil
	}

	result, err, _ := r.flight.Do(fp, func() (any, error) {
		if ids, ok := r.cachedManifest(ctx, fp); ok {
			return ids, nil
		}
		return r.resolveUncached(ctx, claims, fp)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// ResolveManifest resolves the caller's tool set and hydrates it into
// caller-facing descriptors: name, description, input schema. Execution
// profile internals never leave the engine.
func (r *Resolver) ResolveManifest(ctx context.Context, claims Claims) ([]gateway.ToolDescriptor, error) {
	ids, err := r.Resolve(ctx, claims)
	if err != nil {
		return nil, err
	}

	descriptors := make([]gateway.ToolDescriptor, 0, len(ids))
	for _, id := range ids {
		tool, err := r.store.GetTool(ctx, id)
		if err != nil {
			// A manifest entry can outlive its projection briefly; skip.
			logger.Warnw("manifest entry missing from projection", "tool_id", id)
			continue
		}
		descriptors = append(descriptors, gateway.ToolDescriptor{
			ToolID:      tool.ID,
			Name:        tool.Definition.Name,
			Description: tool.Definition.Description,
			InputSchema: tool.Definition.InputSchema,
		})
	}
	return descriptors, nil
}

// Authorize returns nil when the caller's claims grant access to the tool,
// or an access-denied error otherwise.
func (r *Resolver) Authorize(ctx context.Context, claims Claims, toolID string) error {
	ids, err := r.Resolve(ctx, claims)
	if err != nil {
		return err
	}
	if _, found := slices.BinarySearch(ids, toolID); !found {
		return gateway.NewAccessDeniedError(fmt.Sprintf("no policy grants access to tool %s", toolID))
	}
	return nil
}

func (r *Resolver) resolveUncached(ctx context.Context, claims Claims, fp string) ([]string, error) {
	policies, err := r.store.ListPolicies(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}

	// Policies arrive ordered by descending priority; evaluation stops at
	// the first failing matcher of each policy, and every matching policy
	// contributes.
	var matched [][]string
	for _, policy := range policies {
		ok, err := matchPolicy(policy, claims)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, policy.GroupIDs)
		}
	}

	groupIDs := r.combine(matched)

	toolSet := make(map[string]struct{})
	var contributing []string
	for _, groupID := range groupIDs {
		group, err := r.store.GetGroup(ctx, groupID)
		if err != nil || !group.Active {
			// A policy may grant a group that was deactivated or removed
			// since; it simply contributes nothing.
			continue
		}
		ids, err := r.catalog.Resolve(ctx, groupID)
		if err != nil {
			return nil, err
		}
		contributing = append(contributing, groupID)
		for _, id := range ids {
			toolSet[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(toolSet))
	for id := range toolSet {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encoding caller manifest: %w", err)
	}
	if err := r.cache.Set(ctx, cacheKeyPrefix+fp, data, r.ttl); err != nil {
		logger.Warnw("caller manifest cache write failed", "fingerprint", fp, "error", err)
	}
	r.register(fp, contributing)

	logger.Debugw("caller manifest resolved",
		"fingerprint", fp, "policies_matched", len(matched), "tool_count", len(ids))
	return ids, nil
}

func matchPolicy(policy *gateway.AccessPolicy, claims Claims) (bool, error) {
	for _, m := range policy.Matchers {
		ok, err := EvalMatcher(m, claims)
		if err != nil {
			return false, fmt.Errorf("policy %s: %w", policy.ID, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (r *Resolver) cachedManifest(ctx context.Context, fp string) ([]string, bool) {
	data, ok, err := r.cache.Get(ctx, cacheKeyPrefix+fp)
	if err != nil || !ok {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

// register records which groups a cached fingerprint depends on.
func (r *Resolver) register(fp string, groupIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[fp] = struct{}{}
	for _, id := range groupIDs {
		set, ok := r.byGroup[id]
		if !ok {
			set = make(map[string]struct{})
			r.byGroup[id] = set
		}
		set[fp] = struct{}{}
	}
}

// InvalidateGroup drops every cached caller manifest that the group
// contributed to and publishes a change notification per caller.
func (r *Resolver) InvalidateGroup(ctx context.Context, groupID string) {
	r.mu.Lock()
	fps := make([]string, 0, len(r.byGroup[groupID]))
	for fp := range r.byGroup[groupID] {
		fps = append(fps, fp)
	}
	delete(r.byGroup, groupID)
	for _, fp := range fps {
		delete(r.known, fp)
	}
	r.mu.Unlock()

	r.drop(ctx, fps)
}

// InvalidateAll drops every cached caller manifest. Policy mutations can
// grant groups to callers whose cached manifests don't reference them yet,
// so any policy change invalidates everything.
func (r *Resolver) InvalidateAll(ctx context.Context) {
	r.mu.Lock()
	fps := make([]string, 0, len(r.known))
	for fp := range r.known {
		fps = append(fps, fp)
	}
	r.known = make(map[string]struct{})
	r.byGroup = make(map[string]map[string]struct{})
	r.mu.Unlock()

	r.drop(ctx, fps)
}

func (r *Resolver) drop(ctx context.Context, fps []string) {
	for _, fp := range fps {
		if err := r.cache.Delete(ctx, cacheKeyPrefix+fp); err != nil {
			logger.Warnw("caller manifest invalidation failed", "fingerprint", fp, "error", err)
			continue
		}
		if err := r.notifier.Publish(ctx, cache.Change{Kind: "caller", ID: fp}); err != nil {
			logger.Warnw("caller change notification failed", "fingerprint", fp, "error", err)
		}
	}
}
