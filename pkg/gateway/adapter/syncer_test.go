// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/access"
	"github.com/toolgate/toolgate/pkg/gateway/aggregate"
	"github.com/toolgate/toolgate/pkg/gateway/cache"
	"github.com/toolgate/toolgate/pkg/gateway/catalog"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
	"github.com/toolgate/toolgate/pkg/gateway/projector"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
)

// fakeAdapter returns a scripted inventory or error.
type fakeAdapter struct {
	inv *Inventory
	err error
}

func (f *fakeAdapter) Discover(context.Context, *gateway.Source) (*Inventory, error) {
	return f.inv, f.err
}

type fixture struct {
	log       *eventlog.MemoryLog
	store     *store.Memory
	commands  *service.Commands
	projector *projector.Projector
	adapter   *fakeAdapter
	syncer    *Syncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	s := store.NewMemory()
	log := eventlog.NewMemoryLog()
	cat := catalog.NewResolver(s, c, 0)
	acc := access.NewResolver(s, cat, c, nil, nil, 0)
	commands := service.NewCommands(log)
	f := &fixture{
		log:       log,
		store:     s,
		commands:  commands,
		projector: projector.New(log, s, cat, acc, nil),
		adapter:   &fakeAdapter{},
		syncer:    NewSyncer(commands, s),
	}
	f.syncer.Register("test", f.adapter)

	_, err := commands.RegisterSource(context.Background(), aggregate.RegisterSourceCmd{
		ID: "src-1", Name: "billing-svc", BaseURL: "http://billing.internal",
		Kind: "test", TrustMode: gateway.TrustNone, Actor: "admin",
	})
	require.NoError(t, err)
	f.project(t)
	return f
}

func (f *fixture) project(t *testing.T) {
	t.Helper()
	_, err := f.projector.CatchUp(context.Background())
	require.NoError(t, err)
}

func discovered(operationID string) DiscoveredTool {
	return DiscoveredTool{
		OperationID: operationID,
		Definition: gateway.Definition{
			Name: operationID,
			Profile: gateway.ExecutionProfile{
				Mode:        gateway.ExecSync,
				Method:      http.MethodPost,
				URLTemplate: "/" + operationID,
				Timeout:     5 * time.Second,
			},
		},
	}
}

func TestSyncObservesAndRecordsSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.inv = &Inventory{
		Tools:       []DiscoveredTool{discovered("createInvoice"), discovered("voidInvoice")},
		Fingerprint: "fp-1",
	}

	require.NoError(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	f.project(t)

	tools, err := f.store.ListTools(ctx, store.ToolFilter{SourceID: "src-1"})
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	source, err := f.store.GetSource(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "fp-1", source.LastFingerprint)
	assert.Equal(t, gateway.SourceHealthy, source.Health)
}

func TestSyncSkipsUnchangedInventory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.inv = &Inventory{
		Tools:       []DiscoveredTool{discovered("createInvoice")},
		Fingerprint: "fp-1",
	}
	require.NoError(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	f.project(t)

	before, err := f.log.ReadAll(ctx, 0)
	require.NoError(t, err)

	// Same fingerprint: a no-op sync emits nothing.
	require.NoError(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	after, err := f.log.ReadAll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestSyncDeprecatesVanishedTools(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.inv = &Inventory{
		Tools:       []DiscoveredTool{discovered("createInvoice"), discovered("voidInvoice")},
		Fingerprint: "fp-1",
	}
	require.NoError(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	f.project(t)

	f.adapter.inv = &Inventory{
		Tools:       []DiscoveredTool{discovered("createInvoice")},
		Fingerprint: "fp-2",
	}
	require.NoError(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	f.project(t)

	vanished, err := f.store.GetTool(ctx, aggregate.ToolID("src-1", "voidInvoice"))
	require.NoError(t, err)
	assert.Equal(t, gateway.ToolDeprecated, vanished.Lifecycle)
	assert.False(t, vanished.Resolvable())

	kept, err := f.store.GetTool(ctx, aggregate.ToolID("src-1", "createInvoice"))
	require.NoError(t, err)
	assert.True(t, kept.Resolvable())
}

func TestSyncReappearedToolReactivates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.inv = &Inventory{Tools: []DiscoveredTool{discovered("createInvoice")}, Fingerprint: "fp-1"}
	require.NoError(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	f.project(t)

	f.adapter.inv = &Inventory{Tools: nil, Fingerprint: "fp-2"}
	require.NoError(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	f.project(t)

	f.adapter.inv = &Inventory{Tools: []DiscoveredTool{discovered("createInvoice")}, Fingerprint: "fp-3"}
	require.NoError(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	f.project(t)

	tool, err := f.store.GetTool(ctx, aggregate.ToolID("src-1", "createInvoice"))
	require.NoError(t, err)
	assert.Equal(t, gateway.ToolActive, tool.Lifecycle)
}

func TestSyncRecordsDiscoveryFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.err = errors.New("connection refused")

	require.Error(t, f.syncer.Sync(ctx, "src-1", "syncer"))
	f.project(t)

	events, err := f.log.Read(ctx, aggregate.SourceStream("src-1"))
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, aggregate.TypeSourceSyncFailed, last.Type)
}

func TestSyncUnknownKindRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.syncer = NewSyncer(f.commands, f.store)

	err := f.syncer.Sync(context.Background(), "src-1", "syncer")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindValidation))
}

func TestManifestAdapterDiscover(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/.well-known/toolgate.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"tools": [{
				"operation_id": "createInvoice",
				"definition": {
					"name": "createInvoice",
					"description": "Create an invoice",
					"profile": {"mode": "sync", "method": "POST", "url_template": "/invoices"}
				}
			}]
		}`))
	}))
	defer srv.Close()

	a := NewManifestAdapter(nil)
	inv, err := a.Discover(context.Background(), &gateway.Source{Name: "billing-svc", BaseURL: srv.URL})
	require.NoError(t, err)
	require.Len(t, inv.Tools, 1)
	assert.Equal(t, "createInvoice", inv.Tools[0].OperationID)
	assert.NotEmpty(t, inv.Fingerprint, "a manifest without a fingerprint gets a computed one")

	// The computed fingerprint is stable across fetches.
	again, err := a.Discover(context.Background(), &gateway.Source{Name: "billing-svc", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, inv.Fingerprint, again.Fingerprint)
}

func TestManifestAdapterUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewManifestAdapter(nil)
	_, err := a.Discover(context.Background(), &gateway.Source{Name: "billing-svc", BaseURL: srv.URL})
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindUpstreamRejected))
}
