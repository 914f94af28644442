// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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
	"github.com/toolgate/toolgate/pkg/gateway/credential"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
	"github.com/toolgate/toolgate/pkg/gateway/executor"
	"github.com/toolgate/toolgate/pkg/gateway/projector"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
)

// Unsigned JWTs carrying {"sub":"u1","roles":["finance_admin"]} and
// {"sub":"u2","roles":["analyst"]}. Claims are interpreted, not verified,
// at this layer.
const (
	adminToken   = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1MSIsInJvbGVzIjpbImZpbmFuY2VfYWRtaW4iXX0."
	analystToken = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1MiIsInJvbGVzIjpbImFuYWx5c3QiXX0."
)

const invoiceSchema = `{
	"type": "object",
	"properties": {"amount": {"type": "number"}},
	"required": ["amount"]
}`

type fixture struct {
	srv       *httptest.Server
	commands  *service.Commands
	projector *projector.Projector
}

func newFixture(t *testing.T, upstreamURL string) *fixture {
	t.Helper()

	log := eventlog.NewMemoryLog()
	s := store.NewMemory()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	cat := catalog.NewResolver(s, c, 0)
	acc := access.NewResolver(s, cat, c, nil, nil, 0)
	commands := service.NewCommands(log)
	exec := executor.New(s, credential.NewExchanger(credential.Config{}), executor.Config{}, nil)

	f := &fixture{
		commands:  commands,
		projector: projector.New(log, s, cat, acc, nil),
	}
	f.srv = httptest.NewServer(Router(Deps{
		Commands: commands,
		Store:    s,
		Log:      log,
		Access:   acc,
		Catalog:  cat,
		Executor: exec,
	}))
	t.Cleanup(f.srv.Close)

	if upstreamURL != "" {
		f.seed(t, upstreamURL)
	}
	return f
}

// seed registers one source with one tool, a group covering it, and a
// policy granting the group to finance_admin callers.
func (f *fixture) seed(t *testing.T, upstreamURL string) {
	t.Helper()
	ctx := context.Background()

	_, err := f.commands.RegisterSource(ctx, aggregate.RegisterSourceCmd{
		ID: "src-1", Name: "billing-svc", BaseURL: upstreamURL,
		Kind: "manifest", TrustMode: gateway.TrustNone, Actor: "seed",
	})
	require.NoError(t, err)

	_, err = f.commands.ObserveTool(ctx, aggregate.ObserveToolCmd{
		SourceID: "src-1", SourceName: "billing-svc", OperationID: "createInvoice",
		Definition: gateway.Definition{
			Name:        "createInvoice",
			Description: "Create an invoice",
			InputSchema: json.RawMessage(invoiceSchema),
			Profile: gateway.ExecutionProfile{
				Mode:        gateway.ExecSync,
				Method:      http.MethodPost,
				URLTemplate: "/invoices",
				Timeout:     5 * time.Second,
			},
		},
		Actor: "seed",
	})
	require.NoError(t, err)

	_, err = f.commands.CreateGroup(ctx, "billing", "Billing", "seed")
	require.NoError(t, err)
	_, err = f.commands.AddSelector(ctx, "billing", gateway.Selector{
		SourcePattern: "billing-*", NamePattern: "*",
	}, "seed")
	require.NoError(t, err)

	_, err = f.commands.DefinePolicy(ctx, aggregate.DefinePolicyCmd{
		ID: "finance", Name: "Finance",
		Matchers: []gateway.ClaimMatcher{
			{Path: "roles", Operator: gateway.OpContains, Value: "finance_admin"},
		},
		GroupIDs: []string{"billing"},
		Priority: 10,
		Actor:    "seed",
	})
	require.NoError(t, err)

	f.project(t)
}

func (f *fixture) project(t *testing.T) {
	t.Helper()
	_, err := f.projector.CatchUp(context.Background())
	require.NoError(t, err)
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, payload
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	status, _ := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestManifestResolution(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "http://billing.internal")

	status, body := f.do(t, http.MethodPost, "/v1/manifest", adminToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var resp struct {
		Tools []gateway.ToolDescriptor `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, "src-1:createInvoice", resp.Tools[0].ToolID)
	assert.Equal(t, "createInvoice", resp.Tools[0].Name)

	// A caller no policy matches gets an empty manifest, not an error.
	status, body = f.do(t, http.MethodPost, "/v1/manifest", analystToken, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Empty(t, resp.Tools)
}

func TestManifestRequiresBearerToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "http://billing.internal")

	status, _ := f.do(t, http.MethodPost, "/v1/manifest", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestExecuteFlow(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/invoices", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"invoice_id":"inv-1"}`))
	}))
	defer upstream.Close()

	f := newFixture(t, upstream.URL)

	status, body := f.do(t, http.MethodPost, "/v1/tools/src-1:createInvoice/execute", adminToken,
		map[string]any{"arguments": map[string]any{"amount": 42.5}})
	require.Equal(t, http.StatusOK, status, string(body))

	var result gateway.ExecutionResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.JSONEq(t, `{"invoice_id":"inv-1"}`, string(result.Body))
}

func TestExecuteDeniedForUnmatchedCaller(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "http://billing.internal")

	status, _ := f.do(t, http.MethodPost, "/v1/tools/src-1:createInvoice/execute", analystToken,
		map[string]any{"arguments": map[string]any{"amount": 42.5}})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestExecuteValidationMapsToBadRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "http://billing.internal")

	status, body := f.do(t, http.MethodPost, "/v1/tools/src-1:createInvoice/execute", adminToken,
		map[string]any{"arguments": map[string]any{}})
	require.Equal(t, http.StatusBadRequest, status)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, gateway.KindValidation, resp.Kind)
}

func TestAdminSourceLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	status, body := f.do(t, http.MethodPost, "/v1/sources", adminToken, map[string]any{
		"name": "crm-svc", "base_url": "http://crm.internal",
		"kind": "manifest", "trust_mode": "none",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var created idResponse
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ID)
	f.project(t)

	status, body = f.do(t, http.MethodGet, "/v1/sources/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	var src sourceSummary
	require.NoError(t, json.Unmarshal(body, &src))
	assert.Equal(t, "crm-svc", src.Name)
	assert.True(t, src.Enabled)

	status, _ = f.do(t, http.MethodPost, "/v1/sources/"+created.ID+"/disable", adminToken, nil)
	require.Equal(t, http.StatusNoContent, status)
	f.project(t)

	status, body = f.do(t, http.MethodGet, "/v1/sources/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &src))
	assert.False(t, src.Enabled)
}

func TestAdminGroupAndPolicyRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "http://billing.internal")

	status, body := f.do(t, http.MethodGet, "/v1/groups/billing/tools", "", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var resolved struct {
		ToolIDs []string `json:"tool_ids"`
	}
	require.NoError(t, json.Unmarshal(body, &resolved))
	assert.Equal(t, []string{"src-1:createInvoice"}, resolved.ToolIDs)

	status, _ = f.do(t, http.MethodPut, "/v1/groups/billing/exclusions/src-1:createInvoice", adminToken, nil)
	require.Equal(t, http.StatusNoContent, status)
	f.project(t)

	status, body = f.do(t, http.MethodGet, "/v1/groups/billing/tools", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &resolved))
	assert.Empty(t, resolved.ToolIDs, "an excluded tool never resolves")
}

func TestUnknownToolMapsToNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	status, _ := f.do(t, http.MethodGet, "/v1/tools/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatusReportsStaleness(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "http://billing.internal")

	status, body := f.do(t, http.MethodGet, "/v1/status", "", nil)
	require.Equal(t, http.StatusOK, status)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Zero(t, resp.PendingEvents)
	assert.NotZero(t, resp.Checkpoint)
	require.Len(t, resp.Sources, 1)

	// A command the projector has not applied yet shows up as staleness.
	require.NoError(t, f.commands.DisableSource(context.Background(), "src-1", "admin"))
	status, body = f.do(t, http.MethodGet, "/v1/status", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 1, resp.PendingEvents)
}
