// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/credential"
	"github.com/toolgate/toolgate/pkg/gateway/store"
)

const invoiceSchema = `{
	"type": "object",
	"properties": {
		"amount": {"type": "number"},
		"customer": {"type": "string"}
	},
	"required": ["amount", "customer"]
}`

func newTestExecutor(t *testing.T, cfg Config, baseURL string) (*Executor, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	require.NoError(t, s.UpsertSource(context.Background(), &gateway.Source{
		ID: "src-1", Name: "billing-svc", BaseURL: baseURL,
		TrustMode: gateway.TrustNone, Enabled: true, Version: 1,
	}))
	return New(s, credential.NewExchanger(credential.Config{}), cfg, nil), s
}

func syncTool(urlTemplate string) *gateway.Tool {
	return &gateway.Tool{
		ID: "src-1:createInvoice", SourceID: "src-1", SourceName: "billing-svc",
		Definition: gateway.Definition{
			Name:        "createInvoice",
			InputSchema: json.RawMessage(invoiceSchema),
			Profile: gateway.ExecutionProfile{
				Mode:         gateway.ExecSync,
				Method:       http.MethodPost,
				URLTemplate:  urlTemplate,
				BodyTemplate: `{"amount": {amount}, "customer": {customer}}`,
				Timeout:      5 * time.Second,
			},
		},
		Enabled: true, Lifecycle: gateway.ToolActive, Version: 1,
	}
}

func validArgs() map[string]any {
	return map[string]any{"amount": 42.5, "customer": "acme"}
}

func TestValidationRejectsWithoutNetworkCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	x, _ := newTestExecutor(t, Config{}, srv.URL)
	_, err := x.Execute(context.Background(), syncTool("/invoices"), map[string]any{"amount": 42.5}, "")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindValidation))
	assert.Equal(t, int64(0), calls.Load(), "schema violations must be rejected before any upstream contact")
}

func TestSyncDispatch(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"invoice_id":"inv-1"}`))
	}))
	defer srv.Close()

	x, _ := newTestExecutor(t, Config{}, srv.URL)
	result, err := x.Execute(context.Background(), syncTool("/invoices"), validArgs(), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.JSONEq(t, `{"invoice_id":"inv-1"}`, string(result.Body))
	assert.Equal(t, 42.5, gotBody["amount"])
	assert.Equal(t, "acme", gotBody["customer"])
}

func TestSyncStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		kind   gateway.ErrorKind
	}{
		{http.StatusUnauthorized, gateway.KindAuth},
		{http.StatusForbidden, gateway.KindAuth},
		{http.StatusNotFound, gateway.KindUpstreamRejected},
		{http.StatusUnprocessableEntity, gateway.KindUpstreamRejected},
		{http.StatusInternalServerError, gateway.KindUpstreamTransient},
		{http.StatusBadGateway, gateway.KindUpstreamTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			x, _ := newTestExecutor(t, Config{}, srv.URL)
			_, err := x.Execute(context.Background(), syncTool("/invoices"), validArgs(), "")
			require.Error(t, err)
			assert.True(t, gateway.IsKind(err, tt.kind), "got kind %s", gateway.KindOf(err))
		})
	}
}

func TestURLTemplateRendering(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tool := syncTool("/customers/{customer}/invoices")
	tool.Definition.Profile.BodyTemplate = ""
	x, _ := newTestExecutor(t, Config{}, srv.URL)
	_, err := x.Execute(context.Background(), tool, map[string]any{"amount": 1.0, "customer": "acme corp"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/customers/acme%20corp/invoices", gotPath)
}

func TestUnknownPlaceholderRejected(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tool := syncTool("/invoices/{invoice_id}")
	tool.Definition.Profile.BodyTemplate = ""
	x, _ := newTestExecutor(t, Config{}, srv.URL)
	_, err := x.Execute(context.Background(), tool, validArgs(), "")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindValidation))
	assert.Equal(t, int64(0), calls.Load())
}

func TestOptionalPlaceholderRendersEmpty(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tool := syncTool("/invoices?cursor={cursor}")
	tool.Definition.Profile.BodyTemplate = ""
	tool.Definition.Profile.OptionalParams = []string{"cursor"}
	x, _ := newTestExecutor(t, Config{}, srv.URL)
	_, err := x.Execute(context.Background(), tool, validArgs(), "")
	require.NoError(t, err)
	assert.Equal(t, "cursor=", gotQuery)
}

func TestDisabledSourceFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	x, s := newTestExecutor(t, Config{}, srv.URL)
	require.NoError(t, s.UpsertSource(context.Background(), &gateway.Source{
		ID: "src-1", Name: "billing-svc", BaseURL: srv.URL,
		TrustMode: gateway.TrustNone, Enabled: false, Version: 2,
	}))

	_, err := x.Execute(context.Background(), syncTool("/invoices"), validArgs(), "")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindSourceUnavailable))
	assert.Equal(t, int64(0), calls.Load())
}

func pollTool(maxAttempts int) *gateway.Tool {
	return &gateway.Tool{
		ID: "src-1:runReport", SourceID: "src-1", SourceName: "billing-svc",
		Definition: gateway.Definition{
			Name: "runReport",
			Profile: gateway.ExecutionProfile{
				Mode:        gateway.ExecAsyncPoll,
				Method:      http.MethodPost,
				URLTemplate: "/reports",
				Timeout:     5 * time.Second,
				Poll: &gateway.PollDescriptor{
					StatusURLTemplate: "/reports/{response.job_id}",
					StatusPath:        "state",
					SuccessValues:     []string{"done"},
					FailureValues:     []string{"failed"},
					ResultPath:        "output",
					MaxAttempts:       maxAttempts,
					BaseInterval:      time.Millisecond,
					Multiplier:        1.5,
				},
			},
		},
		Enabled: true, Lifecycle: gateway.ToolActive, Version: 1,
	}
}

func TestAsyncPollCompletes(t *testing.T) {
	t.Parallel()

	var statusChecks atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /reports", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"job-7"}`))
	})
	mux.HandleFunc("GET /reports/job-7", func(w http.ResponseWriter, _ *http.Request) {
		if statusChecks.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"state":"running"}`))
			return
		}
		_, _ = w.Write([]byte(`{"state":"done","output":{"rows":12}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	x, _ := newTestExecutor(t, Config{}, srv.URL)
	result, err := x.Execute(context.Background(), pollTool(10), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.JSONEq(t, `{"rows":12}`, string(result.Body))
}

func TestAsyncPollFailureValue(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /reports", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"job_id":"job-7"}`))
	})
	mux.HandleFunc("GET /reports/job-7", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"state":"failed"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	x, _ := newTestExecutor(t, Config{}, srv.URL)
	_, err := x.Execute(context.Background(), pollTool(10), nil, "")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindUpstreamRejected))
}

func TestAsyncPollTerminatesAtMaxAttempts(t *testing.T) {
	t.Parallel()

	var statusChecks atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /reports", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"job_id":"job-7"}`))
	})
	mux.HandleFunc("GET /reports/job-7", func(w http.ResponseWriter, _ *http.Request) {
		statusChecks.Add(1)
		_, _ = w.Write([]byte(`{"state":"running"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	x, _ := newTestExecutor(t, Config{}, srv.URL)
	_, err := x.Execute(context.Background(), pollTool(4), nil, "")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindUpstreamTransient))
	assert.Equal(t, int64(4), statusChecks.Load(), "polling must stop at the attempt budget")
}

func TestBreakerTransitions(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transitions := make([]gateway.SourceHealth, 0, 4)
	s := store.NewMemory()
	require.NoError(t, s.UpsertSource(context.Background(), &gateway.Source{
		ID: "src-1", Name: "billing-svc", BaseURL: srv.URL,
		TrustMode: gateway.TrustNone, Enabled: true, Version: 1,
	}))
	x := New(s, credential.NewExchanger(credential.Config{}), Config{
		DegradedThreshold:  2,
		UnhealthyThreshold: 3,
		CoolDown:           time.Hour,
	}, func(_ context.Context, _ string, health gateway.SourceHealth, _ int) {
		transitions = append(transitions, health)
	})

	tool := syncTool("/invoices")
	ctx := context.Background()

	// First failure: below the degraded threshold, health unchanged.
	_, err := x.Execute(ctx, tool, validArgs(), "")
	require.Error(t, err)
	health, failures := x.SourceHealth("src-1")
	assert.Equal(t, gateway.SourceUnknown, health)
	assert.Equal(t, 1, failures)

	// Second failure: degraded. Calls still go through.
	_, err = x.Execute(ctx, tool, validArgs(), "")
	require.Error(t, err)
	health, _ = x.SourceHealth("src-1")
	assert.Equal(t, gateway.SourceDegraded, health)

	// Third failure: unhealthy.
	_, err = x.Execute(ctx, tool, validArgs(), "")
	require.Error(t, err)
	health, _ = x.SourceHealth("src-1")
	assert.Equal(t, gateway.SourceUnhealthy, health)

	// While unhealthy and inside the cool-down, executions fail fast
	// without touching the upstream.
	before := calls.Load()
	_, err = x.Execute(ctx, tool, validArgs(), "")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindSourceUnavailable))
	assert.Equal(t, before, calls.Load())

	// An explicit reset reopens the source; a success zeroes the counter
	// and restores healthy.
	x.ResetSourceHealth("src-1")
	failing.Store(false)
	_, err = x.Execute(ctx, tool, validArgs(), "")
	require.NoError(t, err)
	health, failures = x.SourceHealth("src-1")
	assert.Equal(t, gateway.SourceHealthy, health)
	assert.Equal(t, 0, failures)

	assert.Equal(t, []gateway.SourceHealth{
		gateway.SourceDegraded, gateway.SourceUnhealthy, gateway.SourceHealthy,
	}, transitions)
}

func TestBreakerCoolDownAllowsProbe(t *testing.T) {
	t.Parallel()

	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	x, _ := newTestExecutor(t, Config{
		DegradedThreshold:  1,
		UnhealthyThreshold: 2,
		CoolDown:           10 * time.Millisecond,
	}, srv.URL)

	tool := syncTool("/invoices")
	ctx := context.Background()
	for range 2 {
		_, err := x.Execute(ctx, tool, validArgs(), "")
		require.Error(t, err)
	}
	health, _ := x.SourceHealth("src-1")
	require.Equal(t, gateway.SourceUnhealthy, health)

	failing.Store(false)
	time.Sleep(20 * time.Millisecond)

	// Cool-down elapsed: the probe goes through and recovers the source.
	_, err := x.Execute(ctx, tool, validArgs(), "")
	require.NoError(t, err)
	health, _ = x.SourceHealth("src-1")
	assert.Equal(t, gateway.SourceHealthy, health)
}

func TestCancelledCallCountsNeitherWay(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	x, _ := newTestExecutor(t, Config{}, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := x.Execute(ctx, syncTool("/invoices"), validArgs(), "")
	require.Error(t, err)
	_, failures := x.SourceHealth("src-1")
	assert.Equal(t, 0, failures, "an aborted call must not move the breaker")
}

func TestUpstreamRejectionDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	x, _ := newTestExecutor(t, Config{DegradedThreshold: 1, UnhealthyThreshold: 2}, srv.URL)
	tool := syncTool("/invoices")
	for range 3 {
		_, err := x.Execute(context.Background(), tool, validArgs(), "")
		require.Error(t, err)
		assert.True(t, gateway.IsKind(err, gateway.KindUpstreamRejected))
	}
	health, failures := x.SourceHealth("src-1")
	assert.Equal(t, gateway.SourceHealthy, health)
	assert.Equal(t, 0, failures)
}
