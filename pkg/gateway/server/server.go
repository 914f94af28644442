// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the gateway over HTTP: a caller surface for
// manifest resolution and tool execution, and an admin surface for
// source, tool, group and policy commands.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolgate/toolgate/pkg/gateway/access"
	"github.com/toolgate/toolgate/pkg/gateway/adapter"
	"github.com/toolgate/toolgate/pkg/gateway/catalog"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
	"github.com/toolgate/toolgate/pkg/gateway/executor"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
	"github.com/toolgate/toolgate/pkg/gateway/telemetry"
	"github.com/toolgate/toolgate/pkg/logger"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Deps are the wired gateway components the HTTP surface fronts.
type Deps struct {
	Commands *service.Commands
	Store    store.Projections
	Log      eventlog.Log
	Access   *access.Resolver
	Catalog  *catalog.Resolver
	Executor *executor.Executor
	Syncer   *adapter.Syncer

	// Metrics may be nil; execution and resolution counters are then skipped.
	Metrics *telemetry.Metrics

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Router assembles the full route tree. Exposed separately from Serve so
// tests can drive it through httptest.
func Router(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
	)

	routers := map[string]http.Handler{
		"/health":      healthRouter(),
		"/v1/manifest": manifestRouter(deps),
		"/v1/status":   statusRouter(deps),
		"/v1/sources":  sourcesRouter(deps),
		"/v1/tools":    toolsRouter(deps),
		"/v1/groups":   groupsRouter(deps),
		"/v1/policies": policiesRouter(deps),
	}
	if deps.Gatherer != nil {
		routers["/metrics"] = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
	}
	for prefix, router := range routers {
		r.Mount(prefix, router)
	}
	return r
}

func healthRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// Serve runs the HTTP server on address until ctx is cancelled, then
// shuts down gracefully. The caller sets up signal handling.
func Serve(ctx context.Context, address string, deps Deps) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           Router(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("starting HTTP server", "address", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}
