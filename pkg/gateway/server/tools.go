// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/access"
	"github.com/toolgate/toolgate/pkg/gateway/executor"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
	"github.com/toolgate/toolgate/pkg/gateway/telemetry"
)

type toolRoutes struct {
	commands *service.Commands
	store    store.Projections
	access   *access.Resolver
	executor *executor.Executor
	metrics  *telemetry.Metrics
}

func toolsRouter(deps Deps) http.Handler {
	routes := toolRoutes{
		commands: deps.Commands,
		store:    deps.Store,
		access:   deps.Access,
		executor: deps.Executor,
		metrics:  deps.Metrics,
	}

	r := chi.NewRouter()
	r.Get("/", routes.list)
	r.Get("/{toolID}", routes.get)
	r.Post("/{toolID}/execute", routes.execute)
	r.Post("/{toolID}/enable", routes.enable)
	r.Post("/{toolID}/disable", routes.disable)
	r.Post("/{toolID}/deprecate", routes.deprecate)
	return r
}

type toolSummary struct {
	ID          string                `json:"id"`
	SourceID    string                `json:"source_id"`
	SourceName  string                `json:"source_name"`
	OperationID string                `json:"operation_id"`
	Name        string                `json:"name"`
	Enabled     bool                  `json:"enabled"`
	Lifecycle   gateway.ToolLifecycle `json:"lifecycle"`
	Definition  gateway.Definition    `json:"definition"`
}

func summarizeTool(t *gateway.Tool) toolSummary {
	return toolSummary{
		ID:          t.ID,
		SourceID:    t.SourceID,
		SourceName:  t.SourceName,
		OperationID: t.OperationID,
		Name:        t.Definition.Name,
		Enabled:     t.Enabled,
		Lifecycle:   t.Lifecycle,
		Definition:  t.Definition,
	}
}

func (s *toolRoutes) list(w http.ResponseWriter, r *http.Request) {
	tools, err := s.store.ListTools(r.Context(), store.ToolFilter{
		SourceID: r.URL.Query().Get("source_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]toolSummary, 0, len(tools))
	for _, t := range tools {
		out = append(out, summarizeTool(t))
	}
	writeJSON(w, http.StatusOK, map[string][]toolSummary{"tools": out})
}

func (s *toolRoutes) get(w http.ResponseWriter, r *http.Request) {
	tool, err := s.store.GetTool(r.Context(), chi.URLParam(r, "toolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarizeTool(tool))
}

type executeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// execute runs one tool call on behalf of the caller. The bearer token
// authorizes the call and, for delegated-identity sources, is exchanged
// for the upstream credential.
func (s *toolRoutes) execute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	toolID := chi.URLParam(r, "toolID")

	token, err := bearerToken(r)
	if err != nil {
		writeError(w, err)
		return
	}
	claims, err := access.ClaimsFromToken(token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.access.Authorize(ctx, claims, toolID); err != nil {
		writeError(w, err)
		return
	}

	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tool, err := s.store.GetTool(ctx, toolID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.executor.Execute(ctx, tool, req.Arguments, token)
	if s.metrics != nil {
		var elapsed time.Duration
		if result != nil {
			elapsed = result.Duration
		}
		s.metrics.ObserveExecution(tool.Definition.Name, elapsed, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *toolRoutes) enable(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.EnableTool(r.Context(), chi.URLParam(r, "toolID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *toolRoutes) disable(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.DisableTool(r.Context(), chi.URLParam(r, "toolID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *toolRoutes) deprecate(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.DeprecateTool(r.Context(), chi.URLParam(r, "toolID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
