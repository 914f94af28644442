// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/adapter"
	"github.com/toolgate/toolgate/pkg/gateway/aggregate"
	"github.com/toolgate/toolgate/pkg/gateway/executor"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
)

type sourceRoutes struct {
	commands *service.Commands
	store    store.Projections
	executor *executor.Executor
	syncer   *adapter.Syncer
}

func sourcesRouter(deps Deps) http.Handler {
	routes := sourceRoutes{
		commands: deps.Commands,
		store:    deps.Store,
		executor: deps.Executor,
		syncer:   deps.Syncer,
	}

	r := chi.NewRouter()
	r.Get("/", routes.list)
	r.Post("/", routes.register)
	r.Get("/{sourceID}", routes.get)
	r.Post("/{sourceID}/enable", routes.enable)
	r.Post("/{sourceID}/disable", routes.disable)
	r.Post("/{sourceID}/sync", routes.sync)
	r.Post("/{sourceID}/health/reset", routes.resetHealth)
	return r
}

type registerSourceRequest struct {
	ID        string             `json:"id,omitempty"`
	Name      string             `json:"name"`
	BaseURL   string             `json:"base_url"`
	Kind      string             `json:"kind"`
	TrustMode gateway.TrustMode  `json:"trust_mode"`
	Auth      gateway.AuthConfig `json:"auth,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

// sourceSummary is the admin view of a source. Credential configuration
// is deliberately omitted.
type sourceSummary struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	BaseURL             string               `json:"base_url"`
	Kind                string               `json:"kind"`
	TrustMode           gateway.TrustMode    `json:"trust_mode"`
	Enabled             bool                 `json:"enabled"`
	Health              gateway.SourceHealth `json:"health"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	LastFingerprint     string               `json:"last_fingerprint,omitempty"`
}

func (s *sourceRoutes) summarize(src *gateway.Source) sourceSummary {
	health, failures := src.Health, src.ConsecutiveFailures
	if s.executor != nil {
		// The breaker has the live view; projected health trails it.
		if live, n := s.executor.SourceHealth(src.ID); live != gateway.SourceUnknown {
			health, failures = live, n
		}
	}
	return sourceSummary{
		ID:                  src.ID,
		Name:                src.Name,
		BaseURL:             src.BaseURL,
		Kind:                src.Kind,
		TrustMode:           src.TrustMode,
		Enabled:             src.Enabled,
		Health:              health,
		ConsecutiveFailures: failures,
		LastFingerprint:     src.LastFingerprint,
	}
}

func (s *sourceRoutes) list(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sourceSummary, 0, len(sources))
	for _, src := range sources {
		out = append(out, s.summarize(src))
	}
	writeJSON(w, http.StatusOK, map[string][]sourceSummary{"sources": out})
}

func (s *sourceRoutes) register(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := s.commands.RegisterSource(r.Context(), aggregate.RegisterSourceCmd{
		ID:        req.ID,
		Name:      req.Name,
		BaseURL:   req.BaseURL,
		Kind:      req.Kind,
		TrustMode: req.TrustMode,
		Auth:      req.Auth,
		Actor:     actorOf(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *sourceRoutes) get(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.summarize(src))
}

func (s *sourceRoutes) enable(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.EnableSource(r.Context(), chi.URLParam(r, "sourceID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *sourceRoutes) disable(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.DisableSource(r.Context(), chi.URLParam(r, "sourceID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sync runs one inventory discovery pass against the source, inline.
func (s *sourceRoutes) sync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, gateway.Errorf(gateway.KindValidation, "no discovery adapters configured"))
		return
	}
	if err := s.syncer.Sync(r.Context(), chi.URLParam(r, "sourceID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// resetHealth clears both the live breaker state and the recorded health.
func (s *sourceRoutes) resetHealth(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")
	if err := s.commands.ResetSourceHealth(r.Context(), sourceID, actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	if s.executor != nil {
		s.executor.ResetSourceHealth(sourceID)
	}
	w.WriteHeader(http.StatusNoContent)
}
