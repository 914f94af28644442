// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregate"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
)

type policyRoutes struct {
	commands *service.Commands
	store    store.Projections
}

func policiesRouter(deps Deps) http.Handler {
	routes := policyRoutes{commands: deps.Commands, store: deps.Store}

	r := chi.NewRouter()
	r.Get("/", routes.list)
	r.Post("/", routes.define)
	r.Get("/{policyID}", routes.get)
	r.Put("/{policyID}", routes.update)
	r.Post("/{policyID}/activate", routes.activate)
	r.Post("/{policyID}/deactivate", routes.deactivate)
	return r
}

type definePolicyRequest struct {
	ID       string                 `json:"id,omitempty"`
	Name     string                 `json:"name"`
	Matchers []gateway.ClaimMatcher `json:"matchers"`
	GroupIDs []string               `json:"group_ids"`
	Priority int                    `json:"priority"`
}

type updatePolicyRequest struct {
	Matchers []gateway.ClaimMatcher `json:"matchers"`
	GroupIDs []string               `json:"group_ids"`
	Priority int                    `json:"priority"`
}

func (s *policyRoutes) list(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListPolicies(r.Context(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	if policies == nil {
		policies = []*gateway.AccessPolicy{}
	}
	writeJSON(w, http.StatusOK, map[string][]*gateway.AccessPolicy{"policies": policies})
}

func (s *policyRoutes) define(w http.ResponseWriter, r *http.Request) {
	var req definePolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.commands.DefinePolicy(r.Context(), aggregate.DefinePolicyCmd{
		ID:       req.ID,
		Name:     req.Name,
		Matchers: req.Matchers,
		GroupIDs: req.GroupIDs,
		Priority: req.Priority,
		Actor:    actorOf(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *policyRoutes) get(w http.ResponseWriter, r *http.Request) {
	policy, err := s.store.GetPolicy(r.Context(), chi.URLParam(r, "policyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *policyRoutes) update(w http.ResponseWriter, r *http.Request) {
	var req updatePolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.commands.UpdatePolicy(r.Context(),
		chi.URLParam(r, "policyID"), req.Matchers, req.GroupIDs, req.Priority, actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *policyRoutes) activate(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.ActivatePolicy(r.Context(), chi.URLParam(r, "policyID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *policyRoutes) deactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.DeactivatePolicy(r.Context(), chi.URLParam(r, "policyID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
