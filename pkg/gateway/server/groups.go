// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/catalog"
	"github.com/toolgate/toolgate/pkg/gateway/service"
	"github.com/toolgate/toolgate/pkg/gateway/store"
)

type groupRoutes struct {
	commands *service.Commands
	store    store.Projections
	catalog  *catalog.Resolver
}

func groupsRouter(deps Deps) http.Handler {
	routes := groupRoutes{commands: deps.Commands, store: deps.Store, catalog: deps.Catalog}

	r := chi.NewRouter()
	r.Get("/", routes.list)
	r.Post("/", routes.create)
	r.Get("/{groupID}", routes.get)
	r.Get("/{groupID}/tools", routes.resolve)
	r.Post("/{groupID}/activate", routes.activate)
	r.Post("/{groupID}/deactivate", routes.deactivate)
	r.Post("/{groupID}/selectors", routes.addSelector)
	r.Delete("/{groupID}/selectors/{selectorID}", routes.removeSelector)
	r.Put("/{groupID}/members/{toolID}", routes.addMember)
	r.Delete("/{groupID}/members/{toolID}", routes.removeMember)
	r.Put("/{groupID}/exclusions/{toolID}", routes.addExclusion)
	r.Delete("/{groupID}/exclusions/{toolID}", routes.removeExclusion)
	return r
}

type createGroupRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (s *groupRoutes) list(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []*gateway.ToolGroup{}
	}
	writeJSON(w, http.StatusOK, map[string][]*gateway.ToolGroup{"groups": groups})
}

func (s *groupRoutes) create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.commands.CreateGroup(r.Context(), req.ID, req.Name, actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *groupRoutes) get(w http.ResponseWriter, r *http.Request) {
	group, err := s.store.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// resolve returns the group's current effective tool set, for admin
// inspection of selector behaviour.
func (s *groupRoutes) resolve(w http.ResponseWriter, r *http.Request) {
	toolIDs, err := s.catalog.Resolve(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if toolIDs == nil {
		toolIDs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tool_ids": toolIDs})
}

func (s *groupRoutes) activate(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.ActivateGroup(r.Context(), chi.URLParam(r, "groupID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *groupRoutes) deactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.DeactivateGroup(r.Context(), chi.URLParam(r, "groupID"), actorOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *groupRoutes) addSelector(w http.ResponseWriter, r *http.Request) {
	var sel gateway.Selector
	if err := decodeJSON(r, &sel); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.commands.AddSelector(r.Context(), chi.URLParam(r, "groupID"), sel, actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *groupRoutes) removeSelector(w http.ResponseWriter, r *http.Request) {
	err := s.commands.RemoveSelector(r.Context(),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "selectorID"), actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *groupRoutes) addMember(w http.ResponseWriter, r *http.Request) {
	err := s.commands.AddMember(r.Context(),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "toolID"), actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *groupRoutes) removeMember(w http.ResponseWriter, r *http.Request) {
	err := s.commands.RemoveMember(r.Context(),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "toolID"), actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *groupRoutes) addExclusion(w http.ResponseWriter, r *http.Request) {
	err := s.commands.AddExclusion(r.Context(),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "toolID"), actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *groupRoutes) removeExclusion(w http.ResponseWriter, r *http.Request) {
	err := s.commands.RemoveExclusion(r.Context(),
		chi.URLParam(r, "groupID"), chi.URLParam(r, "toolID"), actorOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
