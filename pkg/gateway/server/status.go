// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
	"github.com/toolgate/toolgate/pkg/gateway/executor"
	"github.com/toolgate/toolgate/pkg/gateway/store"
)

type statusRoutes struct {
	store    store.Projections
	log      eventlog.Log
	executor *executor.Executor
}

func statusRouter(deps Deps) http.Handler {
	routes := statusRoutes{store: deps.Store, log: deps.Log, executor: deps.Executor}

	r := chi.NewRouter()
	r.Get("/", routes.status)
	return r
}

type sourceStatus struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	Enabled             bool                 `json:"enabled"`
	Health              gateway.SourceHealth `json:"health"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
}

type statusResponse struct {
	// Checkpoint is the global sequence the projections reflect.
	Checkpoint uint64 `json:"checkpoint"`

	// PendingEvents is the projection staleness: events appended but not
	// yet applied.
	PendingEvents int `json:"pending_events"`

	Sources []sourceStatus `json:"sources"`
}

func (s *statusRoutes) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checkpoint, err := s.store.Checkpoint(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := s.log.ReadAll(ctx, checkpoint)
	if err != nil {
		writeError(w, err)
		return
	}

	sources, err := s.store.ListSources(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	statuses := make([]sourceStatus, 0, len(sources))
	for _, src := range sources {
		health, failures := src.Health, src.ConsecutiveFailures
		if s.executor != nil {
			if live, n := s.executor.SourceHealth(src.ID); live != gateway.SourceUnknown {
				health, failures = live, n
			}
		}
		statuses = append(statuses, sourceStatus{
			ID:                  src.ID,
			Name:                src.Name,
			Enabled:             src.Enabled,
			Health:              health,
			ConsecutiveFailures: failures,
		})
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Checkpoint:    checkpoint,
		PendingEvents: len(pending),
		Sources:       statuses,
	})
}
