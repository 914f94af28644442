// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/access"
	"github.com/toolgate/toolgate/pkg/gateway/telemetry"
)

type manifestRoutes struct {
	access  *access.Resolver
	metrics *telemetry.Metrics
}

func manifestRouter(deps Deps) http.Handler {
	routes := manifestRoutes{access: deps.Access, metrics: deps.Metrics}

	r := chi.NewRouter()
	r.Post("/", routes.resolve)
	return r
}

type manifestResponse struct {
	Tools []gateway.ToolDescriptor `json:"tools"`
}

// resolve returns the caller's tool manifest: every tool the caller's
// claims grant, described without execution internals.
func (s *manifestRoutes) resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

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

	descriptors, err := s.access.ResolveManifest(ctx, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveResolution("caller")
	}

	if descriptors == nil {
		descriptors = []gateway.ToolDescriptor{}
	}
	writeJSON(w, http.StatusOK, manifestResponse{Tools: descriptors})
}
