// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/access"
	"github.com/toolgate/toolgate/pkg/logger"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Kind  gateway.ErrorKind `json:"kind"`
	Error string            `json:"error"`
}

// statusOf maps an error kind to the HTTP status it surfaces as.
func statusOf(err error) int {
	switch gateway.KindOf(err) {
	case gateway.KindValidation:
		return http.StatusBadRequest
	case gateway.KindAuth:
		return http.StatusUnauthorized
	case gateway.KindAccessDenied:
		return http.StatusForbidden
	case gateway.KindNotFound:
		return http.StatusNotFound
	case gateway.KindConcurrencyConflict:
		return http.StatusConflict
	case gateway.KindUpstreamRejected:
		return http.StatusBadGateway
	case gateway.KindUpstreamTransient:
		return http.StatusGatewayTimeout
	case gateway.KindSourceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Errorw("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Kind: gateway.KindOf(err), Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("encoding response", "error", err)
	}
}

// decodeJSON decodes a request body, mapping malformed JSON to a
// validation error.
func decodeJSON(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return gateway.NewValidationError("invalid request body", err)
	}
	return nil
}

// bearerToken extracts the caller credential from the Authorization header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", gateway.NewAuthError("missing authorization header", nil)
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", gateway.NewAuthError("authorization header is not a bearer token", nil)
	}
	return token, nil
}

// actorOf identifies who issued an admin command, for event attribution.
// The caller's subject claim is used when a bearer token is present.
func actorOf(r *http.Request) string {
	token, err := bearerToken(r)
	if err != nil {
		return "api"
	}
	claims, err := access.ClaimsFromToken(token)
	if err != nil {
		return "api"
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	return "api"
}
