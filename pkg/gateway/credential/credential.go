// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential converts a caller credential into an upstream-scoped
// one under the source's trust mode, caching exchange results per key.
package credential

import (
	"fmt"
	"net/http"
	"time"
)

const (
	// redactedPlaceholder is used to redact sensitive values in string representations
	redactedPlaceholder = "[REDACTED]"

	// emptyPlaceholder is used to indicate empty/missing values in string representations
	emptyPlaceholder = "<empty>"
)

// Placement says how a credential attaches to an upstream request.
type Placement string

const (
	// PlaceBearer sends the value as an Authorization: Bearer header.
	PlaceBearer Placement = "bearer"
	// PlaceHeader sends the value in a custom header named Name.
	PlaceHeader Placement = "header"
	// PlaceQuery sends the value in a query parameter named Name.
	PlaceQuery Placement = "query"
)

// Credential is an upstream-scoped credential ready to attach to a request.
type Credential struct {
	Placement Placement

	// Name is the header or query parameter name. Unused for PlaceBearer.
	Name string

	Value string

	// ExpiresAt is zero for static credentials that never expire.
	ExpiresAt time.Time
}

// Apply attaches the credential to an outgoing request.
func (c *Credential) Apply(req *http.Request) {
	switch c.Placement {
	case PlaceBearer:
		req.Header.Set("Authorization", "Bearer "+c.Value)
	case PlaceHeader:
		req.Header.Set(c.Name, c.Value)
	case PlaceQuery:
		q := req.URL.Query()
		q.Set(c.Name, c.Value)
		req.URL.RawQuery = q.Encode()
	}
}

// String implements fmt.Stringer, redacting the credential value.
func (c *Credential) String() string {
	value := redactedPlaceholder
	if c.Value == "" {
		value = emptyPlaceholder
	}
	return fmt.Sprintf("Credential{Placement: %s, Name: %s, Value: %s, ExpiresAt: %s}",
		c.Placement, c.Name, value, c.ExpiresAt.Format(time.RFC3339))
}

// expired reports whether the credential is past its expiry at now.
// Static credentials never expire.
func (c *Credential) expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
