// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package access maps a caller's claim set to the tools they may use: it
// evaluates admin-configured claim matchers against policies, unions the
// granted groups, and hydrates the result into caller-facing descriptors.
package access

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// Claims is a caller's claim set. Verification happens before the gateway
// (or at the IdP during delegated exchange); this package only reads.
type Claims = jwt.MapClaims

// ClaimsFromToken extracts the claim set from a JWT without verifying the
// signature. The gateway never trusts these claims for upstream calls --
// delegated-identity exchange hands the raw token to the IdP, which
// verifies it -- but uses them for group resolution behind an
// authenticating front proxy.
func ClaimsFromToken(token string) (Claims, error) {
	parser := jwt.NewParser()
	claims := Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, gateway.NewAuthError("malformed credential", err)
	}
	return claims, nil
}

// EvalMatcher evaluates one claim matcher against a claim set. A missing
// claim path fails positive operators and satisfies negated ones.
func EvalMatcher(m gateway.ClaimMatcher, claims Claims) (bool, error) {
	values, found := lookupPath(map[string]any(claims), strings.Split(m.Path, "."))

	switch m.Operator {
	case gateway.OpEquals:
		return found && len(values) == 1 && fold(values[0], m.CaseInsensitive) == fold(m.Value, m.CaseInsensitive), nil

	case gateway.OpNotEquals:
		if !found {
			return true, nil
		}
		return len(values) != 1 || fold(values[0], m.CaseInsensitive) != fold(m.Value, m.CaseInsensitive), nil

	case gateway.OpContains:
		return containsValue(values, m.Value, m.CaseInsensitive), nil

	case gateway.OpNotContains:
		return !containsValue(values, m.Value, m.CaseInsensitive), nil

	case gateway.OpMatches:
		if !found {
			return false, nil
		}
		pattern := m.Value
		if m.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, gateway.NewValidationError("claim matcher regexp is invalid", err)
		}
		for _, v := range values {
			if re.MatchString(v) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, gateway.Errorf(gateway.KindValidation, "unknown matcher operator %q", m.Operator)
	}
}

func containsValue(values []string, want string, insensitive bool) bool {
	want = fold(want, insensitive)
	for _, v := range values {
		if fold(v, insensitive) == want {
			return true
		}
	}
	return false
}

func fold(s string, insensitive bool) string {
	if insensitive {
		return strings.ToLower(s)
	}
	return s
}

// lookupPath traverses nested objects by dot-separated segments. The final
// value is flattened to strings: scalars become a single-element slice,
// lists keep their elements.
func lookupPath(node any, segments []string) ([]string, bool) {
	for _, seg := range segments {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}

	switch v := node.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}
		return out, true
	case map[string]any:
		// A path resolving to an object has no comparable value.
		return nil, false
	default:
		return []string{stringify(v)}, true
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integers without exponent.
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
