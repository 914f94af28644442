// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// placeholderPattern matches {name} references in execution templates.
// Dots are allowed for {response.<path>} references in poll templates.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_][a-zA-Z0-9_.-]*)\}`)

// responsePrefix marks placeholders resolved against the trigger response
// body instead of the call arguments.
const responsePrefix = "response."

// renderer substitutes call arguments into an execution profile's
// templates. A referenced placeholder with no argument is rejected unless
// the profile marks it optional.
type renderer struct {
	args     map[string]any
	optional map[string]struct{}

	// triggerBody is the trigger response body for {response.<path>}
	// references. Nil outside the poll phase.
	triggerBody []byte
}

func newRenderer(profile *gateway.ExecutionProfile, args map[string]any) *renderer {
	optional := make(map[string]struct{}, len(profile.OptionalParams))
	for _, name := range profile.OptionalParams {
		optional[name] = struct{}{}
	}
	return &renderer{args: args, optional: optional}
}

// renderURL renders a URL template. Argument values are path-escaped.
func (r *renderer) renderURL(template string) (string, error) {
	return r.render(template, func(v any) (string, error) {
		s, err := scalarString(v)
		if err != nil {
			return "", err
		}
		return url.PathEscape(s), nil
	})
}

// renderHeader renders a header value template.
func (r *renderer) renderHeader(template string) (string, error) {
	return r.render(template, scalarString)
}

// renderBody renders a body template. Argument values are substituted as
// their JSON encoding, so templates reference them unquoted; absent
// optional placeholders render as null.
func (r *renderer) renderBody(template string) (string, error) {
	return r.renderWith(template, func(v any) (string, error) {
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encoding argument: %w", err)
		}
		return string(encoded), nil
	}, "null")
}

func (r *renderer) render(template string, encode func(any) (string, error)) (string, error) {
	return r.renderWith(template, encode, "")
}

func (r *renderer) renderWith(template string, encode func(any) (string, error), absent string) (string, error) {
	var renderErr error
	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if renderErr != nil {
			return match
		}
		name := match[1 : len(match)-1]

		if strings.HasPrefix(name, responsePrefix) {
			value, err := r.responseValue(strings.TrimPrefix(name, responsePrefix))
			if err != nil {
				renderErr = err
				return match
			}
			return value
		}

		value, ok := r.args[name]
		if !ok {
			if _, optional := r.optional[name]; optional {
				return absent
			}
			renderErr = gateway.NewValidationError(
				fmt.Sprintf("template references argument %q which was not provided", name), nil)
			return match
		}

		encoded, err := encode(value)
		if err != nil {
			renderErr = gateway.NewValidationError(
				fmt.Sprintf("argument %q cannot be rendered", name), err)
			return match
		}
		return encoded
	})
	if renderErr != nil {
		return "", renderErr
	}
	return rendered, nil
}

func (r *renderer) responseValue(path string) (string, error) {
	if r.triggerBody == nil {
		return "", gateway.NewValidationError(
			fmt.Sprintf("placeholder {response.%s} is only valid in poll templates", path), nil)
	}
	result := gjson.GetBytes(r.triggerBody, path)
	if !result.Exists() {
		return "", gateway.NewUpstreamRejectedError(
			fmt.Sprintf("trigger response has no field %q", path), nil)
	}
	return url.PathEscape(result.String()), nil
}

// scalarString converts a scalar argument to its string form. Composite
// values cannot appear in URLs or headers.
func scalarString(v any) (string, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case bool:
		return strconv.FormatBool(value), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("composite value of type %T", v)
	}
}
