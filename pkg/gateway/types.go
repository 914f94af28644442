// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"time"
)

// This file contains shared domain types used across the gateway subpackages.
// These are core concepts that cross bounded contexts: sources, tools,
// groups, policies, and the derived manifest/credential shapes.

// SourceHealth represents the health state of an upstream source.
type SourceHealth string

const (
	// SourceUnknown indicates the source has not completed any sync or execution yet.
	SourceUnknown SourceHealth = "unknown"

	// SourceHealthy indicates the source is serving requests normally.
	SourceHealthy SourceHealth = "healthy"

	// SourceDegraded indicates the source crossed the first consecutive-failure
	// threshold; requests still go through but the source is suspect.
	SourceDegraded SourceHealth = "degraded"

	// SourceUnhealthy indicates the source crossed the second threshold.
	// New executions fail fast until a cool-down elapses or health is reset.
	SourceUnhealthy SourceHealth = "unhealthy"
)

// TrustMode selects how upstream calls to a source are authenticated.
type TrustMode string

const (
	// TrustNone attaches no credential to upstream calls.
	TrustNone TrustMode = "none"

	// TrustAPIKey injects a static key into a configured header or query parameter.
	TrustAPIKey TrustMode = "api-key"

	// TrustServiceIdentity uses a gateway-owned service credential obtained
	// via a client-credentials grant. Caller identity is not propagated.
	TrustServiceIdentity TrustMode = "service-identity"

	// TrustDelegatedIdentity exchanges the caller's credential for an
	// upstream-scoped credential that preserves the caller's identity claims.
	TrustDelegatedIdentity TrustMode = "delegated-identity"
)

// Source is an upstream system exposing callable operations.
type Source struct {
	// ID is the stable identifier assigned at registration.
	ID string

	// Name is the human-readable source name, unique across sources.
	// Tool selectors match against this name.
	Name string

	// BaseURL is the network location of the upstream.
	BaseURL string

	// Kind identifies the upstream flavour (e.g. "openapi", "grpc-gateway").
	// Discovery adapters dispatch on it; this engine treats it as opaque.
	Kind string

	// TrustMode selects the credential strategy for upstream calls.
	TrustMode TrustMode

	// Auth carries the per-mode credential configuration. Fields for modes
	// other than TrustMode are ignored.
	Auth AuthConfig

	// Health is derived from recorded sync and execution outcomes.
	Health SourceHealth

	// ConsecutiveFailures counts failed dispatches since the last success.
	ConsecutiveFailures int

	// LastFingerprint is the content fingerprint of the last successful
	// inventory sync, used to skip no-op updates.
	LastFingerprint string

	// Enabled is the administrative flag. A disabled source contributes no
	// tools to any resolution. Orthogonal to Health.
	Enabled bool

	// Version is the aggregate stream version this state was derived from.
	Version uint64
}

// AuthConfig holds per-trust-mode credential configuration for a source.
// Exactly one member is consulted, selected by the source's TrustMode.
type AuthConfig struct {
	APIKey            *APIKeyAuth            `json:"api_key,omitempty"`
	ServiceIdentity   *ServiceIdentityAuth   `json:"service_identity,omitempty"`
	DelegatedIdentity *DelegatedIdentityAuth `json:"delegated_identity,omitempty"`
}

// APIKeyAuth configures static key injection. Exactly one of Header or
// QueryParam should be set.
type APIKeyAuth struct {
	// Key is the static secret value.
	Key string `json:"key"`

	// Header is the header name to inject the key into.
	Header string `json:"header,omitempty"`

	// QueryParam is the query parameter name to inject the key into.
	QueryParam string `json:"query_param,omitempty"`
}

// ServiceIdentityAuth configures a client-credentials grant for a
// gateway-owned service identity.
type ServiceIdentityAuth struct {
	// TokenURL is the OAuth 2.0 token endpoint.
	TokenURL string `json:"token_url"`

	// ClientID is the OAuth 2.0 client identifier.
	ClientID string `json:"client_id"`

	// ClientSecret is the OAuth 2.0 client secret.
	ClientSecret string `json:"client_secret"`

	// Scopes are requested on the grant.
	Scopes []string `json:"scopes,omitempty"`
}

// DelegatedIdentityAuth configures an RFC 8693 token exchange that converts
// the caller's credential into an upstream-scoped one.
type DelegatedIdentityAuth struct {
	// TokenURL is the OAuth 2.0 token endpoint.
	TokenURL string `json:"token_url"`

	// ClientID is the OAuth 2.0 client identifier.
	ClientID string `json:"client_id"`

	// ClientSecret is the OAuth 2.0 client secret.
	ClientSecret string `json:"client_secret"`

	// Audience is the target audience for the exchanged token.
	Audience string `json:"audience"`

	// Scopes are requested on the exchanged token.
	Scopes []string `json:"scopes,omitempty"`
}

// ToolLifecycle marks whether a tool is still present upstream.
type ToolLifecycle string

const (
	// ToolActive means the tool was present in the latest inventory sync.
	ToolActive ToolLifecycle = "active"

	// ToolDeprecated means the tool disappeared from a subsequent sync.
	// Deprecated tools are excluded from every resolution but never deleted.
	ToolDeprecated ToolLifecycle = "deprecated"
)

// Tool is one discovered, normalized, callable operation from a source.
type Tool struct {
	// ID is derived from the source ID and the upstream operation ID and is
	// stable across definition replacements.
	ID string

	// SourceID and SourceName identify the owning source. SourceName is
	// denormalized so selector matching needs no source lookup.
	SourceID   string
	SourceName string

	// OperationID is the upstream operation identifier.
	OperationID string

	// Definition is the normalized tool definition. It is replaced wholesale
	// on every upstream spec change, never merged.
	Definition Definition

	// Enabled is the administrative flag, independently toggleable.
	Enabled bool

	// Lifecycle is active or deprecated.
	Lifecycle ToolLifecycle

	// Version is the aggregate stream version this state was derived from.
	Version uint64
}

// Resolvable reports whether the tool may appear in any group resolution.
// Disabled and deprecated are both hard vetoes.
func (t *Tool) Resolvable() bool {
	return t.Enabled && t.Lifecycle == ToolActive
}

// Definition is the normalized description of a tool, as produced by a
// discovery adapter.
type Definition struct {
	// Name is the caller-facing tool name.
	Name string `json:"name"`

	// Description is the human/LLM-facing explanation of what the tool does.
	Description string `json:"description"`

	// InputSchema is a JSON Schema describing the tool's arguments.
	InputSchema json.RawMessage `json:"input_schema"`

	// Profile describes how to execute the tool against the upstream.
	// Never exposed to callers.
	Profile ExecutionProfile `json:"profile"`

	// Tags are free-form labels used by group selectors.
	Tags []string `json:"tags,omitempty"`

	// Path is the upstream route path, used by group selectors.
	Path string `json:"path,omitempty"`
}

// ExecutionMode distinguishes the two completion models.
type ExecutionMode string

const (
	// ExecSync issues a single request and maps the response directly.
	ExecSync ExecutionMode = "sync"

	// ExecAsyncPoll issues a trigger request and then polls a status
	// endpoint until a terminal value, a failure value, or exhaustion.
	ExecAsyncPoll ExecutionMode = "async-poll"
)

// ExecutionProfile describes how to build and run the upstream request.
// It is embedded in a Definition and immutable once discovered.
type ExecutionProfile struct {
	// Mode is the completion model. Poll must be set iff Mode is ExecAsyncPoll.
	Mode ExecutionMode `json:"mode"`

	// Method is the HTTP method for the trigger request.
	Method string `json:"method"`

	// URLTemplate is the request URL with {placeholder} argument references.
	// Relative templates are resolved against the source BaseURL.
	URLTemplate string `json:"url_template"`

	// HeaderTemplates maps header names to templated values.
	HeaderTemplates map[string]string `json:"header_templates,omitempty"`

	// BodyTemplate is the templated request body, empty for no body.
	BodyTemplate string `json:"body_template,omitempty"`

	// OptionalParams lists placeholders that may be absent from the
	// arguments; absent optional placeholders render as the empty string.
	OptionalParams []string `json:"optional_params,omitempty"`

	// Audience is the required trust audience for credential exchange.
	Audience string `json:"audience,omitempty"`

	// Scopes are the scopes required on the upstream credential.
	Scopes []string `json:"scopes,omitempty"`

	// Timeout bounds each individual upstream request.
	Timeout time.Duration `json:"timeout"`

	// Poll describes the status-check loop for async-poll mode.
	Poll *PollDescriptor `json:"poll,omitempty"`
}

// PollDescriptor configures the trigger-then-poll completion model.
type PollDescriptor struct {
	// StatusURLTemplate is the status-check URL. In addition to the call
	// arguments it may reference fields of the trigger response body by
	// {response.<path>} placeholders.
	StatusURLTemplate string `json:"status_url_template"`

	// StatusPath locates the status value in the status response (gjson path).
	StatusPath string `json:"status_path"`

	// SuccessValues are status values meaning the operation completed.
	SuccessValues []string `json:"success_values"`

	// FailureValues are status values meaning the operation failed.
	FailureValues []string `json:"failure_values"`

	// ResultPath locates the result value in the status response (gjson path).
	// Empty means the whole status response body is the result.
	ResultPath string `json:"result_path,omitempty"`

	// MaxAttempts bounds the number of status checks.
	MaxAttempts int `json:"max_attempts"`

	// BaseInterval is the delay before the first status check.
	BaseInterval time.Duration `json:"base_interval"`

	// Multiplier grows the delay exponentially: base × multiplier^attempt.
	Multiplier float64 `json:"multiplier"`
}

// Selector is a pattern rule pulling tools into a group. All four
// conditions AND together; selectors within a group OR together.
type Selector struct {
	// ID identifies the selector for removal commands.
	ID string `json:"id"`

	// SourcePattern matches the tool's source name (shell-style wildcards).
	SourcePattern string `json:"source_pattern"`

	// NamePattern matches the tool's name (shell-style wildcards).
	NamePattern string `json:"name_pattern"`

	// PathPattern optionally matches the tool's path. Empty means any path.
	PathPattern string `json:"path_pattern,omitempty"`

	// RequiredTags must all be carried by the tool.
	RequiredTags []string `json:"required_tags,omitempty"`
}

// ExplicitMember records an admin-pinned group member.
type ExplicitMember struct {
	ToolID  string    `json:"tool_id"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// ToolGroup is a named, admin-curated set of tools.
type ToolGroup struct {
	ID string

	Name string

	// Selectors pull matching tools in.
	Selectors []Selector

	// Members are explicit inclusions, independent of selector match.
	Members []ExplicitMember

	// Exclusions are tool IDs vetoed from the group. Exclusion beats both
	// selector match and explicit membership.
	Exclusions []string

	// Active controls visibility to access resolution. Deactivation hides
	// the group without deleting its history.
	Active bool

	// Version is the aggregate stream version this state was derived from.
	Version uint64
}

// MatchOperator is a claim-matcher comparison.
type MatchOperator string

const (
	// OpEquals compares the claim value for equality.
	OpEquals MatchOperator = "equals"
	// OpNotEquals is the negation of OpEquals.
	OpNotEquals MatchOperator = "not_equals"
	// OpContains tests membership in a list-valued claim.
	OpContains MatchOperator = "contains"
	// OpNotContains is the negation of OpContains.
	OpNotContains MatchOperator = "not_contains"
	// OpMatches applies a regular expression to the claim value.
	OpMatches MatchOperator = "matches"
)

// ClaimMatcher is one interpreted rule against a caller's claim set.
type ClaimMatcher struct {
	// Path is a dot-separated claim path; intermediate segments traverse
	// nested objects and the final value may be a list.
	Path string `json:"path"`

	// Operator selects the comparison.
	Operator MatchOperator `json:"operator"`

	// Value is the comparison operand (a regexp source for OpMatches).
	Value string `json:"value"`

	// CaseInsensitive folds case before comparing.
	CaseInsensitive bool `json:"case_insensitive,omitempty"`
}

// AccessPolicy maps caller claims to allowed groups. All matchers must
// hold (AND). All matching policies contribute their groups (union).
type AccessPolicy struct {
	ID string

	Name string

	// Matchers all must evaluate true for the policy to match.
	Matchers []ClaimMatcher

	// GroupIDs are the groups granted by a match.
	GroupIDs []string

	// Priority orders evaluation, highest first. It is a cost-control
	// ordering, not exclusivity: every matching policy contributes.
	Priority int

	// Active controls participation in access resolution.
	Active bool

	// Version is the aggregate stream version this state was derived from.
	Version uint64
}

// ToolDescriptor is the caller-facing view of a resolved tool. It carries
// no execution profile internals and no secrets.
type ToolDescriptor struct {
	ToolID      string          `json:"tool_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ExecutionResult is the normalized outcome of a successful tool call.
type ExecutionResult struct {
	// StatusCode is the upstream HTTP status of the final response
	// (the trigger response for sync, the last status check for async-poll).
	StatusCode int `json:"status_code"`

	// Body is the result payload. For async-poll this is the extracted
	// result field, not the raw status response.
	Body json.RawMessage `json:"body,omitempty"`

	// Attempts is the number of status checks performed (async-poll only).
	Attempts int `json:"attempts,omitempty"`

	// Duration is the total wall-clock time of the dispatch.
	Duration time.Duration `json:"duration"`
}
