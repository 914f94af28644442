// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor proxies tool calls to upstream sources: argument
// validation, credential attachment, template rendering, sync and
// async-poll dispatch, and per-source fault isolation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/credential"
	"github.com/toolgate/toolgate/pkg/gateway/store"
	"github.com/toolgate/toolgate/pkg/logger"
)

const (
	// defaultRequestTimeout bounds an upstream request when the execution
	// profile carries no timeout of its own.
	defaultRequestTimeout = 30 * time.Second

	// defaultPollWallClock bounds a whole async-poll execution regardless
	// of the attempt budget.
	defaultPollWallClock = 5 * time.Minute

	// defaultDegradedThreshold and defaultUnhealthyThreshold are the
	// consecutive-failure counts that move a source to degraded and
	// unhealthy respectively.
	defaultDegradedThreshold  = 3
	defaultUnhealthyThreshold = 6

	// defaultCoolDown is how long an unhealthy source fails fast before a
	// probe request is let through.
	defaultCoolDown = 30 * time.Second

	// maxUpstreamBodySize caps how much of an upstream response is read (4 MB).
	maxUpstreamBodySize = 4 << 20
)

// CredentialSource obtains the upstream credential for a source, or nil
// when its trust mode attaches none.
type CredentialSource interface {
	Obtain(ctx context.Context, source *gateway.Source, callerCredential string) (*credential.Credential, error)
}

// HealthReporter is notified when a source's breaker health transitions.
// Implementations typically record the transition on the source aggregate.
type HealthReporter func(ctx context.Context, sourceID string, health gateway.SourceHealth, consecutiveFailures int)

// Config tunes the executor. Zero values select the defaults above.
type Config struct {
	DegradedThreshold  int
	UnhealthyThreshold int
	CoolDown           time.Duration
	PollWallClock      time.Duration
	HTTPClient         *http.Client
}

// Executor dispatches tool executions against upstream sources.
type Executor struct {
	store         store.Projections
	creds         CredentialSource
	client        *http.Client
	breaker       *breaker
	reportHealth  HealthReporter
	pollWallClock time.Duration
}

// New creates an executor. reportHealth may be nil.
func New(projections store.Projections, creds CredentialSource, cfg Config, reportHealth HealthReporter) *Executor {
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = defaultDegradedThreshold
	}
	if cfg.UnhealthyThreshold <= cfg.DegradedThreshold {
		cfg.UnhealthyThreshold = cfg.DegradedThreshold + defaultUnhealthyThreshold - defaultDegradedThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = defaultCoolDown
	}
	if cfg.PollWallClock <= 0 {
		cfg.PollWallClock = defaultPollWallClock
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		store:         projections,
		creds:         creds,
		client:        client,
		breaker:       newBreaker(cfg.DegradedThreshold, cfg.UnhealthyThreshold, cfg.CoolDown),
		reportHealth:  reportHealth,
		pollWallClock: cfg.PollWallClock,
	}
}

// SourceHealth returns the breaker's live view of a source.
func (x *Executor) SourceHealth(sourceID string) (gateway.SourceHealth, int) {
	return x.breaker.state(sourceID)
}

// ResetSourceHealth clears a source's breaker state, as after an explicit
// health-reset command.
func (x *Executor) ResetSourceHealth(sourceID string) {
	x.breaker.reset(sourceID)
}

// Execute runs one tool call. Arguments are validated against the tool's
// input schema before any network contact; the result is the upstream
// response for sync tools and the extracted result field for async-poll
// tools. Every failure is a typed gateway error.
func (x *Executor) Execute(
	ctx context.Context,
	tool *gateway.Tool,
	args map[string]any,
	callerCredential string,
) (*gateway.ExecutionResult, error) {
	if err := validateArgs(tool.Definition.InputSchema, args); err != nil {
		return nil, err
	}

	source, err := x.store.GetSource(ctx, tool.SourceID)
	if err != nil {
		return nil, gateway.NewNotFoundError("source", tool.SourceID)
	}
	if !source.Enabled {
		return nil, gateway.NewSourceUnavailableError(source.Name)
	}
	if !x.breaker.allow(source.ID) {
		return nil, gateway.NewSourceUnavailableError(source.Name)
	}

	cred, err := x.creds.Obtain(ctx, source, callerCredential)
	if err != nil {
		// Credential failures are the exchange's problem, not the
		// source's: they never move the breaker.
		return nil, err
	}

	profile := &tool.Definition.Profile
	r := newRenderer(profile, args)

	started := time.Now()
	var result *gateway.ExecutionResult
	switch profile.Mode {
	case gateway.ExecAsyncPoll:
		result, err = x.dispatchPoll(ctx, source, profile, r, cred)
	default:
		result, err = x.dispatchSync(ctx, source, profile, r, cred)
	}

	x.account(ctx, source, err)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(started)
	return result, nil
}

// account applies a dispatch outcome to the source's breaker. A call the
// caller cancelled counts as neither success nor failure; a transient
// upstream failure counts against the source; any completed dispatch,
// including a 4xx rejection, proves the source is reachable and resets it.
func (x *Executor) account(ctx context.Context, source *gateway.Source, dispatchErr error) {
	if ctx.Err() != nil || errors.Is(dispatchErr, context.Canceled) {
		return
	}
	// Validation errors surface before any upstream contact.
	if gateway.IsKind(dispatchErr, gateway.KindValidation) {
		return
	}

	var health gateway.SourceHealth
	var changed bool
	if dispatchErr == nil || gateway.IsKind(dispatchErr, gateway.KindUpstreamRejected) || gateway.IsKind(dispatchErr, gateway.KindAuth) {
		health, changed = x.breaker.success(source.ID)
	} else {
		health, changed = x.breaker.failure(source.ID)
	}

	if changed && x.reportHealth != nil {
		_, failures := x.breaker.state(source.ID)
		x.reportHealth(ctx, source.ID, health, failures)
	}
}

// validateArgs checks the call arguments against the tool's JSON Schema.
// An empty schema accepts anything.
func validateArgs(schema []byte, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return gateway.NewValidationError("input schema cannot be evaluated", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return gateway.NewValidationError("arguments violate the tool's input schema: "+strings.Join(details, "; "), nil)
	}
	return nil
}

// dispatchSync issues the single request and maps the response into the
// result.
func (x *Executor) dispatchSync(
	ctx context.Context,
	source *gateway.Source,
	profile *gateway.ExecutionProfile,
	r *renderer,
	cred *credential.Credential,
) (*gateway.ExecutionResult, error) {
	status, body, err := x.doRequest(ctx, source, profile, r, cred, profile.Method, profile.URLTemplate, profile.BodyTemplate)
	if err != nil {
		return nil, err
	}
	return &gateway.ExecutionResult{StatusCode: status, Body: body}, nil
}

// dispatchPoll issues the trigger request, then polls the status endpoint
// with exponentially increasing delay until a terminal status value, the
// attempt budget, or the wall-clock deadline.
func (x *Executor) dispatchPoll(
	ctx context.Context,
	source *gateway.Source,
	profile *gateway.ExecutionProfile,
	r *renderer,
	cred *credential.Credential,
) (*gateway.ExecutionResult, error) {
	poll := profile.Poll
	if poll == nil {
		return nil, gateway.NewValidationError("async-poll tool has no poll descriptor", nil)
	}

	_, triggerBody, err := x.doRequest(ctx, source, profile, r, cred, profile.Method, profile.URLTemplate, profile.BodyTemplate)
	if err != nil {
		return nil, err
	}
	r.triggerBody = triggerBody

	ctx, cancel := context.WithTimeout(ctx, x.pollWallClock)
	defer cancel()

	for attempt := 0; attempt < poll.MaxAttempts; attempt++ {
		delay := time.Duration(float64(poll.BaseInterval) * math.Pow(poll.Multiplier, float64(attempt)))
		if err := sleepCtx(ctx, delay); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, gateway.NewUpstreamTransientError("async execution did not complete before the deadline", ctx.Err())
			}
			return nil, err
		}

		status, body, err := x.doRequest(ctx, source, profile, r, cred, http.MethodGet, poll.StatusURLTemplate, "")
		if err != nil {
			return nil, err
		}

		value := gjson.GetBytes(body, poll.StatusPath)
		switch {
		case slices.Contains(poll.SuccessValues, value.String()):
			result := body
			if poll.ResultPath != "" {
				extracted := gjson.GetBytes(body, poll.ResultPath)
				if !extracted.Exists() {
					return nil, gateway.NewUpstreamRejectedError(
						fmt.Sprintf("status response has no result field %q", poll.ResultPath), nil)
				}
				result = []byte(extracted.Raw)
			}
			return &gateway.ExecutionResult{StatusCode: status, Body: result, Attempts: attempt + 1}, nil

		case slices.Contains(poll.FailureValues, value.String()):
			return nil, gateway.NewUpstreamRejectedError(
				fmt.Sprintf("async execution failed with status %q", value.String()), nil)
		}

		logger.Debugf("Tool status %q not terminal after attempt %d", value.String(), attempt+1)
	}

	return nil, gateway.NewUpstreamTransientError(
		fmt.Sprintf("async execution did not complete within %d status checks", poll.MaxAttempts), nil)
}

// doRequest renders one request from its templates, attaches the
// credential, sends it with the profile timeout, and classifies the
// response. Non-2xx responses are returned as typed errors.
func (x *Executor) doRequest(
	ctx context.Context,
	source *gateway.Source,
	profile *gateway.ExecutionProfile,
	r *renderer,
	cred *credential.Credential,
	method, urlTemplate, bodyTemplate string,
) (int, []byte, error) {
	target, err := r.renderURL(urlTemplate)
	if err != nil {
		return 0, nil, err
	}
	if !strings.Contains(target, "://") {
		target = strings.TrimSuffix(source.BaseURL, "/") + "/" + strings.TrimPrefix(target, "/")
	}

	var payload io.Reader
	if bodyTemplate != "" {
		rendered, err := r.renderBody(bodyTemplate)
		if err != nil {
			return 0, nil, err
		}
		payload = strings.NewReader(rendered)
	}

	timeout := profile.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, payload)
	if err != nil {
		return 0, nil, gateway.NewValidationError("rendered request is invalid", err)
	}
	for name, template := range profile.HeaderTemplates {
		value, err := r.renderHeader(template)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set(name, value)
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		cred.Apply(req)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return 0, nil, context.Canceled
		}
		return 0, nil, gateway.NewUpstreamTransientError(
			fmt.Sprintf("request to source %s failed", source.Name), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodySize))
	if err != nil {
		return 0, nil, gateway.NewUpstreamTransientError("reading upstream response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return resp.StatusCode, body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, nil, gateway.NewAuthError(
			fmt.Sprintf("source %s denied the credential (status %d)", source.Name, resp.StatusCode), nil)
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		return resp.StatusCode, nil, gateway.NewUpstreamRejectedError(
			fmt.Sprintf("source %s rejected the call (status %d)", source.Name, resp.StatusCode), nil)
	default:
		return resp.StatusCode, nil, gateway.NewUpstreamTransientError(
			fmt.Sprintf("source %s returned status %d", source.Name, resp.StatusCode), nil)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
