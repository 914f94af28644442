// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
)

const (
	// grantTypeTokenExchange is the OAuth 2.0 Token Exchange grant type (RFC 8693)
	//nolint:gosec // G101: False positive - these are OAuth2 URN identifiers, not credentials
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

	// tokenTypeAccessToken indicates an OAuth 2.0 access token
	//nolint:gosec // G101: False positive - these are OAuth2 URN identifiers, not credentials
	tokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

	// defaultHTTPTimeout is the timeout for token endpoint requests
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBodySize is the maximum size for reading response bodies (1 MB)
	maxResponseBodySize = 1 << 20
)

// defaultHTTPClient is used for token endpoint requests when no client is configured.
var defaultHTTPClient = &http.Client{
	Timeout: defaultHTTPTimeout,
}

// oAuthError represents an OAuth 2.0 error response as defined in RFC 6749 Section 5.2.
type oAuthError struct {
	Code             string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	StatusCode       int    `json:"-"`
}

func (e *oAuthError) Error() string {
	if e.ErrorURI != "" {
		return fmt.Sprintf("OAuth error %q (status %d): see %s", e.Code, e.StatusCode, e.ErrorURI)
	}
	return fmt.Sprintf("OAuth error %q (status %d)", e.Code, e.StatusCode)
}

// rejection reports whether the token endpoint definitively rejected the
// request. A rejection must not be retried with the same inputs.
func (e *oAuthError) rejection() bool {
	return e.StatusCode >= 400 && e.StatusCode <= 499
}

// parseOAuthError attempts to parse an OAuth error response from the given response body.
func parseOAuthError(statusCode int, body []byte) *oAuthError {
	var oauthErr oAuthError
	if err := json.Unmarshal(body, &oauthErr); err != nil {
		return nil
	}
	if oauthErr.Code == "" {
		return nil
	}
	oauthErr.StatusCode = statusCode
	return &oauthErr
}

// exchangeRequest carries the fields of an OAuth 2.0 token exchange.
// Based on RFC 8693: https://datatracker.ietf.org/doc/html/rfc8693
type exchangeRequest struct {
	SubjectToken string
	Audience     string
	Scope        []string
}

// String implements fmt.Stringer for exchangeRequest, redacting the subject token.
func (r exchangeRequest) String() string {
	subjectToken := redactedPlaceholder
	if r.SubjectToken == "" {
		subjectToken = emptyPlaceholder
	}
	return fmt.Sprintf("exchangeRequest{Audience: %s, Scope: %v, SubjectToken: %s}",
		r.Audience, r.Scope, subjectToken)
}

// tokenResponse decodes the token endpoint response of an OAuth 2.0 token exchange.
type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	IssuedTokenType string `json:"issued_token_type"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope"`
}

// String implements fmt.Stringer for tokenResponse, redacting the access token.
func (r tokenResponse) String() string {
	accessToken := redactedPlaceholder
	if r.AccessToken == "" {
		accessToken = emptyPlaceholder
	}
	return fmt.Sprintf("tokenResponse{AccessToken: %s, TokenType: %s, ExpiresIn: %d}",
		accessToken, r.TokenType, r.ExpiresIn)
}

// exchangeToken performs one RFC 8693 token exchange against the source's
// delegated-identity endpoint. The returned errors are classified:
// KindAuth for definitive endpoint rejections, KindUpstreamTransient for
// transport failures and 5xx responses.
func exchangeToken(
	ctx context.Context,
	client *http.Client,
	auth *gateway.DelegatedIdentityAuth,
	request exchangeRequest,
) (*tokenResponse, error) {
	if request.SubjectToken == "" {
		return nil, gateway.NewAuthError("delegated identity requires a caller credential", nil)
	}

	data := url.Values{}
	data.Set("grant_type", grantTypeTokenExchange)
	data.Set("subject_token", request.SubjectToken)
	data.Set("subject_token_type", tokenTypeAccessToken)
	data.Set("requested_token_type", tokenTypeAccessToken)
	if request.Audience != "" {
		data.Set("audience", request.Audience)
	}
	if len(request.Scope) > 0 {
		data.Set("scope", strings.Join(request.Scope, " "))
	}

	encodedData := data.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.TokenURL, strings.NewReader(encodedData))
	if err != nil {
		return nil, fmt.Errorf("failed to create token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(encodedData)))

	// Client authentication via HTTP Basic Auth per RFC 6749 Section 2.3.1.
	// Credentials must be URL-encoded before being passed to SetBasicAuth.
	if auth.ClientID != "" && auth.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(auth.ClientID), url.QueryEscape(auth.ClientSecret))
	}

	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, gateway.NewUpstreamTransientError("token exchange request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, gateway.NewUpstreamTransientError("failed to read token exchange response", err)
	}

	if err := classifyExchangeStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		logger.Debugf("Failed to parse token exchange response: %v", err)
		return nil, gateway.NewUpstreamTransientError("failed to parse token exchange response", err)
	}

	// Required RFC 8693 response fields.
	if tokenResp.AccessToken == "" {
		return nil, gateway.NewAuthError("token exchange: server returned empty access_token", nil)
	}
	if tokenResp.IssuedTokenType == "" {
		return nil, gateway.NewAuthError("token exchange: server returned empty issued_token_type (required by RFC 8693)", nil)
	}

	return &tokenResp, nil
}

// classifyExchangeStatus maps a non-2xx token endpoint response to a typed
// error. OAuth 4xx rejections (invalid_grant and friends) become auth
// errors so that the exchanger never retries them.
func classifyExchangeStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode <= 299 {
		return nil
	}

	if oauthErr := parseOAuthError(statusCode, body); oauthErr != nil {
		logger.Debugf("Token exchange OAuth error: %s (description: %s)", oauthErr.Code, oauthErr.ErrorDescription)
		if oauthErr.rejection() {
			return gateway.NewAuthError("token endpoint rejected the exchange", oauthErr)
		}
		return gateway.NewUpstreamTransientError("token endpoint error", oauthErr)
	}

	logger.Debugf("Token exchange failed with status %d: %s", statusCode, string(body))
	if statusCode >= 400 && statusCode <= 499 {
		return gateway.NewAuthError(fmt.Sprintf("token exchange failed with status %d", statusCode), nil)
	}
	return gateway.NewUpstreamTransientError(fmt.Sprintf("token exchange failed with status %d", statusCode), nil)
}
