// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
)

const (
	// DefaultTTLCeiling caps how long an exchanged credential may be cached
	// regardless of the lifetime the token endpoint reports.
	DefaultTTLCeiling = 15 * time.Minute

	// DefaultSafetyBuffer is subtracted from the upstream-reported lifetime
	// so a cached credential is never handed out moments before it expires.
	DefaultSafetyBuffer = 30 * time.Second

	// defaultMaxAttempts bounds exchange retries, including the first try.
	defaultMaxAttempts = 3

	// retryInitialInterval seeds the exchange retry backoff.
	retryInitialInterval = 250 * time.Millisecond
)

// Config tunes the exchanger. Zero values select the defaults above.
type Config struct {
	TTLCeiling   time.Duration
	SafetyBuffer time.Duration
	MaxAttempts  uint
	HTTPClient   *http.Client
}

// Exchanger obtains upstream credentials for sources under their trust
// modes and caches exchange results per key. Concurrent obtains for the
// same key coalesce into one upstream exchange.
type Exchanger struct {
	ttlCeiling   time.Duration
	safetyBuffer time.Duration
	maxAttempts  uint
	httpClient   *http.Client
	now          func() time.Time

	flight singleflight.Group

	mu    sync.Mutex
	cache map[string]*Credential
}

// NewExchanger creates a credential exchanger.
func NewExchanger(cfg Config) *Exchanger {
	if cfg.TTLCeiling <= 0 {
		cfg.TTLCeiling = DefaultTTLCeiling
	}
	if cfg.SafetyBuffer <= 0 {
		cfg.SafetyBuffer = DefaultSafetyBuffer
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Exchanger{
		ttlCeiling:   cfg.TTLCeiling,
		safetyBuffer: cfg.SafetyBuffer,
		maxAttempts:  cfg.MaxAttempts,
		httpClient:   cfg.HTTPClient,
		now:          time.Now,
		cache:        make(map[string]*Credential),
	}
}

// Obtain returns the upstream credential for a call against the source,
// or nil when the source's trust mode attaches none. callerCredential is
// the caller's own bearer token; it is only consulted for
// delegated-identity sources.
func (e *Exchanger) Obtain(ctx context.Context, source *gateway.Source, callerCredential string) (*Credential, error) {
	switch source.TrustMode {
	case gateway.TrustNone:
		return nil, nil

	case gateway.TrustAPIKey:
		return staticAPIKey(source)

	case gateway.TrustServiceIdentity:
		auth := source.Auth.ServiceIdentity
		if auth == nil {
			return nil, gateway.NewValidationError(
				fmt.Sprintf("source %s has no service-identity configuration", source.Name), nil)
		}
		key := "cc|" + auth.TokenURL + "|" + auth.ClientID
		return e.obtainCached(ctx, key, func(ctx context.Context) (*Credential, error) {
			return e.clientCredentialsGrant(ctx, auth)
		})

	case gateway.TrustDelegatedIdentity:
		auth := source.Auth.DelegatedIdentity
		if auth == nil {
			return nil, gateway.NewValidationError(
				fmt.Sprintf("source %s has no delegated-identity configuration", source.Name), nil)
		}
		if callerCredential == "" {
			return nil, gateway.NewAuthError("delegated identity requires a caller credential", nil)
		}
		key := "tx|" + credentialFingerprint(callerCredential) + "|" + auth.Audience
		return e.obtainCached(ctx, key, func(ctx context.Context) (*Credential, error) {
			return e.delegatedExchange(ctx, auth, callerCredential)
		})

	default:
		return nil, gateway.NewValidationError(
			fmt.Sprintf("unknown trust mode %q", source.TrustMode), nil)
	}
}

// Invalidate drops any cached credential for the source. Used after an
// upstream authentication failure so the next call exchanges afresh.
func (e *Exchanger) Invalidate(source *gateway.Source, callerCredential string) {
	var key string
	switch source.TrustMode {
	case gateway.TrustServiceIdentity:
		if auth := source.Auth.ServiceIdentity; auth != nil {
			key = "cc|" + auth.TokenURL + "|" + auth.ClientID
		}
	case gateway.TrustDelegatedIdentity:
		if auth := source.Auth.DelegatedIdentity; auth != nil {
			key = "tx|" + credentialFingerprint(callerCredential) + "|" + auth.Audience
		}
	}
	if key == "" {
		return
	}
	e.mu.Lock()
	delete(e.cache, key)
	e.mu.Unlock()
}

func staticAPIKey(source *gateway.Source) (*Credential, error) {
	auth := source.Auth.APIKey
	if auth == nil {
		return nil, gateway.NewValidationError(
			fmt.Sprintf("source %s has no api-key configuration", source.Name), nil)
	}
	if auth.Header != "" {
		return &Credential{Placement: PlaceHeader, Name: auth.Header, Value: auth.Key}, nil
	}
	return &Credential{Placement: PlaceQuery, Name: auth.QueryParam, Value: auth.Key}, nil
}

// obtainCached serves the key from cache when fresh, otherwise coalesces
// concurrent callers into one exchange. Failures are never cached.
func (e *Exchanger) obtainCached(
	ctx context.Context,
	key string,
	exchange func(context.Context) (*Credential, error),
) (*Credential, error) {
	if cred, ok := e.cached(key); ok {
		return cred, nil
	}

	result, err, _ := e.flight.Do(key, func() (any, error) {
		if cred, ok := e.cached(key); ok {
			return cred, nil
		}

		cred, err := e.exchangeWithRetry(ctx, exchange)
		if err != nil {
			return nil, err
		}

		if ttl := e.cacheTTL(cred); ttl > 0 {
			stored := *cred
			stored.ExpiresAt = e.now().Add(ttl)
			e.mu.Lock()
			e.cache[key] = &stored
			e.mu.Unlock()
			return &stored, nil
		}
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Credential), nil
}

func (e *Exchanger) cached(key string) (*Credential, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cred, ok := e.cache[key]
	if !ok {
		return nil, false
	}
	if cred.expired(e.now()) {
		delete(e.cache, key)
		return nil, false
	}
	return cred, true
}

// cacheTTL computes min(ceiling, upstream lifetime - safety buffer). A
// non-positive result means the credential is too short-lived to cache.
func (e *Exchanger) cacheTTL(cred *Credential) time.Duration {
	ttl := e.ttlCeiling
	if !cred.ExpiresAt.IsZero() {
		lifetime := cred.ExpiresAt.Sub(e.now()) - e.safetyBuffer
		if lifetime < ttl {
			ttl = lifetime
		}
	}
	return ttl
}

// exchangeWithRetry runs the exchange with bounded exponential backoff.
// Auth-kind failures are definitive rejections and are never retried.
func (e *Exchanger) exchangeWithRetry(
	ctx context.Context,
	exchange func(context.Context) (*Credential, error),
) (*Credential, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = retryInitialInterval

	operation := func() (*Credential, error) {
		cred, err := exchange(ctx)
		if err != nil {
			if gateway.IsKind(err, gateway.KindAuth) || gateway.IsKind(err, gateway.KindValidation) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return cred, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(e.maxAttempts),
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Debugf("Retrying credential exchange after %v: %v", duration, err)
		}),
	)
}

// clientCredentialsGrant obtains a gateway-owned service credential.
// Caller identity is not propagated.
func (e *Exchanger) clientCredentialsGrant(ctx context.Context, auth *gateway.ServiceIdentityAuth) (*Credential, error) {
	conf := &clientcredentials.Config{
		TokenURL:     auth.TokenURL,
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		Scopes:       auth.Scopes,
	}
	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}

	token, err := conf.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode <= 499 {
			return nil, gateway.NewAuthError("token endpoint rejected the client-credentials grant", err)
		}
		return nil, gateway.NewUpstreamTransientError("client-credentials grant failed", err)
	}

	return &Credential{
		Placement: PlaceBearer,
		Value:     token.AccessToken,
		ExpiresAt: token.Expiry,
	}, nil
}

// delegatedExchange converts the caller's credential into one scoped to
// the source's audience, preserving the caller's identity claims.
func (e *Exchanger) delegatedExchange(
	ctx context.Context,
	auth *gateway.DelegatedIdentityAuth,
	callerCredential string,
) (*Credential, error) {
	resp, err := exchangeToken(ctx, e.httpClient, auth, exchangeRequest{
		SubjectToken: callerCredential,
		Audience:     auth.Audience,
		Scope:        auth.Scopes,
	})
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Placement: PlaceBearer,
		Value:     resp.AccessToken,
	}
	if resp.ExpiresIn > 0 {
		cred.ExpiresAt = e.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return cred, nil
}

// credentialFingerprint derives a cache key component from a caller
// credential without retaining the credential itself.
func credentialFingerprint(callerCredential string) string {
	sum := sha256.Sum256([]byte(callerCredential))
	return hex.EncodeToString(sum[:])
}
