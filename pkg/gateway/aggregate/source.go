// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"net/url"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/eventlog"
)

// ReplaySource folds an event stream into source state. Returns nil for an
// empty stream.
func ReplaySource(events []eventlog.StoredEvent) (*gateway.Source, error) {
	var s *gateway.Source
	for _, ev := range events {
		next, err := applySource(s, ev)
		if err != nil {
			return nil, err
		}
		s = next
	}
	return s, nil
}

// applySource is the pure reducer for the Source aggregate.
func applySource(s *gateway.Source, ev eventlog.StoredEvent) (*gateway.Source, error) {
	switch ev.Type {
	case TypeSourceRegistered:
		var p SourceRegistered
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		s = &gateway.Source{
			ID:        p.ID,
			Name:      p.Name,
			BaseURL:   p.BaseURL,
			Kind:      p.Kind,
			TrustMode: p.TrustMode,
			Auth:      p.Auth,
			Health:    gateway.SourceUnknown,
			Enabled:   true,
		}

	case TypeSourceEnabled:
		s.Enabled = true

	case TypeSourceDisabled:
		s.Enabled = false

	case TypeSourceSyncSucceeded:
		var p SourceSyncSucceeded
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		s.LastFingerprint = p.Fingerprint
		s.ConsecutiveFailures = 0
		s.Health = gateway.SourceHealthy

	case TypeSourceSyncFailed:
		s.ConsecutiveFailures++

	case TypeSourceHealthChanged:
		var p SourceHealthChanged
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		s.Health = p.Health
		s.ConsecutiveFailures = p.ConsecutiveFailures

	case TypeSourceHealthReset:
		s.Health = gateway.SourceHealthy
		s.ConsecutiveFailures = 0
	}

	if s != nil {
		s.Version = ev.Version
	}
	return s, nil
}

// RegisterSourceCmd creates a source.
type RegisterSourceCmd struct {
	ID        string
	Name      string
	BaseURL   string
	Kind      string
	TrustMode gateway.TrustMode
	Auth      gateway.AuthConfig
	Actor     string
}

// RegisterSource validates and emits the registration event. state must be
// nil: a source stream can only be created once.
func RegisterSource(state *gateway.Source, cmd RegisterSourceCmd) ([]eventlog.Event, error) {
	if state != nil {
		return nil, gateway.Errorf(gateway.KindValidation, "source %s already registered", state.ID)
	}
	if cmd.Name == "" {
		return nil, gateway.NewValidationError("source name is required", nil)
	}
	if _, err := url.ParseRequestURI(cmd.BaseURL); err != nil {
		return nil, gateway.NewValidationError("source base URL is invalid", err)
	}
	if err := validateTrust(cmd.TrustMode, cmd.Auth); err != nil {
		return nil, err
	}

	ev, err := newEvent(TypeSourceRegistered, SourceRegistered{
		ID:        cmd.ID,
		Name:      cmd.Name,
		BaseURL:   cmd.BaseURL,
		Kind:      cmd.Kind,
		TrustMode: cmd.TrustMode,
		Auth:      cmd.Auth,
	}, cmd.Actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// validateTrust checks that the auth configuration matches the trust mode.
func validateTrust(mode gateway.TrustMode, auth gateway.AuthConfig) error {
	switch mode {
	case gateway.TrustNone:
		return nil
	case gateway.TrustAPIKey:
		k := auth.APIKey
		if k == nil || k.Key == "" {
			return gateway.NewValidationError("api-key trust mode requires a key", nil)
		}
		if (k.Header == "") == (k.QueryParam == "") {
			return gateway.NewValidationError("api-key trust mode requires exactly one of header or query_param", nil)
		}
		return nil
	case gateway.TrustServiceIdentity:
		si := auth.ServiceIdentity
		if si == nil || si.TokenURL == "" || si.ClientID == "" {
			return gateway.NewValidationError("service-identity trust mode requires token_url and client_id", nil)
		}
		return nil
	case gateway.TrustDelegatedIdentity:
		di := auth.DelegatedIdentity
		if di == nil || di.TokenURL == "" || di.Audience == "" {
			return gateway.NewValidationError("delegated-identity trust mode requires token_url and audience", nil)
		}
		return nil
	default:
		return gateway.Errorf(gateway.KindValidation, "unknown trust mode %q", mode)
	}
}

// EnableSource emits source.enabled. Enabling an enabled source is a no-op.
func EnableSource(state *gateway.Source, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("source", "")
	}
	if state.Enabled {
		return nil, nil
	}
	ev, err := newEvent(TypeSourceEnabled, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// DisableSource emits source.disabled. Disabling a disabled source is a
// no-op. The source is soft-disabled, never deleted.
func DisableSource(state *gateway.Source, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("source", "")
	}
	if !state.Enabled {
		return nil, nil
	}
	ev, err := newEvent(TypeSourceDisabled, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// RecordSyncSuccess emits source.sync_succeeded with the new inventory
// fingerprint. The reducer resets the failure counter and marks the source
// healthy.
func RecordSyncSuccess(state *gateway.Source, fingerprint string, toolCount int, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("source", "")
	}
	ev, err := newEvent(TypeSourceSyncSucceeded, SourceSyncSucceeded{
		Fingerprint: fingerprint,
		ToolCount:   toolCount,
	}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// RecordSyncFailure emits source.sync_failed.
func RecordSyncFailure(state *gateway.Source, reason string, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("source", "")
	}
	ev, err := newEvent(TypeSourceSyncFailed, SourceSyncFailed{Reason: reason}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// RecordHealthChange emits source.health_changed for a circuit-breaker
// transition. Emitting the current health is a no-op so concurrent
// executions that observe the same transition don't flood the log.
func RecordHealthChange(state *gateway.Source, health gateway.SourceHealth, failures int, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("source", "")
	}
	if state.Health == health {
		return nil, nil
	}
	ev, err := newEvent(TypeSourceHealthChanged, SourceHealthChanged{
		Health:              health,
		ConsecutiveFailures: failures,
	}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}

// ResetSourceHealth emits source.health_reset, the explicit administrative
// escape hatch for an open circuit.
func ResetSourceHealth(state *gateway.Source, actor string) ([]eventlog.Event, error) {
	if state == nil {
		return nil, gateway.NewNotFoundError("source", "")
	}
	ev, err := newEvent(TypeSourceHealthReset, empty{}, actor)
	if err != nil {
		return nil, err
	}
	return []eventlog.Event{ev}, nil
}
