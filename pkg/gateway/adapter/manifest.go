// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toolgate/toolgate/pkg/gateway"
)

const (
	// KindManifest selects the manifest adapter for a source.
	KindManifest = "manifest"

	// manifestPath is the well-known location of a source's tool manifest.
	manifestPath = "/.well-known/toolgate.json"

	// manifestTimeout bounds one manifest fetch.
	manifestTimeout = 30 * time.Second

	// maxManifestSize caps how much manifest is read (4 MB).
	maxManifestSize = 4 << 20
)

// ManifestAdapter discovers tools from a JSON manifest the source serves
// at a well-known path. The manifest body is an Inventory document; a
// missing fingerprint is computed over the canonicalized tool list.
type ManifestAdapter struct {
	client *http.Client
}

// NewManifestAdapter creates a manifest adapter. client nil uses a
// default with the manifest timeout.
func NewManifestAdapter(client *http.Client) *ManifestAdapter {
	if client == nil {
		client = &http.Client{Timeout: manifestTimeout}
	}
	return &ManifestAdapter{client: client}
}

var _ SourceAdapter = (*ManifestAdapter)(nil)

// Discover fetches and decodes the source's tool manifest.
func (a *ManifestAdapter) Discover(ctx context.Context, source *gateway.Source) (*Inventory, error) {
	target := strings.TrimSuffix(source.BaseURL, "/") + manifestPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building manifest request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, gateway.NewUpstreamTransientError(
			fmt.Sprintf("fetching manifest from source %s", source.Name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, gateway.NewUpstreamRejectedError(
			fmt.Sprintf("source %s returned status %d for its manifest", source.Name, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, gateway.NewUpstreamTransientError("reading manifest", err)
	}

	var inv Inventory
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, gateway.NewUpstreamRejectedError(
			fmt.Sprintf("source %s serves an invalid manifest", source.Name), err)
	}

	if inv.Fingerprint == "" {
		inv.Fingerprint, err = FingerprintTools(inv.Tools)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting inventory: %w", err)
		}
	}
	return &inv, nil
}
