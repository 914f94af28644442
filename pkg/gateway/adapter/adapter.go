// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter discovers tool inventories from upstream sources and
// syncs them into the gateway's aggregates.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// DiscoveredTool is one operation reported by a source.
type DiscoveredTool struct {
	// OperationID is the upstream operation identifier; the tool ID is
	// derived from it and stays stable across definition replacements.
	OperationID string `json:"operation_id"`

	Definition gateway.Definition `json:"definition"`
}

// Inventory is the full discovery result for one source.
type Inventory struct {
	Tools []DiscoveredTool `json:"tools"`

	// Fingerprint identifies the inventory content. Two discoveries with
	// equal fingerprints need no inventory update.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// SourceAdapter discovers the callable operations a source exposes.
// Implementations are selected by the source's Kind.
type SourceAdapter interface {
	Discover(ctx context.Context, source *gateway.Source) (*Inventory, error)
}

// FingerprintTools computes a content fingerprint over a discovered tool
// list, canonicalized so key order and whitespace don't matter. Adapters
// whose upstream reports no fingerprint of its own use this.
func FingerprintTools(tools []DiscoveredTool) (string, error) {
	encoded, err := json.Marshal(tools)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
