// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Fingerprint computes a stable identifier for a claim set: the SHA-256 of
// its JCS (RFC 8785) canonical JSON form. Equal claim sets fingerprint
// identically regardless of key order or how the token serialized them.
func Fingerprint(claims Claims) (string, error) {
	raw, err := json.Marshal(map[string]any(claims))
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing claims: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
