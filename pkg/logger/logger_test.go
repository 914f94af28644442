// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	old := Get()
	Set(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { Set(old) })
	return buf
}

func TestStructuredOutput(t *testing.T) { //nolint:paralleltest // swaps the singleton
	buf := captureLogs(t)

	Infow("tool executed", "tool_id", "billing-svc:createInvoice", "outcome", "ok")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tool executed", entry["msg"])
	assert.Equal(t, "billing-svc:createInvoice", entry["tool_id"])
	assert.Equal(t, "ok", entry["outcome"])
}

func TestFormattedLevels(t *testing.T) { //nolint:paralleltest // swaps the singleton
	buf := captureLogs(t)

	Debugf("resolving group %s", "billing")
	Warnf("source %s degraded after %d failures", "billing-svc", 3)
	Errorf("exchange failed: %v", assert.AnError)

	logs := buf.String()
	assert.Contains(t, logs, "resolving group billing")
	assert.Contains(t, logs, "source billing-svc degraded after 3 failures")
	assert.Contains(t, logs, "exchange failed")
}
