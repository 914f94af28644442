// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package versions

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) { //nolint:paralleltest // mutates package globals
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
	})

	tests := []struct {
		name          string
		version       string
		commit        string
		buildDate     string
		wantVersion   string
		wantBuildDate string
	}{
		{
			name:    "dev build with unknown commit",
			version: "dev", commit: unknownStr, buildDate: unknownStr,
			wantVersion:   "build-" + unknownStr,
			wantBuildDate: unknownStr,
		},
		{
			name:    "dev build truncates commit to 8 chars",
			version: "dev", commit: "abc123def456789", buildDate: unknownStr,
			wantVersion:   "build-abc123de",
			wantBuildDate: unknownStr,
		},
		{
			name:    "release version reformats date",
			version: "v1.2.3", commit: "abc123def456789", buildDate: "2026-01-15T10:30:00Z",
			wantVersion:   "v1.2.3",
			wantBuildDate: "2026-01-15 10:30:00 UTC",
		},
		{
			name:    "unparseable date passes through",
			version: "v2.0.0", commit: "def456", buildDate: "not-a-date",
			wantVersion:   "v2.0.0",
			wantBuildDate: "not-a-date",
		},
		{
			name:    "short commit used in full",
			version: "dev", commit: "short", buildDate: unknownStr,
			wantVersion:   "build-short",
			wantBuildDate: unknownStr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version, Commit, BuildDate = tt.version, tt.commit, tt.buildDate

			info := GetVersionInfo()
			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.commit, info.Commit)
			assert.Equal(t, tt.wantBuildDate, info.BuildDate)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Equal(t, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), info.Platform)
		})
	}
}
