package core

import (
	"runtime/debug"
	"strings"
)

// Version is the host version, derived from build info at startup.
// Tagged releases report the module version; local builds report
// "devel-<short revision>" with "-dirty" for uncommitted changes.
var Version = versionFromBuildInfo(debug.ReadBuildInfo)

func versionFromBuildInfo(read func() (*debug.BuildInfo, bool)) string {
	info, ok := read()
	if !ok {
		// Binaries built without module support carry no build info
		return "devel"
	}

	// Use module version for tagged releases (set by go install or goreleaser).
	// Skip pseudo-versions (local builds in Go 1.24+), VCS info is better.
	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		return v
	}

	// Fall back to VCS info for local builds
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return "devel"
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}

	v := "devel-" + revision
	if dirty {
		v += "-dirty"
	}
	return v
}

// FormatVersion formats the version string for display.
// Tagged releases have the "v" prefix stripped; devel versions pass through as-is.
// Input/output examples:
//   - "v1.2.0" → "1.2.0"
//   - "devel-ad721b3" → "devel-ad721b3"
//   - "devel-ad721b3-dirty" → "devel-ad721b3-dirty"
//   - "devel" → "devel"
func FormatVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// isPseudoVersion reports whether v ends in a 12-character commit hash,
// e.g. v0.0.0-20260217105831-82903d1d8810.
func isPseudoVersion(v string) bool {
	// Strip build metadata (+dirty, +incompatible, etc.)
	v, _, _ = strings.Cut(v, "+")
	i := strings.LastIndex(v, "-")
	if i < 0 || len(v)-i-1 != 12 {
		return false
	}
	return strings.Trim(v[i+1:], "0123456789abcdef") == ""
}
