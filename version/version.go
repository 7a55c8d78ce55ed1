// Package version exposes the service build version.
// Variables can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/ringlet-ai/ringlet/version.version=1.0.0"
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	// devVersion is the default version when not set via ldflags.
	devVersion = "dev"
	// shortCommitLen is the length of the short commit hash.
	shortCommitLen = 7
	// vcsRevisionKey is the build info key for the git commit.
	vcsRevisionKey = "vcs.revision"
	// vcsModifiedKey is the build info key for dirty state.
	vcsModifiedKey = "vcs.modified"
)

// Build-time variables, overridable with -ldflags.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// Version returns the current version string, falling back to module build
// info when no version was linked in.
func Version() string {
	if version != devVersion {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return devVersion
}

func commitFromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == vcsRevisionKey && setting.Value != "" {
			return setting.Value[:min(shortCommitLen, len(setting.Value))]
		}
	}
	return ""
}

func isDirtyFromBuildInfo() bool {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return false
	}
	for _, setting := range info.Settings {
		if setting.Key == vcsModifiedKey && setting.Value == "true" {
			return true
		}
	}
	return false
}

// Info returns a human-readable version description.
func Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ringlet version %s", Version())

	commit := gitCommit
	if commit == "" {
		commit = commitFromBuildInfo()
	}
	if commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", commit)
	}
	if buildDate != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", buildDate)
	}
	return b.String()
}

// BuildInfo returns version details as structured log attributes.
func BuildInfo() []any {
	attrs := []any{"version", Version()}

	commit := gitCommit
	if commit == "" {
		commit = commitFromBuildInfo()
	}
	if commit != "" {
		attrs = append(attrs, "commit", commit)
	}
	if gitCommit == "" && isDirtyFromBuildInfo() {
		attrs = append(attrs, "dirty", true)
	}
	if buildDate != "" {
		attrs = append(attrs, "built", buildDate)
	}
	return attrs
}
