package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Service is the name reported by health checks and the startup banner
const Service = "pma-monitor"

// Build information that can be set via ldflags during build
var (
	// Version is the release being run
	Version = "dev"

	// GitCommit is the git commit hash this binary was built from
	GitCommit = "unknown"

	// BuildDate is the date this binary was built
	BuildDate = "unknown"
)

// BuildInfo contains all build-related information
type BuildInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// commit prefers the ldflags value and falls back to the VCS stamp the Go
// toolchain embeds
func commit() string {
	if GitCommit != "unknown" && GitCommit != "" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return "unknown"
}

// GetVersion returns the release, or dev-<short commit> for local builds
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	c := commit()
	if len(c) > 8 {
		c = c[:8]
	}
	return "dev-" + c
}

// GetFullVersion returns a detailed version string
func GetFullVersion() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)",
		Service, GetVersion(), commit(), BuildDate, runtime.Version())
}

// GetBuildInfo returns all build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Service:   Service,
		Version:   GetVersion(),
		GitCommit: commit(),
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}
