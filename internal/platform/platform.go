// Package platform identifies the OS and architecture an update must target.
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Platform describes the current system platform.
type Platform struct {
	OS   string // Operating system (darwin, linux, windows)
	Arch string // Architecture (amd64, arm64)
}

// Detect returns the current platform.
func Detect() Platform {
	return Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
}

// String returns "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// ArtifactName returns the conventional artifact name for an application on
// this platform, e.g. "keel-darwin-arm64".
func (p Platform) ArtifactName(app string) string {
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(app), p.OS, p.Arch)
}

// Matches reports whether an item restricted to os and arch applies to p.
// Empty restrictions match anything.
func (p Platform) Matches(os, arch string) bool {
	if os != "" && !strings.EqualFold(os, p.OS) {
		return false
	}
	if arch != "" && !strings.EqualFold(arch, p.Arch) {
		return false
	}
	return true
}

// IsSupported returns true if self-update is supported on this platform.
func (p Platform) IsSupported() bool {
	supportedPlatforms := map[string][]string{
		"darwin": {"amd64", "arm64"},
		"linux":  {"amd64", "arm64"},
	}

	archs, ok := supportedPlatforms[p.OS]
	if !ok {
		return false
	}

	for _, arch := range archs {
		if p.Arch == arch {
			return true
		}
	}

	return false
}
