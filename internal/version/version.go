// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// set via -ldflags "-X github.com/archetype-dev/archetype/internal/version.version=..."
var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitBranch string `json:"git_branch,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`

	GoVersion string `json:"go_version"`
	GoOS      string `json:"go_os"`
	GoArch    string `json:"go_arch"`
}

// Info returns the build information of the running binary
func Info() VersionInfo {
	v := version
	if v == "" {
		v = "dev"
	}
	return VersionInfo{
		Version:   v,
		BuildTime: buildTime,
		GitBranch: gitBranch,
		GitCommit: gitCommit,

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}

func (v VersionInfo) String() string {
	if v.GitCommit == "" {
		return fmt.Sprintf("%s (%s %s/%s)", v.Version, v.GoVersion, v.GoOS, v.GoArch)
	}
	return fmt.Sprintf("%s-%s (%s %s/%s)", v.Version, v.GitCommit, v.GoVersion, v.GoOS, v.GoArch)
}
