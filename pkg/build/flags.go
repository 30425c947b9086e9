// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata embedded at link time:
//
//	go build -ldflags "-X appmix/pkg/build.buildName=appmix \
//	    -X appmix/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds carry "dev" values and report an error from Initialize.
package build

import "fmt"

// Description is the one-line summary shown by the CLI.
const Description = "Per-application volume, mute and EQ routing"

// Info is the build metadata of the running binary.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String formats the info for --version output.
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Time)
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildInfo    = &Info{
		Name:    "appmix",
		Time:    "dev",
		Commit:  "dev",
		Version: "dev",
	}
)

// Initialize validates and copies build information from ldflags variables.
// It returns an error naming the first missing flag and leaves the
// development defaults in place.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildInfo.Name = buildName
	buildInfo.Time = buildTime
	buildInfo.Commit = buildCommit
	buildInfo.Version = buildVersion
	return nil
}

// GetBuildInfo returns the current build information.
func GetBuildInfo() Info {
	return *buildInfo
}
