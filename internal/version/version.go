// Package version reports the build version of the webhost binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/josystem/webhost/internal/version.Version=v1.2.3 \
//	                   -X github.com/josystem/webhost/internal/version.Commit=abc123"
//
// Unset values are filled from VCS build info, then from "dev-<date>".
var (
	Version = ""
	Commit  = ""
	// BuildTime is the VCS commit time when known.
	BuildTime = ""
)

func init() {
	if Version == "" || Commit == "" || BuildTime == "" {
		fromBuildInfo()
	}
	if Version == "" {
		Version = "dev-" + time.Now().Format("20060102-150405")
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	if Commit == "" {
		if rev := settings["vcs.revision"]; rev != "" {
			Commit = shortRevision(rev, settings["vcs.modified"] == "true")
		}
	}

	vcsTime, err := time.Parse(time.RFC3339, settings["vcs.time"])
	if err != nil {
		return
	}
	if BuildTime == "" {
		BuildTime = vcsTime.UTC().Format(time.RFC3339)
	}
	if Version == "" {
		// Module builds carry a real version; VCS builds only a date.
		if v := info.Main.Version; v != "" && v != "(devel)" {
			Version = v
		} else {
			Version = "dev-" + vcsTime.Format("20060102")
		}
	}
}

func shortRevision(rev string, dirty bool) string {
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// Short returns just the version.
func Short() string {
	return Version
}

// Full returns the version with its commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Info is the version as structured data for JSON output.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the current Info.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
