package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/sensorhub/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/sensorhub/internal/version.Commit=abc123"
var (
	Version = ""
	Commit  = ""
)

// fallbackVersion is what display units see when the binary was built
// without ldflags or VCS stamping.
const fallbackVersion = "1.0.0-dev"

func init() {
	if Version == "" || Commit == "" {
		fromBuildInfo()
	}
	if Version == "" {
		Version = fallbackVersion
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fromBuildInfo fills in missing values from the module and VCS stamps
func fromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if Commit == "" && revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		if dirty {
			revision += "-dirty"
		}
		Commit = revision
	}
}

// Full returns the version with its commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}
