package mcpr

import (
	"fmt"
	"runtime/debug"
)

// Version is the release of this module, set at build time with
// -ldflags "-X github.com/reallyoldfogie/mc-session-recorder/mcpr.Version=...".
var Version = "0.1.0"

// DefaultGenerator returns the generator string written to metaData.json,
// e.g. "mc-session-recorder v0.1.0 (1a2b3c4)".
func DefaultGenerator() string {
	return fmt.Sprintf("mc-session-recorder v%s (%s)", Version, shortRevision())
}

func shortRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown commit"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return "unknown commit"
}
