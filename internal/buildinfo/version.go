// Package buildinfo exposes the daemon's version derived from build
// metadata. Grounded on the teacher's pkg/version (Go 1.18+'s
// runtime/debug.BuildInfo embeds VCS info with no -ldflags required),
// renamed from the teacher's single chat-server identity to this
// daemon's and extended with a dirty-tree marker: llmosd runs as a
// long-lived local daemon rather than a request/response server, so its
// /health response and startup log line are often the only way an
// operator finds out a build came from an uncommitted tree.
package buildinfo

import "runtime/debug"

// AppName identifies this daemon in version strings and log lines.
const AppName = "llmosd"

// shortCommitLength is how many hex characters of the full VCS revision
// Full() and GitCommit surface — enough to disambiguate commits in a log
// line without making it unwieldy.
const shortCommitLength = 8

// GitCommit is the short git commit hash (shortCommitLength chars) from
// build info, or "dev" when build info is unavailable (e.g. `go test`,
// non-git builds).
var GitCommit = initGitCommit()

// dirty records whether the working tree had uncommitted changes at build
// time (runtime/debug's "vcs.modified" setting).
var dirty = initDirty()

func initGitCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > shortCommitLength {
				return s.Value[:shortCommitLength]
			}
			return s.Value
		}
	}
	return "dev"
}

func initDirty() bool {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return false
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.modified" {
			return s.Value == "true"
		}
	}
	return false
}

// Full returns "llmosd/<commit>" for use in logging and the health
// endpoint, with a "-dirty" suffix when the build came from a working
// tree with uncommitted changes.
func Full() string {
	if dirty {
		return AppName + "/" + GitCommit + "-dirty"
	}
	return AppName + "/" + GitCommit
}
