// Package version resolves the build identity stamped into startup logs,
// the health endpoint, and outbound request headers.
//
// Resolution order: -ldflags -X override, then debug.ReadBuildInfo VCS
// settings, then "dev". Builds from a modified tree carry a "-dirty" suffix.
package version

import "runtime/debug"

// AppName identifies this binary in version strings and request headers.
const AppName = "conductor"

// commitOverride is injected with
// -ldflags "-X github.com/DistilledAI/conductor/pkg/version.commitOverride=...".
// Container builds use it because their build context has no .git directory.
var commitOverride string

// GitCommit is the short commit hash of this build, "dev" when unknown,
// with "-dirty" appended when the tree had uncommitted changes.
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	commit := ""
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = short(s.Value)
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return "dev"
	}
	if dirty {
		return commit + "-dirty"
	}
	return commit
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "conductor/<commit>", the form logged at startup, reported by
// the health endpoint, and sent as the User-Agent on outbound requests.
func Full() string {
	return AppName + "/" + GitCommit
}
