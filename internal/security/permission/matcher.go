package permission

import (
	"path"

	"github.com/llmos-bridge/daemon/internal/model"
)

// IsAllowed reports whether module.action is permitted under profile: denied
// patterns win over allowed patterns, matching original_source's
// PermissionProfileConfig.is_allowed deny-then-allow order.
//
// Patterns use shell-style globbing (e.g. "excel.*", "*.*") over the whole
// "module.action" string, the same semantics as Python's fnmatch.fnmatch.
// path.Match gives identical behaviour here since none of these keys ever
// contain '/', the one character path.Match treats specially.
func IsAllowed(profile *model.PermissionProfile, module, action string) bool {
	key := module + "." + action
	for _, pattern := range profile.DeniedPatterns {
		if matched, _ := path.Match(pattern, key); matched {
			return false
		}
	}
	for _, pattern := range profile.AllowedPatterns {
		if matched, _ := path.Match(pattern, key); matched {
			return true
		}
	}
	return false
}
