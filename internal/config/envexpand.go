package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}. Grounded on
// pkg/config/envexpand.go's ExpandEnv, extended with the shell-style
// default-value fallback the teacher's plain os.ExpandEnv doesn't support
// (a daemon config needs e.g. `${LLMOS_BIND_ADDR:-127.0.0.1:8765}` so a
// deployment doesn't have to set every variable explicitly).
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv expands ${VAR} and ${VAR:-default} references in data. A bare
// $VAR (no braces) is expanded via the standard library the way the
// teacher's loader does, since the ${...:-...} fallback syntax has no
// unambiguous unbraced form.
func ExpandEnv(data []byte) []byte {
	braced := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if hasDefault {
			return def
		}
		return ""
	})
	return []byte(os.Expand(braced, func(name string) string {
		return os.Getenv(name)
	}))
}
