// Package template implements the Template Resolver: interpolation of
// {{result.X.Y}}, {{memory.K}}, {{env.V}}, and (for trigger-spawned plans)
// {{trigger.*}} placeholders inside action params. Grounded on spec.md
// §4.2 and original_source's tests/unit/protocol/test_template.py, which
// pins the exact semantics: whole-string templates preserve the resolved
// value's type, embedded templates are string-coerced and spliced, and
// resolution is single-pass (a resolved value is not rescanned).
package template

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
)

var wholeTemplateRe = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
var anyTemplateRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolver resolves template placeholders against a fixed set of scopes for
// one action dispatch. A fresh Resolver (or at least a current
// ExecutionResults map) is expected per action, since ExecutionResults
// grows as a plan runs.
type Resolver struct {
	ExecutionResults map[string]any
	Memory           MemoryStore
	AllowEnv         bool
	Trigger          map[string]any // {{trigger.*}} scope; nil outside trigger-spawned plans
}

// MemoryStore is the key-value collaborator behind {{memory.K}}.
type MemoryStore interface {
	Get(key string) (value any, ok bool)
}

// MapMemoryStore is a trivial in-process MemoryStore, used in tests and as
// a default when no external store is wired.
type MapMemoryStore map[string]any

func (m MapMemoryStore) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Resolve walks params recursively (maps, slices, strings) and returns a
// new tree with every placeholder resolved. Resolution order is
// unspecified across sibling keys but deterministic for a given input
// since it is a pure tree walk.
func (r *Resolver) Resolve(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := r.resolveValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *Resolver) resolveValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.resolveString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			resolved, err := r.resolveValue(nested)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			resolved, err := r.resolveValue(nested)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString applies the "whole string ⇒ type-preserving" vs "embedded
// ⇒ string-coerced splice" rule.
func (r *Resolver) resolveString(s string) (any, error) {
	if m := wholeTemplateRe.FindStringSubmatch(s); m != nil {
		return r.resolveExpr(m[1])
	}

	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var resolveErr error
	out := anyTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		sub := wholeTemplateRe.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		val, err := r.resolveExpr(sub[1])
		if err != nil {
			resolveErr = err
			return match
		}
		return coerceToString(val)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

// resolveExpr dispatches on the placeholder's scope prefix.
func (r *Resolver) resolveExpr(expr string) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	scope := parts[0]
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch scope {
	case "result":
		return r.resolveResult(rest)
	case "memory":
		return r.resolveMemory(rest)
	case "env":
		return r.resolveEnv(rest)
	case "trigger":
		return r.resolveTrigger(rest)
	default:
		return nil, templateErr(fmt.Sprintf("Unknown template prefix %q", scope))
	}
}

func (r *Resolver) resolveResult(rest string) (any, error) {
	if rest == "" {
		return nil, templateErr("{{result.*}} requires an action id")
	}
	actionID, field, hasField := strings.Cut(rest, ".")

	result, ok := r.ExecutionResults[actionID]
	if !ok {
		return nil, templateErr(fmt.Sprintf("action %q has not produced a result", actionID))
	}
	if !hasField {
		return result, nil
	}

	obj, ok := result.(map[string]any)
	if !ok {
		return nil, templateErr(fmt.Sprintf("action %q result has no field %q (result is not an object)", actionID, field))
	}
	val, ok := obj[field]
	if !ok {
		return nil, templateErr(fmt.Sprintf("action %q result has no field %q", actionID, field))
	}
	return val, nil
}

func (r *Resolver) resolveMemory(key string) (any, error) {
	if key == "" {
		return nil, templateErr("{{memory.*}} requires a key")
	}
	if r.Memory == nil {
		return nil, templateErr(fmt.Sprintf("Memory key %q not found (no memory store configured)", key))
	}
	val, ok := r.Memory.Get(key)
	if !ok {
		return nil, templateErr(fmt.Sprintf("Memory key %q not found", key))
	}
	return val, nil
}

func (r *Resolver) resolveEnv(name string) (any, error) {
	if !r.AllowEnv {
		return nil, templateErr("environment variable templates are disabled by the active permission profile")
	}
	if name == "" {
		return nil, templateErr("{{env.*}} requires a variable name")
	}
	val, ok := os.LookupEnv(name)
	if !ok {
		return nil, templateErr(fmt.Sprintf("environment variable %q is not set", name))
	}
	return val, nil
}

func (r *Resolver) resolveTrigger(rest string) (any, error) {
	if r.Trigger == nil {
		return nil, templateErr("{{trigger.*}} is only available for trigger-spawned plans")
	}
	if rest == "" {
		return nil, templateErr("{{trigger.*}} requires a key")
	}
	path, field, hasField := strings.Cut(rest, ".")
	val, ok := r.Trigger[path]
	if !ok {
		return nil, templateErr(fmt.Sprintf("trigger context has no key %q", path))
	}
	if !hasField {
		return val, nil
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, templateErr(fmt.Sprintf("trigger context key %q has no field %q", path, field))
	}
	nested, ok := obj[field]
	if !ok {
		return nil, templateErr(fmt.Sprintf("trigger context key %q has no field %q", path, field))
	}
	return nested, nil
}

func coerceToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func templateErr(msg string) error {
	return imlerrors.New(imlerrors.TemplateError, msg)
}
