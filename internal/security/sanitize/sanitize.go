// Package sanitize implements the Output Sanitiser: the layer action
// results pass through before they're returned to the LLM as a result or
// spliced into a later action's params via {{result.X.Y}}. It defends
// against prompt injection carried in file contents or API responses, not
// against malicious plans themselves (that's internal/security/scanner).
package sanitize

import (
	"fmt"
	"log/slog"
	"regexp"

	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMaxStringLen = 50_000
	DefaultMaxDepth     = 10
	DefaultMaxListItems = 1_000
)

// injectionPatterns mirrors original_source's sanitizer.py _INJECTION_PATTERNS
// list exactly, pattern for pattern.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|prior|earlier)\s+instructions?`),
	regexp.MustCompile(`(?i)ignore\s+all\s+(?:previous|prior|earlier\s+)?instructions?`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are\s+now`),
	regexp.MustCompile(`(?i)<\s*INST\s*>`),
	regexp.MustCompile(`(?i)\[SYSTEM\]`),
	regexp.MustCompile(`(?i)act\s+as\s+if\s+you\s+(are|were)`),
	regexp.MustCompile(`(?i)disregard\s+your\s+(previous|prior|earlier)\s+instructions?`),
	regexp.MustCompile(`(?i)your\s+new\s+instructions?\s+are`),
}

// binaryKeys are param/result keys whose string values are base64-encoded
// binary payloads: sanitising (let alone truncating) them would corrupt the
// encoding, so they pass through untouched.
var binaryKeys = map[string]bool{
	"screenshot_b64":      true,
	"labeled_image_b64":   true,
	"image_b64":           true,
	"annotated_image_b64": true,
	"image_base64":        true,
	"data_b64":            true,
}

// Sanitizer cleans action output before it re-enters the LLM's context.
type Sanitizer struct {
	maxStringLen  int
	maxDepth      int
	maxListItems  int
	injectionScan bool
}

type Option func(*Sanitizer)

func WithMaxStringLen(n int) Option   { return func(s *Sanitizer) { s.maxStringLen = n } }
func WithMaxDepth(n int) Option       { return func(s *Sanitizer) { s.maxDepth = n } }
func WithMaxListItems(n int) Option   { return func(s *Sanitizer) { s.maxListItems = n } }
func WithInjectionScan(v bool) Option { return func(s *Sanitizer) { s.injectionScan = v } }

func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{
		maxStringLen:  DefaultMaxStringLen,
		maxDepth:      DefaultMaxDepth,
		maxListItems:  DefaultMaxListItems,
		injectionScan: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize recursively cleans output and returns the cleaned value. The
// shape of output (string / map[string]any / []any / anything else) is
// preserved; only strings are rewritten, lists are length-capped, and maps
// are depth-capped.
func (s *Sanitizer) Sanitize(output any, module, action string) any {
	return s.clean(output, 0, module, action)
}

func (s *Sanitizer) clean(value any, depth int, module, action string) any {
	if depth > s.maxDepth {
		slog.Warn("sanitizer: max depth exceeded", "module", module, "action", action, "max_depth", s.maxDepth)
		return "[TRUNCATED: max depth exceeded]"
	}

	switch v := value.(type) {
	case string:
		return s.cleanString(v, module, action)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if str, ok := val.(string); ok && binaryKeys[k] {
				out[k] = str
				continue
			}
			out[k] = s.clean(val, depth+1, module, action)
		}
		return out
	case []any:
		if len(v) > s.maxListItems {
			slog.Warn("sanitizer: list truncated", "original_len", len(v), "max_len", s.maxListItems)
			v = v[:s.maxListItems]
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.clean(item, depth+1, module, action)
		}
		return out
	default:
		return value
	}
}

func (s *Sanitizer) cleanString(value, module, action string) string {
	// 1. Normalise Unicode (NFKC) to collapse compatibility characters and
	// defend against homoglyph tricks.
	value = norm.NFKC.String(value)

	// 2. Scan for injection patterns and redact in place — we still want
	// the LLM to know the content existed, just not to be able to act on
	// an embedded instruction.
	if s.injectionScan {
		for _, pattern := range injectionPatterns {
			if pattern.MatchString(value) {
				slog.Warn("sanitizer: injection pattern detected", "module", module, "action", action, "pattern", pattern.String())
				value = pattern.ReplaceAllString(value, "[REDACTED:injection-pattern]")
			}
		}
	}

	// 3. Truncate excessively long strings.
	if len(value) > s.maxStringLen {
		omitted := len(value) - s.maxStringLen
		slog.Warn("sanitizer: string truncated", "original_len", len(value), "max_len", s.maxStringLen)
		value = value[:s.maxStringLen] + fmt.Sprintf("\n[TRUNCATED: %d chars omitted]", omitted)
	}

	return value
}
