package iml

import (
	"fmt"
	"strings"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
)

// FormatCorrectionPrompt turns a PARSE_ERROR or VALIDATION_ERROR into a
// human/LLM-readable message the caller can feed back to the plan's
// originating model, so it can retry with a corrected payload. Shape
// grounded on original_source's CorrectionPromptFormatter tests: a
// "CORRECTION REQUEST" / "END CORRECTION REQUEST" envelope, the error
// kind's label, an optional hint line, and a bulleted list of common
// fixes.
func FormatCorrectionPrompt(err error) string {
	kind, _ := imlerrors.KindOf(err)

	var b strings.Builder
	b.WriteString("=== CORRECTION REQUEST ===\n\n")

	switch kind {
	case imlerrors.ParseError:
		b.WriteString(fmt.Sprintf("JSON syntax error: %s\n\n", err.Error()))
	case imlerrors.ValidationError, imlerrors.DAGCycle:
		b.WriteString(fmt.Sprintf("schema validation error: %s\n\n", err.Error()))
	default:
		b.WriteString(fmt.Sprintf("error: %s\n\n", err.Error()))
	}

	if hint := hintFor(err); hint != "" {
		b.WriteString("ADDITIONAL HINT: " + hint + "\n\n")
	}

	b.WriteString("Common fixes to check:\n")
	for _, fix := range commonFixes {
		b.WriteString("  - " + fix + "\n")
	}

	b.WriteString("\n=== END CORRECTION REQUEST ===\n")
	return b.String()
}

var commonFixes = []string{
	"remove trailing commas after the last item in an object or array",
	"use double quotes (not single quotes) around all strings and keys",
	"ensure protocol_version is the literal string \"2.0\"",
	"ensure every action has a valid on_error value (halt, continue, retry, escalate)",
	"ensure depends_on only names action ids that exist in this same plan",
	"ensure every opening brace or bracket has a matching close",
}

func hintFor(err error) string {
	var e *imlerrors.Error
	if !asErr(err, &e) {
		return ""
	}
	if cyc, ok := e.Detail["cycle"]; ok {
		return fmt.Sprintf("the dependency cycle involves: %v", cyc)
	}
	if raw, ok := e.Detail["raw_payload"]; ok {
		if s, ok := raw.(string); ok && len(s) > 0 {
			return "re-emit the full plan as a single JSON object, not partial output"
		}
	}
	return ""
}

// asErr is a tiny errors.As shim kept local so this file doesn't need to
// import errors.As just for one call site with a concrete *imlerrors.Error
// target type.
func asErr(err error, target **imlerrors.Error) bool {
	e, ok := err.(*imlerrors.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
