// Package iml implements the Protocol component: parsing raw LLM output
// into an IMLPlan (with auto-repair of near-miss JSON), semantic
// validation, and a correction-prompt formatter that turns a parse or
// validation failure back into LLM-consumable guidance. Grounded on
// original_source's protocol/parser.py (deserialise → validate → per-action
// param validation) and protocol/validator.py (DAG/template/rollback
// checks), reworked in the teacher's config-loader idiom (layered checks,
// sentinel+wrapped errors — see pkg/config/validator.go).
package iml

import (
	"encoding/json"
	"fmt"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

// NewParseError builds a PARSE_ERROR, truncating the offending payload to
// 500 bytes the way the original parser does (raw_payload=raw[:500]) so
// error responses don't balloon on pathological input.
func NewParseError(message, rawPayload string) *imlerrors.Error {
	truncated := rawPayload
	if len(truncated) > 500 {
		truncated = truncated[:500]
	}
	return imlerrors.New(imlerrors.ParseError, message).WithDetail("raw_payload", truncated)
}

// ParamSchemaLookup resolves a module's declared action param schema, if
// the module is registered and has published a manifest. A nil return
// (ok=false) is not an error at parse time — per spec.md §4.1, unknown
// module/action is deferred to dispatch since the registry may have been
// filtered by platform.
type ParamSchemaLookup func(module, action string) (spec *model.ActionSpec, ok bool)

// Parser turns raw LLM output into a validated IMLPlan.
type Parser struct {
	schemaLookup ParamSchemaLookup
}

// NewParser builds a Parser. schemaLookup may be nil if no module registry
// is wired yet (schema checks are then skipped).
func NewParser(schemaLookup ParamSchemaLookup) *Parser {
	return &Parser{schemaLookup: schemaLookup}
}

// Parse accepts a UTF-8 string, raw bytes, or an already-decoded mapping
// and returns a semantically validated IMLPlan.
func Parse(p *Parser, input any) (*model.IMLPlan, error) {
	raw, err := deserialise(input)
	if err != nil {
		return nil, err
	}

	plan, err := decodePlan(raw)
	if err != nil {
		return nil, err
	}

	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}

	if p != nil && p.schemaLookup != nil {
		if err := validateActionParams(plan, p.schemaLookup); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// deserialise normalises any of the three accepted input shapes down to a
// raw JSON-decodable map, repairing near-miss JSON text as a fallback.
func deserialise(input any) (map[string]any, error) {
	switch v := input.(type) {
	case map[string]any:
		return v, nil
	case []byte:
		return decodeOrRepair(string(v))
	case string:
		return decodeOrRepair(v)
	default:
		return nil, imlerrors.New(imlerrors.ParseError, fmt.Sprintf("unsupported input type %T for IML plan", input))
	}
}

func decodeOrRepair(text string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err == nil {
		return m, nil
	}

	result, err := Repair(text)
	if err != nil {
		return nil, err
	}
	m, ok := result.Parsed.(map[string]any)
	if !ok {
		return nil, NewParseError("repaired JSON did not decode to an object", text)
	}
	return m, nil
}

// decodePlan round-trips the raw map through encoding/json into the typed
// IMLPlan struct, converting field/type errors into VALIDATION_ERROR.
func decodePlan(raw map[string]any) (*model.IMLPlan, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, imlerrors.Wrap(imlerrors.ParseError, "failed to re-encode decoded payload", err)
	}
	var plan model.IMLPlan
	if err := json.Unmarshal(encoded, &plan); err != nil {
		return nil, imlerrors.Wrap(imlerrors.ValidationError, "plan does not match the IML schema", err)
	}
	return &plan, nil
}

func validateActionParams(plan *model.IMLPlan, lookup ParamSchemaLookup) error {
	for _, a := range plan.Actions {
		spec, ok := lookup(a.Module, a.Action)
		if !ok || spec == nil || spec.ParamsSchema == nil {
			continue // deferred to dispatch, per spec.md §4.1
		}
		if err := checkRequiredParams(a, spec); err != nil {
			return err
		}
	}
	return nil
}

// checkRequiredParams enforces a minimal "required" contract from a JSON
// schema fragment: {"required": ["a","b"]}. Full JSON-schema validation is
// a module collaborator concern; the core only checks what it must to
// fail fast on obviously incomplete params.
func checkRequiredParams(a model.IMLAction, spec *model.ActionSpec) error {
	reqAny, ok := spec.ParamsSchema["required"]
	if !ok {
		return nil
	}
	reqList, ok := reqAny.([]any)
	if !ok {
		return nil
	}
	for _, r := range reqList {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := a.Params[name]; !present {
			return imlerrors.New(imlerrors.ValidationError,
				fmt.Sprintf("action %q (%s): missing required param %q", a.ID, a.Key(), name))
		}
	}
	return nil
}
