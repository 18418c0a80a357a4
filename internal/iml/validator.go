package iml

import (
	"fmt"
	"regexp"
	"sort"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

var templateResultRe = regexp.MustCompile(`\{\{\s*result\.([A-Za-z0-9_\-]+)(?:\.[A-Za-z0-9_\-]+)?\s*\}\}`)

// ValidatePlan runs the semantic checks spec.md §4.1/§4.3 require before a
// plan may be scheduled: protocol version, unique IDs, depends_on targets
// exist, no self-dependency, DAG acyclicity, template references resolve
// to real actions, rollback chains have no cycles, and execution_mode is a
// known mode. No further per-mode structural constraint is checked.
func ValidatePlan(plan *model.IMLPlan) error {
	if plan.ProtocolVersion != model.ProtocolVersion {
		return imlerrors.New(imlerrors.ValidationError,
			fmt.Sprintf("unsupported protocol_version %q, expected %q", plan.ProtocolVersion, model.ProtocolVersion))
	}
	if !plan.ExecutionMode.Valid() {
		return imlerrors.New(imlerrors.ValidationError, fmt.Sprintf("invalid execution_mode %q", plan.ExecutionMode))
	}

	ids := make(map[string]struct{}, len(plan.Actions))
	for _, a := range plan.Actions {
		if a.ID == "" {
			return imlerrors.New(imlerrors.ValidationError, "action with empty id")
		}
		if _, dup := ids[a.ID]; dup {
			return imlerrors.New(imlerrors.ValidationError, fmt.Sprintf("duplicate action id %q", a.ID))
		}
		ids[a.ID] = struct{}{}
		if a.OnError != "" && !a.OnError.Valid() {
			return imlerrors.New(imlerrors.ValidationError, fmt.Sprintf("action %q: invalid on_error %q", a.ID, a.OnError))
		}
	}

	for _, a := range plan.Actions {
		for _, dep := range a.DependsOn {
			if dep == a.ID {
				return imlerrors.New(imlerrors.ValidationError, fmt.Sprintf("action %q depends on itself", a.ID))
			}
			if _, ok := ids[dep]; !ok {
				return imlerrors.New(imlerrors.ValidationError,
					fmt.Sprintf("action %q depends_on unknown action %q", a.ID, dep))
			}
		}
	}

	if cycle, ok := findDependencyCycle(plan); ok {
		return imlerrors.New(imlerrors.DAGCycle, "dependency cycle detected").WithDetail("cycle", cycle)
	}

	if err := validateTemplateReferences(plan, ids); err != nil {
		return err
	}

	if err := validateRollbackAcyclic(plan); err != nil {
		return err
	}

	// REACTIVE's "at least one trigger binding" constraint (spec.md line
	// 101) is established by the Trigger Subsystem's own dispatch step —
	// Propagator.Bind, keyed by the generated plan_id, after instantiation
	// (spec.md §4.14 step 5) — not by a field on the plan itself. Formal
	// per-mode structural constraints are deferred; see
	// _examples/original_source's validator, where the reactive-mode check
	// is a no-op for the same reason.

	return nil
}

// CheckActionCount enforces profile.max_plan_actions. Split out from
// ValidatePlan because it depends on a PermissionProfile, which the
// Protocol layer does not itself know about (the Permission Guard owns
// that check at preflight) — callers that have both a plan and a profile
// should call this too.
func CheckActionCount(plan *model.IMLPlan, maxPlanActions int) error {
	if len(plan.Actions) > maxPlanActions {
		return imlerrors.New(imlerrors.PermissionDenied,
			fmt.Sprintf("plan has %d actions, exceeds profile limit of %d", len(plan.Actions), maxPlanActions))
	}
	return nil
}

func findDependencyCycle(plan *model.IMLPlan) ([]string, bool) {
	adj := make(map[string][]string, len(plan.Actions))
	for _, a := range plan.Actions {
		adj[a.ID] = append([]string{}, a.DependsOn...)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(plan.Actions))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)
		for _, dep := range adj[id] {
			switch color[dep] {
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			case gray:
				// found the back-edge; slice path from dep's first occurrence
				for i, p := range path {
					if p == dep {
						cyc := append([]string{}, path[i:]...)
						cyc = append(cyc, dep)
						return cyc
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	ordered := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		ordered = append(ordered, a.ID)
	}
	sort.Strings(ordered)

	for _, id := range ordered {
		if color[id] == white {
			if cyc := visit(id); cyc != nil {
				return cyc, true
			}
		}
	}
	return nil, false
}

func validateTemplateReferences(plan *model.IMLPlan, ids map[string]struct{}) error {
	var walk func(v any, actionID string) error
	walk = func(v any, actionID string) error {
		switch val := v.(type) {
		case string:
			for _, m := range templateResultRe.FindAllStringSubmatch(val, -1) {
				ref := m[1]
				if _, ok := ids[ref]; !ok {
					return imlerrors.New(imlerrors.ValidationError,
						fmt.Sprintf("action %q: template references unknown action %q", actionID, ref))
				}
			}
		case map[string]any:
			for _, nested := range val {
				if err := walk(nested, actionID); err != nil {
					return err
				}
			}
		case []any:
			for _, nested := range val {
				if err := walk(nested, actionID); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, a := range plan.Actions {
		if err := walk(a.Params, a.ID); err != nil {
			return err
		}
	}
	return nil
}

// validateRollbackAcyclic rejects the "A rolls back to B rolls back to A"
// case. Rollback fragments are IMLAction-shaped but not registered in the
// plan's own ID space, so the cycle check follows the rollback.ID chain
// independently per action.
func validateRollbackAcyclic(plan *model.IMLPlan) error {
	for _, a := range plan.Actions {
		seen := map[string]struct{}{a.ID: {}}
		cur := a.Rollback
		for cur != nil {
			if _, dup := seen[cur.ID]; dup {
				return imlerrors.New(imlerrors.ValidationError,
					fmt.Sprintf("rollback chain starting at %q forms a cycle at %q", a.ID, cur.ID))
			}
			seen[cur.ID] = struct{}{}
			cur = cur.Rollback
		}
	}
	return nil
}
