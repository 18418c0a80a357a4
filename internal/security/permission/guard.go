package permission

import (
	"path/filepath"
	"strings"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

// pathParamKeys lists the action-param keys that carry a filesystem path and
// are therefore subject to sandbox enforcement, across every module (not
// just filesystem) — a resolved path is dangerous regardless of which
// module produced it. Grounded on original_source's test_guard_sandbox.py /
// test_post_resolution_sandbox.py, which exercise "path", "source",
// "output_path", "database", and "image_path" explicitly.
var pathParamKeys = []string{"path", "source", "output_path", "database", "image_path"}

// Guard is the single enforcement point for all security checks: plan
// preflight, per-action dispatch, and sandbox path validation both before
// and after template resolution. Grounded on original_source's
// security/guard.py PermissionGuard.
type Guard struct {
	profile            *model.PermissionProfile
	requireApprovalFor map[string]bool
	sandboxPaths       []string
}

// NewGuard builds a Guard for profile. requireApprovalFor names additional
// "module.action" keys that must go through the approval gate even though
// the profile itself permits them outright.
func NewGuard(profile *model.PermissionProfile, requireApprovalFor []string, sandboxPaths []string) *Guard {
	set := make(map[string]bool, len(requireApprovalFor))
	for _, key := range requireApprovalFor {
		set[key] = true
	}
	return &Guard{
		profile:            profile,
		requireApprovalFor: set,
		sandboxPaths:       sandboxPaths,
	}
}

// CheckPlan runs plan-level preflight checks: the action-count ceiling, and
// that every action in the plan is permitted by the profile. Surfacing
// permission failures before execution starts means a plan either runs to
// completion or is rejected outright, never half-executed on a disallowed
// action.
func (g *Guard) CheckPlan(plan *model.IMLPlan) error {
	if len(plan.Actions) > g.profile.MaxPlanActions {
		return permissionDenied("(plan)", "(plan)", g.profile.Name)
	}
	for i := range plan.Actions {
		action := &plan.Actions[i]
		if !IsAllowed(g.profile, action.Module, action.Action) {
			return permissionDenied(action.Module, action.Action, g.profile.Name)
		}
	}
	return nil
}

// CheckAction re-verifies a single action's approval and permission status
// right before dispatch — run again here (not only at plan preflight) to
// guard against a profile change mid-plan. Order: approval requirement
// first (it can gate an action the profile would otherwise allow), then the
// profile's allow/deny check, then a sandbox pass over the action's
// original, unresolved params. That sandbox pass is necessarily incomplete —
// still-templated paths aren't real paths yet — so the caller runs
// CheckSandboxParams again afterward, against resolved params, as the check
// that's actually closest to dispatch.
func (g *Guard) CheckAction(action *model.IMLAction, planID string) error {
	if g.requiresApproval(action) && !g.profile.AllowApprovalBypass {
		return imlerrors.New(imlerrors.ApprovalRequired, "action requires approval").
			WithDetail("action_id", action.ID).
			WithDetail("plan_id", planID)
	}

	if !IsAllowed(g.profile, action.Module, action.Action) {
		return permissionDenied(action.Module, action.Action, g.profile.Name)
	}

	return g.checkSandboxParams(action.Module, action.Action, action.Params)
}

// IsAllowed checks without raising — useful for UI feature flags.
func (g *Guard) IsAllowed(module, action string) bool {
	return IsAllowed(g.profile, module, action)
}

// CheckSandboxParams re-validates sandbox paths after template resolution,
// when params that may have been skipped pre-flight (because they still
// contained a "{{...}}" expression) now hold concrete values.
func (g *Guard) CheckSandboxParams(module, action string, params map[string]any) error {
	return g.checkSandboxParams(module, action, params)
}

func (g *Guard) requiresApproval(action *model.IMLAction) bool {
	if action.RequiresApproval {
		return true
	}
	return g.requireApprovalFor[action.Key()]
}

func (g *Guard) checkSandboxParams(module, action string, params map[string]any) error {
	if len(g.sandboxPaths) == 0 {
		return nil
	}

	for _, key := range pathParamKeys {
		raw, ok := params[key]
		if !ok {
			continue
		}
		candidate, ok := raw.(string)
		if !ok || candidate == "" {
			continue
		}
		// Still-unresolved template expressions are checked again after
		// resolution via CheckSandboxParams; treating them as a literal
		// path here would reject on the placeholder text itself.
		if strings.Contains(candidate, "{{") {
			continue
		}
		if !g.withinSandbox(candidate) {
			return permissionDenied(module, action, g.profile.Name)
		}
	}
	return nil
}

func (g *Guard) withinSandbox(candidate string) bool {
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}
	for _, sandbox := range g.sandboxPaths {
		absSandbox, err := filepath.Abs(sandbox)
		if err != nil {
			continue
		}
		if absCandidate == absSandbox || strings.HasPrefix(absCandidate, absSandbox+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func permissionDenied(module, action string, profile model.ProfileName) error {
	return imlerrors.New(imlerrors.PermissionDenied, "action not permitted by active profile").
		WithDetail("module", module).
		WithDetail("action", action).
		WithDetail("profile", string(profile))
}
