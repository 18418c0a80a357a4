package triggers

import (
	"context"
	"fmt"
	"time"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

// Module exposes the Trigger Daemon as a capability module (module_id
// "triggers") so an LLM can register/activate/deactivate/delete/list/get
// triggers the same way it calls any other module's actions — spec.md
// §4.14's trigger-management surface, grounded on original_source's
// modules/triggers.py TriggerModule.
type Module struct {
	daemon *Daemon
}

func NewModule() *Module {
	return &Module{}
}

// SetDaemon wires the daemon after construction, mirroring
// original_source's two-phase module/daemon startup (the module registers
// before the daemon — which needs the store and scheduler — is ready).
func (m *Module) SetDaemon(daemon *Daemon) {
	m.daemon = daemon
}

func (m *Module) ID() string { return "triggers" }

func (m *Module) Manifest() model.ModuleManifest {
	return model.ModuleManifest{
		ModuleID: "triggers",
		Version:  "1.0.0",
		Actions:  actionManifest(),
	}
}

func actionManifest() []model.ActionSpec {
	return []model.ActionSpec{
		{Name: "register_trigger", Description: "register a new trigger definition", RiskLevel: "low"},
		{Name: "activate_trigger", Description: "enable and arm a trigger", RiskLevel: "low"},
		{Name: "deactivate_trigger", Description: "disarm a trigger without deleting it", RiskLevel: "low"},
		{Name: "delete_trigger", Description: "permanently remove a trigger", RiskLevel: "low"},
		{Name: "list_triggers", Description: "list registered triggers, optionally filtered by state", RiskLevel: "low"},
		{Name: "get_trigger", Description: "fetch a single trigger by id", RiskLevel: "low"},
	}
}

func (m *Module) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	if m.daemon == nil {
		return nil, imlerrors.New(imlerrors.ModuleLoadError, "triggers module not available: no daemon configured")
	}

	switch action {
	case "register_trigger":
		return m.registerTrigger(ctx, params)
	case "activate_trigger":
		return m.mutateByID(ctx, params, m.daemon.Activate, "activated")
	case "deactivate_trigger":
		return m.mutateByID(ctx, params, m.daemon.Deactivate, "deactivated")
	case "delete_trigger":
		return m.deleteTrigger(ctx, params)
	case "list_triggers":
		return m.listTriggers(ctx, params)
	case "get_trigger":
		return m.getTrigger(ctx, params)
	default:
		return nil, imlerrors.New(imlerrors.ActionNotFound, fmt.Sprintf("unknown triggers action %q", action))
	}
}

func (m *Module) registerTrigger(ctx context.Context, params map[string]any) (any, error) {
	def, err := definitionFromParams(params)
	if err != nil {
		return nil, imlerrors.Wrap(imlerrors.ValidationError, "invalid trigger definition", err)
	}
	registered, err := m.daemon.Register(ctx, def)
	if err != nil {
		return nil, imlerrors.Wrap(imlerrors.ValidationError, "register trigger failed", err)
	}
	return triggerToDict(registered, false), nil
}

func (m *Module) mutateByID(ctx context.Context, params map[string]any, fn func(context.Context, string) error, verb string) (any, error) {
	id, ok := params["trigger_id"].(string)
	if !ok || id == "" {
		return nil, imlerrors.New(imlerrors.ValidationError, "trigger_id is required")
	}
	if err := fn(ctx, id); err != nil {
		return nil, imlerrors.Wrap(imlerrors.ModuleNotFound, fmt.Sprintf("trigger %q not found", id), err)
	}
	return map[string]any{"trigger_id": id, "status": verb}, nil
}

func (m *Module) deleteTrigger(ctx context.Context, params map[string]any) (any, error) {
	id, ok := params["trigger_id"].(string)
	if !ok || id == "" {
		return nil, imlerrors.New(imlerrors.ValidationError, "trigger_id is required")
	}
	deleted, err := m.daemon.Delete(ctx, id)
	if err != nil {
		return nil, imlerrors.Wrap(imlerrors.ActionExecutionError, "delete trigger failed", err)
	}
	return map[string]any{"trigger_id": id, "deleted": deleted}, nil
}

func (m *Module) getTrigger(ctx context.Context, params map[string]any) (any, error) {
	id, ok := params["trigger_id"].(string)
	if !ok || id == "" {
		return nil, imlerrors.New(imlerrors.ValidationError, "trigger_id is required")
	}
	def, err := m.daemon.Get(ctx, id)
	if err != nil {
		return nil, imlerrors.Wrap(imlerrors.ActionExecutionError, "get trigger failed", err)
	}
	if def == nil {
		return nil, imlerrors.New(imlerrors.ModuleNotFound, fmt.Sprintf("trigger %q not found", id))
	}
	return triggerToDict(def, true), nil
}

func (m *Module) listTriggers(ctx context.Context, params map[string]any) (any, error) {
	var defs []*Definition
	var err error

	if stateFilter, ok := params["state"].(string); ok && stateFilter != "" {
		defs, err = m.daemon.store.ListByState(ctx, State(stateFilter))
	} else {
		defs, err = m.daemon.ListAll(ctx)
	}
	if err != nil {
		return nil, imlerrors.Wrap(imlerrors.ActionExecutionError, "list triggers failed", err)
	}

	includeHealth, _ := params["include_health"].(bool)
	triggers := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		triggers = append(triggers, triggerToDict(d, includeHealth))
	}
	return map[string]any{"count": len(triggers), "triggers": triggers}, nil
}

// triggerToDict shapes a Definition the way an LLM-facing action result is
// rendered: plain strings for enums, an optional nested health block.
func triggerToDict(d *Definition, includeHealth bool) map[string]any {
	out := map[string]any{
		"trigger_id": d.TriggerID,
		"name":       d.Name,
		"state":      string(d.State),
		"enabled":    d.Enabled,
		"priority":   string(d.Priority),
	}
	if includeHealth {
		health := map[string]any{
			"fire_count":      d.Health.FireCount,
			"fail_count":      d.Health.FailCount,
			"throttle_count":  d.Health.ThrottleCount,
			"avg_latency_ms":  d.Health.AvgLatencyMs,
		}
		if d.Health.LastFiredAt != nil {
			health["last_fired_at"] = d.Health.LastFiredAt.Format(time.RFC3339Nano)
		}
		if d.Health.LastError != "" {
			health["last_error"] = d.Health.LastError
		}
		out["health"] = health
	}
	return out
}

// definitionFromParams builds a Definition from an LLM-supplied
// register_trigger params map. Only the fields the action contract
// documents are read; everything else keeps New()'s defaults.
func definitionFromParams(params map[string]any) (*Definition, error) {
	def := New()

	name, _ := params["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	def.Name = name
	def.Description, _ = params["description"].(string)

	condition, err := conditionFromAny(params["condition"])
	if err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}
	def.Condition = condition

	planTemplate, ok := params["plan_template"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("plan_template is required")
	}
	def.PlanTemplate = planTemplate

	if priority, ok := params["priority"].(string); ok && priority != "" {
		def.Priority = Priority(priority)
	}
	if policy, ok := params["conflict_policy"].(string); ok && policy != "" {
		def.ConflictPolicy = ConflictPolicy(policy)
	}
	if v, ok := params["enabled"].(bool); ok {
		def.Enabled = v
	}
	if v, ok := toFloat(params["min_interval_seconds"]); ok {
		def.MinIntervalSeconds = v
	}
	if v, ok := toFloat(params["max_fires_per_hour"]); ok {
		def.MaxFiresPerHour = int(v)
	}
	if v, ok := toFloat(params["max_chain_depth"]); ok {
		def.MaxChainDepth = int(v)
	}
	if v, ok := toFloat(params["chain_depth"]); ok {
		def.ChainDepth = int(v)
	}
	def.PlanIDPrefix, _ = params["plan_id_prefix"].(string)
	def.ResourceLock, _ = params["resource_lock"].(string)
	def.Tags = toStringSlice(params["tags"])

	return def, nil
}

func conditionFromAny(v any) (Condition, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return Condition{}, fmt.Errorf("must be an object")
	}
	typ, _ := raw["type"].(string)
	if typ == "" {
		return Condition{}, fmt.Errorf("type is required")
	}
	cond := Condition{Type: Type(typ)}
	if params, ok := raw["params"].(map[string]any); ok {
		cond.Params = params
	}
	cond.Operator, _ = raw["operator"].(string)
	if subs, ok := raw["conditions"].([]any); ok {
		for _, s := range subs {
			sub, err := conditionFromAny(s)
			if err != nil {
				return Condition{}, err
			}
			cond.Conditions = append(cond.Conditions, sub)
		}
	}
	return cond, nil
}
