package triggers

import (
	"fmt"

	"github.com/llmos-bridge/daemon/internal/triggers/watchers"
)

// buildWatcher dispatches a Condition to the concrete watchers.Watcher that
// implements it, recursing into child conditions for COMPOSITE. Grounded
// on original_source's triggers/watchers/base.py WatcherFactory.create and
// its _pick_temporal sub-dispatch (keyed on which of schedule/
// interval_seconds/run_at the condition's params carry).
func buildWatcher(triggerID string, condition Condition, fire watchers.FireFunc) (watchers.Watcher, error) {
	switch condition.Type {
	case Temporal:
		return buildTemporalWatcher(triggerID, condition.Params, fire)
	case Filesystem:
		path, _ := condition.Params["path"].(string)
		return watchers.NewFileSystemWatcher(triggerID, path, toStringSlice(condition.Params["events"]), fire), nil
	case Process:
		name, _ := condition.Params["process_name"].(string)
		return watchers.NewProcessWatcher(triggerID, name, fire), nil
	case Resource:
		kind, _ := condition.Params["resource"].(string)
		threshold, _ := toFloat(condition.Params["threshold"])
		path, _ := condition.Params["path"].(string)
		return watchers.NewResourceWatcher(triggerID, watchers.ResourceKind(kind), threshold, path, fire), nil
	case Composite:
		return buildCompositeWatcher(triggerID, condition, fire)
	default:
		return nil, fmt.Errorf("unknown trigger condition type %q", condition.Type)
	}
}

func buildTemporalWatcher(triggerID string, params map[string]any, fire watchers.FireFunc) (watchers.Watcher, error) {
	if schedule, ok := params["schedule"].(string); ok && schedule != "" {
		return watchers.NewCronWatcher(triggerID, schedule, fire)
	}
	if interval, ok := toFloat(params["interval_seconds"]); ok {
		return watchers.NewIntervalWatcher(triggerID, interval, fire)
	}
	if runAt, ok := toFloat(params["run_at"]); ok {
		return watchers.NewOnceWatcher(triggerID, runAt, fire), nil
	}
	return nil, fmt.Errorf("temporal condition needs one of schedule, interval_seconds, run_at")
}

func buildCompositeWatcher(triggerID string, condition Condition, fire watchers.FireFunc) (watchers.Watcher, error) {
	composite := watchers.NewCompositeWatcher(triggerID, condition.Operator, fire)
	for i, sub := range condition.Conditions {
		idx := i
		child, err := buildWatcher(triggerID, sub, func(_, eventType string, payload map[string]any) {
			composite.OnChildFire(idx, eventType, payload)
		})
		if err != nil {
			return nil, fmt.Errorf("build composite child %d: %w", idx, err)
		}
		composite.AddChild(child)
	}
	return composite, nil
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
