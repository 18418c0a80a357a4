package model

import "time"

// ConditionType is the kind of external condition a trigger watches.
type ConditionType string

const (
	ConditionTemporal  ConditionType = "temporal"
	ConditionFilesystem ConditionType = "filesystem"
	ConditionProcess   ConditionType = "process"
	ConditionResource  ConditionType = "resource"
	ConditionComposite ConditionType = "composite"
)

// Condition carries the typed params for one of the ConditionType kinds.
// Params are intentionally untyped (mirrors the plan's own param bags) since
// each watcher implementation interprets only the keys it understands.
type Condition struct {
	Type   ConditionType  `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ConflictPolicy governs what happens when a trigger fires while a previous
// fire's plan is still running.
type ConflictPolicy string

const (
	ConflictQueue   ConflictPolicy = "queue"
	ConflictPreempt ConflictPolicy = "preempt"
	ConflictReject  ConflictPolicy = "reject"
)

// TriggerState is the trigger's own lifecycle, distinct from any plan it
// spawns.
type TriggerState string

const (
	TriggerRegistered TriggerState = "registered"
	TriggerInactive   TriggerState = "inactive"
	TriggerActive     TriggerState = "active"
	TriggerWatching   TriggerState = "watching"
	TriggerFired      TriggerState = "fired"
	TriggerThrottled  TriggerState = "throttled"
	TriggerFailed     TriggerState = "failed"
)

// TriggerHealth accumulates counters describing a trigger's fire history.
type TriggerHealth struct {
	FireCount     int           `json:"fire_count"`
	FailCount     int           `json:"fail_count"`
	ThrottleCount int           `json:"throttle_count"`
	AvgLatency    time.Duration `json:"avg_latency"`
	LastError     string        `json:"last_error,omitempty"`
}

// TriggerDefinition binds a background watcher to an IML plan template.
type TriggerDefinition struct {
	TriggerID          string         `json:"trigger_id" yaml:"trigger_id"`
	Name               string         `json:"name" yaml:"name"`
	Condition          Condition      `json:"condition" yaml:"condition"`
	PlanTemplate        IMLPlan       `json:"plan_template" yaml:"plan_template"`
	Priority           int            `json:"priority" yaml:"priority"`
	State              TriggerState   `json:"state" yaml:"state"`
	MinIntervalSeconds float64        `json:"min_interval_seconds" yaml:"min_interval_seconds"`
	MaxFiresPerHour    int            `json:"max_fires_per_hour" yaml:"max_fires_per_hour"`
	ConflictPolicy     ConflictPolicy `json:"conflict_policy" yaml:"conflict_policy"`
	ResourceLock       string         `json:"resource_lock,omitempty" yaml:"resource_lock,omitempty"`
	Enabled            bool           `json:"enabled" yaml:"enabled"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	MaxChainDepth      int            `json:"max_chain_depth" yaml:"max_chain_depth"`
	ChainDepth         int            `json:"chain_depth" yaml:"chain_depth"`
	Health             TriggerHealth  `json:"health" yaml:"health"`

	LastFiredAt *time.Time `json:"last_fired_at,omitempty" yaml:"-"`
}

// FireReady reports whether the trigger may fire at now: it is active,
// watching or fired, has not expired, and at least MinIntervalSeconds
// have passed since LastFiredAt. Enabled and max_fires_per_hour are not
// checked here.
func (t *TriggerDefinition) FireReady(now time.Time) bool {
	switch t.State {
	case TriggerActive, TriggerWatching, TriggerFired:
	default:
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	if t.LastFiredAt != nil {
		elapsed := now.Sub(*t.LastFiredAt).Seconds()
		if elapsed < t.MinIntervalSeconds {
			return false
		}
	}
	return true
}

// ChainDepthOK reports whether firing again would stay within the loop
// protection bound.
func (t *TriggerDefinition) ChainDepthOK() bool {
	return t.ChainDepth < t.MaxChainDepth
}
