// Package triggers implements the Trigger Subsystem (spec.md §4.14):
// background condition watchers that submit plans when their condition
// fires, the daemon that owns their lifecycle, the SQLite-backed
// definition store, and the capability module exposing trigger CRUD to
// plans themselves. Grounded on original_source's triggers/models.py —
// retained in the pack only as its unit test (tests/unit/triggers/
// test_models.py), which pins the exact field names and arithmetic this
// file reproduces.
package triggers

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is one of the five condition kinds a trigger can watch.
type Type string

const (
	Temporal   Type = "temporal"
	Filesystem Type = "filesystem"
	Process    Type = "process"
	Resource   Type = "resource"
	Composite  Type = "composite"
)

// State is a trigger's lifecycle position. Grounded on spec.md §4.14's
// state machine: REGISTERED -> ACTIVE -> FIRED -> WATCHING -> FIRED -> ...,
// with FAILED and INACTIVE as terminal/paused states.
type State string

const (
	StateRegistered State = "registered"
	StateActive     State = "active"
	StateWatching   State = "watching"
	StateFired      State = "fired"
	StateFailed     State = "failed"
	StateInactive   State = "inactive"
)

// fireReady is the set of states can_fire() treats as eligible — a trigger
// that has already fired at least once is WATCHING or FIRED, not ACTIVE,
// so all three have to be honoured or a trigger would only ever fire once.
func (s State) fireReady() bool {
	switch s {
	case StateActive, StateWatching, StateFired:
		return true
	default:
		return false
	}
}

// Priority orders a trigger's fired plans the same way a submitted plan
// would be prioritised on the Event Bus.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// ConflictPolicy governs what happens when a trigger fires again while its
// previous fire's plan is still running.
type ConflictPolicy string

const (
	ConflictQueue   ConflictPolicy = "queue"
	ConflictPreempt ConflictPolicy = "preempt"
	ConflictReject  ConflictPolicy = "reject"
)

// Condition describes what a watcher watches. Params holds the type-specific
// fields (interval_seconds/run_at/schedule for TEMPORAL, path+events for
// FILESYSTEM, process_name for PROCESS, resource+threshold for RESOURCE);
// COMPOSITE instead nests Operator ("and"/"or") over Conditions and leaves
// Params empty.
type Condition struct {
	Type       Type           `json:"type"`
	Params     map[string]any `json:"params,omitempty"`
	Operator   string         `json:"operator,omitempty"`
	Conditions []Condition    `json:"conditions,omitempty"`
}

// Health tracks a trigger's runtime counters, persisted alongside its
// definition. record_fire's EMA smoothing constant (0.8/0.2) is pinned by
// test_models.py's TestTriggerHealth.test_record_fire_updates_avg_latency.
type Health struct {
	FireCount     int        `json:"fire_count"`
	FailCount     int        `json:"fail_count"`
	ThrottleCount int        `json:"throttle_count"`
	AvgLatencyMs  float64    `json:"avg_latency_ms"`
	LastFiredAt   *time.Time `json:"last_fired_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// RecordFire bumps fire_count, stamps last_fired_at, and folds latencyMs
// into the running exponential moving average.
func (h *Health) RecordFire(latencyMs float64) {
	now := time.Now().UTC()
	h.LastFiredAt = &now
	h.FireCount++
	if h.FireCount == 1 {
		h.AvgLatencyMs = latencyMs
		return
	}
	h.AvgLatencyMs = 0.8*h.AvgLatencyMs + 0.2*latencyMs
}

// RecordFail bumps fail_count and records the error.
func (h *Health) RecordFail(errText string) {
	h.FailCount++
	h.LastError = errText
}

// RecordThrottle bumps throttle_count.
func (h *Health) RecordThrottle() {
	h.ThrottleCount++
}

// Definition is one registered trigger: its condition, the plan it
// instantiates on fire, and its policy/lifecycle fields — spec.md §4.14's
// TriggerDefinition data model.
type Definition struct {
	TriggerID          string         `json:"trigger_id"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Condition          Condition      `json:"condition"`
	PlanTemplate       map[string]any `json:"plan_template"`
	Priority           Priority       `json:"priority"`
	State              State          `json:"state"`
	MinIntervalSeconds float64        `json:"min_interval_seconds"`
	MaxFiresPerHour    int            `json:"max_fires_per_hour"`
	ConflictPolicy     ConflictPolicy `json:"conflict_policy"`
	ResourceLock       string         `json:"resource_lock,omitempty"`
	Enabled            bool           `json:"enabled"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
	MaxChainDepth      int            `json:"max_chain_depth"`
	ChainDepth         int            `json:"chain_depth"`
	PlanIDPrefix       string         `json:"plan_id_prefix,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	CreatedBy          string         `json:"created_by,omitempty"`
	Health             Health         `json:"health"`
}

// New constructs a Definition with the same defaults as the original's
// zero-argument TriggerDefinition(): a fresh trigger_id, REGISTERED state,
// NORMAL priority, enabled, zero chain_depth.
func New() *Definition {
	return &Definition{
		TriggerID:      uuid.New().String(),
		State:          StateRegistered,
		Priority:       PriorityNormal,
		ConflictPolicy: ConflictQueue,
		Enabled:        true,
		MaxChainDepth:  3,
	}
}

// IsExpired reports whether expires_at has already passed. A nil
// expires_at never expires.
func (d *Definition) IsExpired() bool {
	if d.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*d.ExpiresAt)
}

// CanFire reports whether this trigger is eligible to fire right now:
// fire-ready state, enabled, not expired, and past its min_interval_seconds
// cooldown since the last fire.
func (d *Definition) CanFire() bool {
	if !d.State.fireReady() || !d.Enabled || d.IsExpired() {
		return false
	}
	if d.MinIntervalSeconds <= 0 || d.Health.LastFiredAt == nil {
		return true
	}
	return time.Since(*d.Health.LastFiredAt).Seconds() >= d.MinIntervalSeconds
}

// GeneratePlanID returns a fresh, unique plan ID for a new fire, prefixed
// by plan_id_prefix (defaulting to "trigger") the way the original derives
// `{prefix}_{suffix}`.
func (d *Definition) GeneratePlanID() string {
	prefix := d.PlanIDPrefix
	if prefix == "" {
		prefix = "trigger"
	}
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}

// FireEvent is the payload a watcher hands to the daemon's fire callback,
// and the shape exposed to the Template Resolver's {{trigger.*}} scope.
type FireEvent struct {
	TriggerID   string         `json:"trigger_id"`
	TriggerName string         `json:"trigger_name"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
	PlanID      string         `json:"plan_id,omitempty"`
	FiredAt     time.Time      `json:"fired_at"`
}

// NewFireEvent stamps FiredAt to now.
func NewFireEvent(triggerID, triggerName, eventType string, payload map[string]any) FireEvent {
	return FireEvent{
		TriggerID:   triggerID,
		TriggerName: triggerName,
		EventType:   eventType,
		Payload:     payload,
		FiredAt:     time.Now().UTC(),
	}
}

// ToDict mirrors the original's to_dict(): a plain map, used when an event
// is emitted onto the Event Bus.
func (e FireEvent) ToDict() map[string]any {
	return map[string]any{
		"trigger_id":   e.TriggerID,
		"trigger_name": e.TriggerName,
		"event_type":   e.EventType,
		"payload":      e.Payload,
		"plan_id":      e.PlanID,
		"fired_at":     e.FiredAt.Format(time.RFC3339Nano),
	}
}

// AsTemplateContext is the {{trigger.*}} scope bound into the Session
// Context Propagator for the plan this event spawns.
func (e FireEvent) AsTemplateContext() map[string]any {
	return map[string]any{
		"trigger_id": e.TriggerID,
		"event_type": e.EventType,
		"payload":    e.Payload,
		"fired_at":   e.FiredAt.Format(time.RFC3339Nano),
	}
}
