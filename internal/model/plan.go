// Package model holds the wire and runtime data types shared across the
// daemon: IML plans and actions, execution state, triggers, and permission
// profiles. Nothing in this package talks to a store, a bus, or a network —
// it is pure data plus the small amount of validation that is intrinsic to
// the shape of the type itself.
package model

import "time"

// ExecutionMode selects how the DAG Scheduler turns a plan's actions into
// waves.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
	ModeReactive   ExecutionMode = "reactive"
)

func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeReactive:
		return true
	default:
		return false
	}
}

// OnError selects the executor's policy when an action fails.
type OnError string

const (
	OnErrorHalt     OnError = "halt"
	OnErrorContinue OnError = "continue"
	OnErrorRetry    OnError = "retry"
	OnErrorEscalate OnError = "escalate"
)

func (e OnError) Valid() bool {
	switch e {
	case OnErrorHalt, OnErrorContinue, OnErrorRetry, OnErrorEscalate:
		return true
	default:
		return false
	}
}

// ProtocolVersion is the only protocol_version this daemon accepts.
const ProtocolVersion = "2.0"

// RetryPolicy configures RETRY on_error handling.
type RetryPolicy struct {
	MaxAttempts     int     `json:"max_attempts" yaml:"max_attempts"`
	BackoffSeconds  float64 `json:"backoff_seconds" yaml:"backoff_seconds"`
}

// ApprovalSpec describes why and how an action should be gated on approval.
type ApprovalSpec struct {
	Message              string   `json:"message,omitempty" yaml:"message,omitempty"`
	RiskLevel            string   `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	ClarificationOptions []string `json:"clarification_options,omitempty" yaml:"clarification_options,omitempty"`
}

// PerceptionSpec controls before/after capture around an action's dispatch.
// Concrete perception capture is a collaborator concern; the core only
// threads the flags through.
type PerceptionSpec struct {
	Before bool `json:"before,omitempty" yaml:"before,omitempty"`
	After  bool `json:"after,omitempty" yaml:"after,omitempty"`
}

// IMLAction is one step of a plan. Params may contain template expressions
// ("{{result.a1.content}}") that are resolved by the Template Resolver at
// dispatch time — see internal/template.
type IMLAction struct {
	ID               string          `json:"id" yaml:"id"`
	Module           string          `json:"module" yaml:"module"`
	Action           string          `json:"action" yaml:"action"`
	Params           map[string]any  `json:"params,omitempty" yaml:"params,omitempty"`
	DependsOn        []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	OnError          OnError         `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	Retry            *RetryPolicy    `json:"retry,omitempty" yaml:"retry,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	Approval         *ApprovalSpec   `json:"approval,omitempty" yaml:"approval,omitempty"`
	Rollback         *IMLAction      `json:"rollback,omitempty" yaml:"rollback,omitempty"`
	TargetNode       string          `json:"target_node,omitempty" yaml:"target_node,omitempty"`
	Perception       *PerceptionSpec `json:"perception,omitempty" yaml:"perception,omitempty"`
}

// Key returns the "module.action" form used throughout permissions, rate
// limiting, and event routing.
func (a *IMLAction) Key() string {
	return a.Module + "." + a.Action
}

// EffectiveTargetNode returns target_node, defaulting to "local".
func (a *IMLAction) EffectiveTargetNode() string {
	if a.TargetNode == "" {
		return "local"
	}
	return a.TargetNode
}

// IMLPlan is a parsed, validated instruction plan: a DAG of actions.
type IMLPlan struct {
	ProtocolVersion    string            `json:"protocol_version" yaml:"protocol_version"`
	PlanID             string            `json:"plan_id" yaml:"plan_id"`
	Description        string            `json:"description,omitempty" yaml:"description,omitempty"`
	ExecutionMode      ExecutionMode     `json:"execution_mode" yaml:"execution_mode"`
	SessionID          string            `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	ModuleRequirements map[string]string `json:"module_requirements,omitempty" yaml:"module_requirements,omitempty"`
	Metadata           map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Actions            []IMLAction       `json:"actions" yaml:"actions"`
	TimeoutSeconds     float64           `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// ActionByID returns a pointer to the action with the given ID, or nil.
func (p *IMLPlan) ActionByID(id string) *IMLAction {
	for i := range p.Actions {
		if p.Actions[i].ID == id {
			return &p.Actions[i]
		}
	}
	return nil
}

// ActionIDs returns the set of all action IDs in the plan.
func (p *IMLPlan) ActionIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(p.Actions))
	for _, a := range p.Actions {
		ids[a.ID] = struct{}{}
	}
	return ids
}

// PlanStatus is the terminal-or-not lifecycle status of a plan.
type PlanStatus string

const (
	PlanQueued    PlanStatus = "queued"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
	PlanRejected  PlanStatus = "rejected"
)

// Terminal reports whether this status is a final plan state.
func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanCancelled, PlanRejected:
		return true
	default:
		return false
	}
}

// ActionStatus is the lifecycle status of a single action within a plan.
type ActionStatus string

const (
	ActionPending          ActionStatus = "pending"
	ActionRunning          ActionStatus = "running"
	ActionCompleted        ActionStatus = "completed"
	ActionFailed           ActionStatus = "failed"
	ActionSkipped          ActionStatus = "skipped"
	ActionWaitingApproval  ActionStatus = "waiting_approval"
)

// Terminal reports whether this action status will not change further
// without external intervention (approval decisions move out of
// WAITING_APPROVAL, so that one is not terminal).
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionCompleted, ActionFailed, ActionSkipped:
		return true
	default:
		return false
	}
}

// ApprovalMetadata records the decision made on an approval-gated action.
type ApprovalMetadata struct {
	Decision   string         `json:"decision"`
	ApprovedBy string         `json:"approved_by,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Modified   map[string]any `json:"modified_params,omitempty"`
	DecidedAt  time.Time      `json:"decided_at"`
}

// ActionState is the mutable, persisted runtime state of one action.
type ActionState struct {
	ActionID         string            `json:"action_id"`
	Status           ActionStatus      `json:"status"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	FinishedAt       *time.Time        `json:"finished_at,omitempty"`
	Result           any               `json:"result,omitempty"`
	Error            string            `json:"error,omitempty"`
	Attempt          int               `json:"attempt"`
	Alternatives     []string          `json:"alternatives,omitempty"`
	ApprovalMetadata *ApprovalMetadata `json:"approval_metadata,omitempty"`
}

// RejectionDetails is attached to a plan's ExecutionState when a scanner or
// the permission guard refuses it before any action runs.
type RejectionDetails struct {
	ScannerID   string   `json:"scanner_id,omitempty"`
	ThreatTypes []string `json:"threat_types,omitempty"`
	Reason      string   `json:"reason"`
	RiskScore   float64  `json:"risk_score,omitempty"`
}

// ExecutionState is the full persisted record of one plan's run.
type ExecutionState struct {
	PlanID           string                  `json:"plan_id"`
	PlanStatus       PlanStatus              `json:"plan_status"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	Actions          map[string]*ActionState `json:"actions"`
	RejectionDetails *RejectionDetails       `json:"rejection_details,omitempty"`
}

// NewExecutionState builds an ExecutionState with every action PENDING.
func NewExecutionState(plan *IMLPlan, now time.Time) *ExecutionState {
	actions := make(map[string]*ActionState, len(plan.Actions))
	for _, a := range plan.Actions {
		actions[a.ID] = &ActionState{ActionID: a.ID, Status: ActionPending, Attempt: 0}
	}
	return &ExecutionState{
		PlanID:     plan.PlanID,
		PlanStatus: PlanQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
		Actions:    actions,
	}
}

// AllTerminal reports whether every action has reached a terminal status.
func (s *ExecutionState) AllTerminal() bool {
	for _, a := range s.Actions {
		if !a.Status.Terminal() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any action ended FAILED.
func (s *ExecutionState) AnyFailed() bool {
	for _, a := range s.Actions {
		if a.Status == ActionFailed {
			return true
		}
	}
	return false
}
