// Package executor implements the Plan Executor and Plan Group Executor:
// the component that walks a validated IML plan's dependency waves,
// dispatching each action through every security and resource gate in
// turn, and persists the resulting ExecutionState. Grounded on the
// teacher's pkg/queue executor (chain-loop shape, stageResult-style
// per-step outcome structs, slog.With(...)-scoped logging) generalised
// from a fixed LLM-agent chain to an arbitrary action DAG.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/llmos-bridge/daemon/internal/approval"
	"github.com/llmos-bridge/daemon/internal/compat"
	"github.com/llmos-bridge/daemon/internal/eventbus"
	"github.com/llmos-bridge/daemon/internal/metrics"
	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/llmos-bridge/daemon/internal/ratelimit"
	"github.com/llmos-bridge/daemon/internal/registry"
	"github.com/llmos-bridge/daemon/internal/resourcemgr"
	"github.com/llmos-bridge/daemon/internal/scheduler"
	"github.com/llmos-bridge/daemon/internal/security/permission"
	"github.com/llmos-bridge/daemon/internal/security/sanitize"
	"github.com/llmos-bridge/daemon/internal/security/scanner"
	"github.com/llmos-bridge/daemon/internal/session"
	"github.com/llmos-bridge/daemon/internal/statestore"
	"github.com/llmos-bridge/daemon/internal/template"
)

// Config wires every collaborator the Plan Executor dispatches into, plus
// the handful of policy knobs spec.md leaves to deployment config rather
// than the wire protocol (fallback_chains, rate limits per action key,
// the cascade rule, and approval timeout defaults).
type Config struct {
	Modules   *registry.ModuleRegistry
	Nodes     *registry.NodeRegistry
	Guard     *permission.Guard
	Scanners  *scanner.Pipeline
	Sanitizer *sanitize.Sanitizer
	Approval  *approval.Gate
	RateLimit *ratelimit.Limiter
	Resources *resourcemgr.Manager
	Store     *statestore.Store
	Events    eventbus.Bus
	Sessions  *session.Propagator
	Memory    template.MemoryStore
	Metrics   *metrics.Metrics

	// FallbackChains maps a module id to an ordered list of modules to try
	// the same action name against when dispatch to that module fails.
	FallbackChains map[string][]string

	// RateLimits maps "module.action" to its per-minute/per-hour ceilings.
	// A key with no entry is unlimited.
	RateLimits map[string]ratelimit.Limits

	// CascadeSkipDependents enables the "skip an action whose dependency
	// failed or was skipped" rule (spec.md §4.12.3a). New leaves it as
	// given; the daemon's config defaults set it to true.
	CascadeSkipDependents bool

	// AllowEnv gates the {{env.*}} template scope, mirroring the active
	// permission profile's posture on environment variable exposure.
	AllowEnv bool

	DefaultApprovalTimeout         time.Duration
	DefaultApprovalTimeoutBehavior string

	// RollbackTimeout bounds the detached context rollback runs under, so a
	// HALT caused by the caller's own context cancellation doesn't also
	// abort cleanup. Defaults to 2 minutes.
	RollbackTimeout time.Duration
}

// PlanExecutor runs one plan's full lifecycle: preflight, state init, wave
// loop, rollback, finalisation.
type PlanExecutor struct {
	cfg Config
}

func New(cfg Config) *PlanExecutor {
	if cfg.DefaultApprovalTimeout <= 0 {
		cfg.DefaultApprovalTimeout = 5 * time.Minute
	}
	if cfg.DefaultApprovalTimeoutBehavior == "" {
		cfg.DefaultApprovalTimeoutBehavior = "reject"
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = 2 * time.Minute
	}
	return &PlanExecutor{cfg: cfg}
}

// runCtx carries the mutable, per-run bookkeeping a single Run call
// threads through its helper methods: resolved results for the template
// scope, completed-action order for LIFO rollback, and the persisted state
// itself.
type runCtx struct {
	plan         *model.IMLPlan
	state        *model.ExecutionState
	results      map[string]any // action id -> sanitised result, for {{result.*}} scope
	completedIDs []string       // successful action IDs in completion order, for rollback
	logger       *slog.Logger
}

// Run executes plan to completion (or to its first HALT-triggering
// failure) and returns the final persisted ExecutionState. A non-nil error
// is returned only for infrastructure failures (state store unavailable);
// a plan that fails or is rejected for protocol/security reasons still
// returns (state, nil) with state.PlanStatus reflecting the outcome.
func (e *PlanExecutor) Run(ctx context.Context, plan *model.IMLPlan) (*model.ExecutionState, error) {
	logger := slog.With("plan_id", plan.PlanID, "execution_mode", string(plan.ExecutionMode))
	logger.Info("plan executor: starting run")

	runStart := time.Now()
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ActivePlans.Inc()
		defer e.cfg.Metrics.ActivePlans.Dec()
		defer func() { e.cfg.Metrics.PlanDuration.Observe(time.Since(runStart).Seconds()) }()
	}

	e.emit(model.TopicPlans, "plan_submitted", plan.PlanID, nil)

	// 1. Preflight.
	if rejection := e.preflight(ctx, plan); rejection != nil {
		state := model.NewExecutionState(plan, time.Now().UTC())
		state.PlanStatus = model.PlanRejected
		state.RejectionDetails = rejection
		if err := e.cfg.Store.Create(ctx, state); err != nil {
			return nil, fmt.Errorf("persist rejected plan: %w", err)
		}
		logger.Warn("plan executor: rejected at preflight", "reason", rejection.Reason)
		e.emit(model.TopicPlans, "plan_failed", plan.PlanID, map[string]any{"reason": rejection.Reason})
		return state, nil
	}

	// 2. State init.
	sched, err := scheduler.New(plan)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	state := model.NewExecutionState(plan, time.Now().UTC())
	state.PlanStatus = model.PlanRunning
	if err := e.cfg.Store.Create(ctx, state); err != nil {
		return nil, fmt.Errorf("persist initial state: %w", err)
	}
	e.emit(model.TopicPlans, "plan_started", plan.PlanID, nil)

	rc := &runCtx{
		plan:    plan,
		state:   state,
		results: make(map[string]any, len(plan.Actions)),
		logger:  logger,
	}

	// 3. Wave loop.
	halted := false
	for _, wave := range sched.Waves() {
		if ctx.Err() != nil {
			halted = true
			break
		}
		if e.runWave(ctx, rc, wave) {
			halted = true
			break
		}
		state.UpdatedAt = time.Now().UTC()
	}

	// 4. Rollback, only on a halting failure. Runs under a detached context
	// — the halt itself may have been caused by ctx's own cancellation, and
	// cleanup must still get a chance to run.
	if halted {
		rollbackCtx, cancel := context.WithTimeout(context.Background(), e.cfg.RollbackTimeout)
		e.runRollback(rollbackCtx, rc)
		cancel()
	}

	// 5. Finalisation, under a context that outlives a cancelled run so
	// the final status is still persisted.
	return e.finalise(context.WithoutCancel(ctx), rc, halted)
}

// preflight runs module-version compatibility, permission, and scanner
// checks. A non-nil RejectionDetails means the plan never reaches state
// init.
func (e *PlanExecutor) preflight(ctx context.Context, plan *model.IMLPlan) *model.RejectionDetails {
	if !plan.ExecutionMode.Valid() {
		return &model.RejectionDetails{Reason: fmt.Sprintf("invalid execution_mode %q", plan.ExecutionMode)}
	}

	if len(plan.ModuleRequirements) > 0 {
		versions := make(map[string]string, len(plan.ModuleRequirements))
		for _, m := range e.cfg.Modules.AllManifests() {
			versions[m.ModuleID] = m.Version
		}
		checker := compat.New(versions)
		if err := checker.AssertCompatible(plan.ModuleRequirements); err != nil {
			return &model.RejectionDetails{Reason: err.Error()}
		}
	}

	if err := e.cfg.Guard.CheckPlan(plan); err != nil {
		return &model.RejectionDetails{Reason: err.Error()}
	}

	if e.cfg.Scanners != nil {
		result := e.cfg.Scanners.ScanInput(ctx, plan)
		if !result.Allowed {
			var scannerID string
			var threatTypes []string
			for _, sr := range result.ScannerResults {
				if sr.Verdict == scanner.Reject {
					scannerID = sr.ScannerID
					threatTypes = sr.ThreatTypes
					break
				}
			}
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.ScannerRejectionsTotal.WithLabelValues(scannerID).Inc()
			}
			e.emit(model.TopicSecurity, "plan_scanner_rejected", plan.PlanID, map[string]any{
				"scanner_id": scannerID, "risk_score": result.MaxRiskScore,
			})
			return &model.RejectionDetails{
				ScannerID:   scannerID,
				ThreatTypes: threatTypes,
				Reason:      "input scanner pipeline rejected this plan",
				RiskScore:   result.MaxRiskScore,
			}
		}
	}

	return nil
}

// emit is a thin wrapper so call sites read as one line; Events may be nil
// in tests that don't care about the event stream.
func (e *PlanExecutor) emit(topic, eventName, planID string, extra map[string]any) {
	if e.cfg.Events == nil {
		return
	}
	data := map[string]any{model.KeyEvent: eventName, "plan_id": planID}
	for k, v := range extra {
		data[k] = v
	}
	e.cfg.Events.Emit(topic, eventbus.NewUniversalEvent(data, eventbus.UniversalEventOptions{SessionID: planID}))
}

// finalise marks the plan COMPLETED or FAILED, persists, and emits the
// matching terminal event.
func (e *PlanExecutor) finalise(ctx context.Context, rc *runCtx, halted bool) (*model.ExecutionState, error) {
	status := model.PlanCompleted
	eventName := "plan_completed"
	if halted || rc.state.AnyFailed() || !rc.state.AllTerminal() {
		status = model.PlanFailed
		eventName = "plan_failed"
	}
	rc.state.PlanStatus = status
	rc.state.UpdatedAt = time.Now().UTC()

	if err := e.cfg.Store.UpdatePlanStatus(ctx, rc.plan.PlanID, status, rc.state.RejectionDetails); err != nil {
		return nil, fmt.Errorf("persist final plan status: %w", err)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.PlansCompletedTotal.WithLabelValues(string(status)).Inc()
	}
	e.emit(model.TopicPlans, eventName, rc.plan.PlanID, nil)
	rc.logger.Info("plan executor: run finished", "status", string(status))
	return rc.state, nil
}

// alternativeHints inspects an error message for well-known failure
// signatures and proposes a human-readable next step, including naming a
// fallback module when one is configured for the failing module with a
// matching action — grounded on spec.md §4.12.3b's CONTINUE enrichment.
func alternativeHints(errText, module, action string, fallbacks map[string][]string) []string {
	var hints []string
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "file not found"), strings.Contains(lower, "no such file"):
		hints = append(hints, "verify the file path is correct and the file exists")
	case strings.Contains(lower, "permission denied"):
		hints = append(hints, "check that the sandboxed path and credentials allow this operation")
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		hints = append(hints, "the target may be slow or unreachable; consider retrying with a longer timeout")
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"):
		hints = append(hints, "the target service appears to be down or unreachable")
	}
	for _, fb := range fallbacks[module] {
		hints = append(hints, fmt.Sprintf("module %q may serve %q as a fallback", fb, action))
	}
	return hints
}

// backoffDelay computes backoff_seconds × 2^(attempt-1), attempt 1-based.
func backoffDelay(backoffSeconds float64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := backoffSeconds * math.Pow(2, float64(attempt-1))
	return time.Duration(seconds * float64(time.Second))
}
