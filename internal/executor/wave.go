package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmos-bridge/daemon/internal/approval"
	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/llmos-bridge/daemon/internal/scheduler"
	"github.com/llmos-bridge/daemon/internal/template"
)

// runWave dispatches every action in wave, concurrently for PARALLEL/
// REACTIVE plans and sequentially for SEQUENTIAL ones (sequentialWaves
// already produces one-action waves, so the two paths converge there).
// Returns true if the plan must HALT.
func (e *PlanExecutor) runWave(ctx context.Context, rc *runCtx, wave scheduler.ExecutionWave) bool {
	if e.cfg.Metrics != nil {
		waveStart := time.Now()
		defer func() { e.cfg.Metrics.WaveDispatchLatency.Observe(time.Since(waveStart).Seconds()) }()
	}
	if rc.plan.ExecutionMode == model.ModeSequential || len(wave.ActionIDs) == 1 {
		for _, id := range wave.ActionIDs {
			if e.runAction(ctx, rc, id) {
				return true
			}
		}
		return false
	}

	type outcome struct {
		halt bool
	}
	results := make(chan outcome, len(wave.ActionIDs))
	for _, id := range wave.ActionIDs {
		id := id
		go func() {
			results <- outcome{halt: e.runAction(ctx, rc, id)}
		}()
	}
	halted := false
	for range wave.ActionIDs {
		if r := <-results; r.halt {
			halted = true
		}
	}
	return halted
}

// runAction drives one action through the full dispatch pipeline and its
// on_error policy. Returns true if the plan must HALT as a result.
func (e *PlanExecutor) runAction(ctx context.Context, rc *runCtx, actionID string) bool {
	action := rc.plan.ActionByID(actionID)
	actionState := rc.state.Actions[actionID]
	logger := rc.logger.With("action_id", actionID, "module", action.Module, "action", action.Action)

	if e.cfg.CascadeSkipDependents && e.dependencyBlocked(rc, action) {
		e.markSkipped(ctx, rc, actionState, "a dependency was skipped or failed")
		return false
	}

	params, err := e.resolveParams(rc, action)
	if err != nil {
		return e.handleActionFailure(ctx, rc, action, actionState, 1, err)
	}

	decision, err := e.gateApproval(ctx, rc, action, params)
	if err != nil {
		return e.handleActionFailure(ctx, rc, action, actionState, 1, err)
	}
	if decision != nil {
		switch {
		case decision.skip:
			e.markSkipped(ctx, rc, actionState, "approval decision was SKIP")
			return false
		case decision.modifiedParams != nil:
			params = decision.modifiedParams
		}
	}

	// The last sandbox check before dispatch: against params as they'll
	// actually be sent, after template resolution and any approval-time
	// modification. gateApproval's Guard.CheckAction already ran a
	// pre-resolution pass over action.Params; this is the post-resolution
	// pass, and it must be the one closest to dispatch since it's the only
	// one that sees resolved/modified values.
	if err := e.cfg.Guard.CheckSandboxParams(action.Module, action.Action, params); err != nil {
		return e.handleActionFailure(ctx, rc, action, actionState, 1, err)
	}

	attempt := 1
	maxAttempts := 1
	var backoffSeconds float64
	if action.Retry != nil && action.Retry.MaxAttempts > 0 {
		maxAttempts = action.Retry.MaxAttempts
		backoffSeconds = action.Retry.BackoffSeconds
	}

	var lastErr error
	for attempt <= maxAttempts {
		actionState.Attempt = attempt
		if err := e.dispatchOnce(ctx, rc, action, actionState, params, logger); err != nil {
			lastErr = err
			if action.OnError == model.OnErrorRetry && attempt < maxAttempts {
				delay := backoffDelay(backoffSeconds, attempt)
				logger.Warn("action failed, retrying", "attempt", attempt, "backoff", delay, "error", err)
				e.emit(model.TopicActions, "action_retried", rc.plan.PlanID, map[string]any{
					"action_id": actionID, "attempt": attempt, "error": err.Error(),
				})
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					lastErr = ctx.Err()
					attempt = maxAttempts + 1
					continue
				}
				attempt++
				continue
			}
			break
		}
		return false // success
	}

	return e.handleActionFailure(ctx, rc, action, actionState, attempt, lastErr)
}

// dependencyBlocked reports whether any of action's dependencies ended
// SKIPPED or FAILED.
func (e *PlanExecutor) dependencyBlocked(rc *runCtx, action *model.IMLAction) bool {
	for _, depID := range action.DependsOn {
		dep := rc.state.Actions[depID]
		if dep == nil {
			continue
		}
		if dep.Status == model.ActionSkipped || dep.Status == model.ActionFailed {
			return true
		}
	}
	return false
}

func (e *PlanExecutor) resolveParams(rc *runCtx, action *model.IMLAction) (map[string]any, error) {
	var triggerCtx map[string]any
	if e.cfg.Sessions != nil {
		triggerCtx, _ = e.cfg.Sessions.Get(rc.plan.PlanID)
	}
	resolver := &template.Resolver{
		ExecutionResults: rc.results,
		Memory:           e.cfg.Memory,
		AllowEnv:         e.cfg.AllowEnv,
		Trigger:          triggerCtx,
	}
	return resolver.Resolve(action.Params)
}

// approvalOutcome captures what an approval decision asks the caller to do
// beyond "proceed with these params".
type approvalOutcome struct {
	skip           bool
	modifiedParams map[string]any
}

// gateApproval checks whether action requires approval and, if so, blocks
// on the Approval Gate (unless session auto-approve already covers it). A
// non-nil error means the action must fail outright (a hard permission
// denial, or an approval REJECT decision); a non-nil *approvalOutcome with
// a nil error means the action proceeds, possibly with modified params or
// as a SKIP.
func (e *PlanExecutor) gateApproval(ctx context.Context, rc *runCtx, action *model.IMLAction, params map[string]any) (*approvalOutcome, error) {
	err := e.cfg.Guard.CheckAction(action, rc.plan.PlanID)
	if err == nil {
		return nil, nil
	}
	kind, isKinded := imlerrors.KindOf(err)
	if !isKinded || kind != imlerrors.ApprovalRequired {
		return nil, err
	}

	if e.cfg.Approval.IsAutoApproved(action.Module, action.Action) {
		return nil, nil
	}

	req := approval.Request{
		PlanID:      rc.plan.PlanID,
		ActionID:    action.ID,
		Module:      action.Module,
		ActionName:  action.Action,
		Params:      params,
		RequestedAt: time.Now().UTC(),
	}
	if action.Approval != nil {
		req.RiskLevel = action.Approval.RiskLevel
		req.Description = action.Approval.Message
		req.ClarificationOptions = action.Approval.ClarificationOptions
	}
	e.emit(model.TopicPermissions, "approval_requested", rc.plan.PlanID, map[string]any{"action_id": action.ID})

	waitStart := time.Now()
	resp := e.cfg.Approval.RequestApproval(ctx, req, e.cfg.DefaultApprovalTimeout, e.cfg.DefaultApprovalTimeoutBehavior)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ApprovalWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}

	meta := &model.ApprovalMetadata{
		Decision:   string(resp.Decision),
		ApprovedBy: resp.ApprovedBy,
		Reason:     resp.Reason,
		Modified:   resp.ModifiedParams,
		DecidedAt:  resp.Timestamp,
	}

	rc.state.Actions[action.ID].ApprovalMetadata = meta

	switch resp.Decision {
	case approval.Approve, approval.ApproveAlways:
		e.emit(model.TopicPermissions, "approval_granted", rc.plan.PlanID, map[string]any{"action_id": action.ID})
		return nil, nil
	case approval.Modify:
		e.emit(model.TopicPermissions, "approval_granted", rc.plan.PlanID, map[string]any{"action_id": action.ID, "modified": true})
		return &approvalOutcome{modifiedParams: resp.ModifiedParams}, nil
	case approval.Skip:
		return &approvalOutcome{skip: true}, nil
	default: // Reject, or an unrecognised decision treated as reject
		e.emit(model.TopicPermissions, "approval_rejected", rc.plan.PlanID, map[string]any{"action_id": action.ID, "reason": resp.Reason})
		return nil, imlerrors.New(imlerrors.PermissionDenied, "approval request was rejected").
			WithDetail("action_id", action.ID).WithDetail("reason", resp.Reason)
	}
}

// dispatchOnce runs the rate limiter, resource manager, and node dispatch
// for a single attempt, including fallback_chains on dispatch failure and
// output sanitisation on success. It persists the action's terminal state
// on success but leaves failure persistence to the caller, which may still
// retry.
func (e *PlanExecutor) dispatchOnce(ctx context.Context, rc *runCtx, action *model.IMLAction, actionState *model.ActionState, params map[string]any, logger *slog.Logger) error {
	actionKey := action.Key()
	if limits, ok := e.cfg.RateLimits[actionKey]; ok {
		if err := e.cfg.RateLimit.CheckOrRaise(actionKey, limits); err != nil {
			if e.cfg.Metrics != nil {
				window := "minute"
				if limits.PerMinute == nil && limits.PerHour != nil {
					window = "hour"
				}
				e.cfg.Metrics.RateLimitRejectionsTotal.WithLabelValues(actionKey, window).Inc()
			}
			return err
		}
	}

	acquireStart := time.Now()
	release, err := e.cfg.Resources.Acquire(ctx, action.Module)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ResourceAcquireWaitSeconds.Observe(time.Since(acquireStart).Seconds())
	}
	if err != nil {
		return fmt.Errorf("acquire resource slot for module %q: %w", action.Module, err)
	}
	defer release()
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ResourceSlotsInUse.WithLabelValues(action.Module).Inc()
		defer e.cfg.Metrics.ResourceSlotsInUse.WithLabelValues(action.Module).Dec()
	}

	now := time.Now().UTC()
	actionState.Status = model.ActionRunning
	actionState.StartedAt = &now
	_ = e.cfg.Store.UpdateAction(ctx, rc.plan.PlanID, actionState)
	e.emit(model.TopicActions, "action_started", rc.plan.PlanID, map[string]any{"action_id": action.ID})

	result, dispatchErr := e.dispatch(ctx, action, params)
	if dispatchErr != nil {
		logger.Warn("action dispatch failed, trying fallback_chains", "error", dispatchErr)
		result, dispatchErr = e.dispatchFallbacks(ctx, action, params, dispatchErr)
	}
	if dispatchErr != nil {
		return dispatchErr
	}

	if e.cfg.Sanitizer != nil {
		result = e.cfg.Sanitizer.Sanitize(result, action.Module, action.Action)
	}

	finished := time.Now().UTC()
	actionState.Status = model.ActionCompleted
	actionState.FinishedAt = &finished
	actionState.Result = result
	actionState.Error = ""
	rc.results[action.ID] = result
	rc.completedIDs = append(rc.completedIDs, action.ID)

	if err := e.cfg.Store.UpdateAction(ctx, rc.plan.PlanID, actionState); err != nil {
		return fmt.Errorf("persist completed action %q: %w", action.ID, err)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.WaveActionsTotal.WithLabelValues(action.Module, "success").Inc()
	}
	e.emit(model.TopicActions, "action_completed", rc.plan.PlanID, map[string]any{"action_id": action.ID})
	return nil
}

func (e *PlanExecutor) dispatch(ctx context.Context, action *model.IMLAction, params map[string]any) (any, error) {
	node, err := e.cfg.Nodes.Resolve(action.EffectiveTargetNode())
	if err != nil {
		return nil, err
	}
	result, err := node.ExecuteAction(ctx, action.Module, action.Action, params)
	if err != nil {
		return nil, imlerrors.Wrap(imlerrors.ActionExecutionError,
			fmt.Sprintf("%s.%s failed", action.Module, action.Action), err).
			WithDetail("module", action.Module).WithDetail("action", action.Action)
	}
	return result, nil
}

// dispatchFallbacks tries, in order, every module configured as a fallback
// for action.Module against the same action name. The first success wins;
// if every fallback also fails (or none exist, or the fallback module has
// no such action), the original error is returned.
func (e *PlanExecutor) dispatchFallbacks(ctx context.Context, action *model.IMLAction, params map[string]any, original error) (any, error) {
	chain := e.cfg.FallbackChains[action.Module]
	for _, fallbackModule := range chain {
		node, err := e.cfg.Nodes.Resolve(action.EffectiveTargetNode())
		if err != nil {
			continue
		}
		result, err := node.ExecuteAction(ctx, fallbackModule, action.Action, params)
		if err == nil {
			return result, nil
		}
	}
	return nil, original
}

func (e *PlanExecutor) markSkipped(ctx context.Context, rc *runCtx, actionState *model.ActionState, reason string) {
	now := time.Now().UTC()
	actionState.Status = model.ActionSkipped
	actionState.FinishedAt = &now
	actionState.Error = reason
	_ = e.cfg.Store.UpdateAction(ctx, rc.plan.PlanID, actionState)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.WaveActionsTotal.WithLabelValues(rc.plan.ActionByID(actionState.ActionID).Module, "skipped").Inc()
	}
	e.emit(model.TopicActions, "action_skipped", rc.plan.PlanID, map[string]any{"action_id": actionState.ActionID, "reason": reason})
}
