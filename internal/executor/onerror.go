package executor

import (
	"context"
	"time"

	"github.com/llmos-bridge/daemon/internal/approval"
	"github.com/llmos-bridge/daemon/internal/model"
)

// handleActionFailure persists a terminal FAILED ActionState and applies
// the action's on_error policy (spec.md §4.12.3b). It returns true if the
// plan must HALT as a result.
func (e *PlanExecutor) handleActionFailure(ctx context.Context, rc *runCtx, action *model.IMLAction, actionState *model.ActionState, attempt int, cause error) bool {
	now := time.Now().UTC()
	actionState.Status = model.ActionFailed
	actionState.FinishedAt = &now
	actionState.Attempt = attempt
	actionState.Error = cause.Error()

	switch action.OnError {
	case model.OnErrorContinue:
		actionState.Alternatives = alternativeHints(cause.Error(), action.Module, action.Action, e.cfg.FallbackChains)
		e.persistAndEmitFailure(ctx, rc, action, actionState)
		return false

	case model.OnErrorEscalate:
		return e.escalate(ctx, rc, action, actionState, cause)

	default: // HALT, and RETRY once its attempts are exhausted
		e.persistAndEmitFailure(ctx, rc, action, actionState)
		return true
	}
}

func (e *PlanExecutor) persistAndEmitFailure(ctx context.Context, rc *runCtx, action *model.IMLAction, actionState *model.ActionState) {
	_ = e.cfg.Store.UpdateAction(ctx, rc.plan.PlanID, actionState)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.WaveActionsTotal.WithLabelValues(action.Module, "failure").Inc()
	}
	e.emit(model.TopicActions, "action_failed", rc.plan.PlanID, map[string]any{
		"action_id": action.ID, "error": actionState.Error,
	})
}

// escalate synthesises an Approval Gate request asking a human to choose
// HALT or CONTINUE for a failed action, per spec.md §4.12.3b's ESCALATE
// policy. APPROVE (and APPROVE_ALWAYS)/MODIFY are treated as "continue
// past this failure"; REJECT, SKIP, or a timeout are treated as HALT.
func (e *PlanExecutor) escalate(ctx context.Context, rc *runCtx, action *model.IMLAction, actionState *model.ActionState, cause error) bool {
	e.persistAndEmitFailure(ctx, rc, action, actionState)

	req := approval.Request{
		PlanID:                 rc.plan.PlanID,
		ActionID:               action.ID,
		Module:                 action.Module,
		ActionName:             action.Action,
		RequiresApprovalReason: "action failed: " + cause.Error(),
		ClarificationOptions:   []string{"continue", "halt"},
		RequestedAt:            time.Now().UTC(),
	}
	e.emit(model.TopicPermissions, "approval_requested", rc.plan.PlanID, map[string]any{"action_id": action.ID, "escalation": true})

	resp := e.cfg.Approval.RequestApproval(ctx, req, e.cfg.DefaultApprovalTimeout, e.cfg.DefaultApprovalTimeoutBehavior)

	switch resp.Decision {
	case approval.Approve, approval.ApproveAlways, approval.Modify:
		e.emit(model.TopicPermissions, "approval_granted", rc.plan.PlanID, map[string]any{"action_id": action.ID})
		return false // CONTINUE
	default:
		e.emit(model.TopicPermissions, "approval_rejected", rc.plan.PlanID, map[string]any{"action_id": action.ID})
		return true // HALT
	}
}

// runRollback executes, in LIFO order, the rollback sub-action of every
// successfully-completed action that declared one. Each rollback is a
// single attempt regardless of the original action's retry policy, and
// bypasses the rate limiter entirely — spec.md §4.12.4. A rollback
// failure is logged as rollback_failed and never triggers further
// rollbacks or re-enters this loop. ctx is expected to be a context
// detached from the one that triggered the HALT, so a cancelled plan
// context doesn't also abort its own cleanup.
func (e *PlanExecutor) runRollback(ctx context.Context, rc *runCtx) {
	for i := len(rc.completedIDs) - 1; i >= 0; i-- {
		actionID := rc.completedIDs[i]
		action := rc.plan.ActionByID(actionID)
		if action == nil || action.Rollback == nil {
			continue
		}

		rollbackAction := action.Rollback
		rc.logger.Info("plan executor: running rollback", "action_id", actionID, "rollback_module", rollbackAction.Module, "rollback_action", rollbackAction.Action)

		params, err := e.resolveParams(rc, rollbackAction)
		if err != nil {
			e.logRollbackFailure(rc, actionID, err)
			continue
		}

		release, err := e.cfg.Resources.Acquire(ctx, rollbackAction.Module)
		if err != nil {
			e.logRollbackFailure(rc, actionID, err)
			continue
		}
		_, err = e.dispatch(ctx, rollbackAction, params)
		release()
		if err != nil {
			e.logRollbackFailure(rc, actionID, err)
		}
	}
}

func (e *PlanExecutor) logRollbackFailure(rc *runCtx, actionID string, err error) {
	rc.logger.Error("plan executor: rollback_failed", "action_id", actionID, "error", err)
	e.emit(model.TopicActions, "rollback_failed", rc.plan.PlanID, map[string]any{"action_id": actionID, "error": err.Error()})
}
