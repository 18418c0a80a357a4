package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/llmos-bridge/daemon/internal/model"
)

// GroupStatus is the aggregate outcome of a Plan Group Executor run.
type GroupStatus string

const (
	GroupCompleted      GroupStatus = "completed"
	GroupPartialFailure GroupStatus = "partial_failure"
	GroupFailed         GroupStatus = "failed"
)

// GroupResult collects every plan's outcome from one fan-out run.
type GroupResult struct {
	Status     GroupStatus
	Results    map[string]*model.ExecutionState // plan_id -> final state, for plans that ran to a result
	Errors     map[string]string                // plan_id -> infrastructure error, for plans that never got a result
	GroupError string                            // set only when the group-level timeout fired
}

// GroupExecutor runs an independent batch of plans concurrently, bounded
// by max_concurrent, and aggregates their outcomes — spec.md §4.13. It is
// a thin fan-out layer on top of PlanExecutor; each plan still goes
// through the full single-plan lifecycle (preflight, waves, rollback).
type GroupExecutor struct {
	plans *PlanExecutor
}

func NewGroupExecutor(planExecutor *PlanExecutor) *GroupExecutor {
	return &GroupExecutor{plans: planExecutor}
}

// RunGroup launches up to maxConcurrent plans in parallel and waits for
// all of them to finish or for timeout to elapse, whichever comes first.
// A maxConcurrent <= 0 means unbounded concurrency (len(plans) at once).
func (g *GroupExecutor) RunGroup(ctx context.Context, plans []*model.IMLPlan, maxConcurrent int, timeout time.Duration) *GroupResult {
	if maxConcurrent <= 0 {
		maxConcurrent = len(plans)
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	groupCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		groupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := &GroupResult{
		Results: make(map[string]*model.ExecutionState, len(plans)),
		Errors:  make(map[string]string, len(plans)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrent)

	for _, plan := range plans {
		plan := plan
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			state, err := g.plans.Run(groupCtx, plan)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[plan.PlanID] = err.Error()
				return
			}
			result.Results[plan.PlanID] = state
		}()
	}
	wg.Wait()

	if timeout > 0 && groupCtx.Err() != nil {
		result.GroupError = fmt.Sprintf("plan group exceeded its %s timeout; in-flight plans were cancelled cooperatively", timeout)
	}

	result.Status = aggregateStatus(plans, result)
	return result
}

func aggregateStatus(plans []*model.IMLPlan, result *GroupResult) GroupStatus {
	completed := 0
	for _, plan := range plans {
		if state, ok := result.Results[plan.PlanID]; ok && state.PlanStatus == model.PlanCompleted {
			completed++
		}
	}
	switch {
	case completed == len(plans):
		return GroupCompleted
	case completed == 0:
		return GroupFailed
	default:
		return GroupPartialFailure
	}
}
