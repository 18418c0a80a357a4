package triggers

import (
	"context"
	"fmt"
	"sync"

	"github.com/llmos-bridge/daemon/internal/iml"
	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/llmos-bridge/daemon/internal/session"
)

// planRunner is the subset of *executor.PlanExecutor the scheduler
// depends on, narrowed to an interface so tests can substitute a stub
// without constructing a full executor.
type planRunner interface {
	Run(ctx context.Context, plan *model.IMLPlan) (*model.ExecutionState, error)
}

// ExecutorScheduler is the production Scheduler: it instantiates the
// trigger's plan_template into a submittable plan, binds the fire's
// trigger context into the Session Context Propagator for the duration of
// the run, and dispatches through the Plan Executor — applying
// conflict_policy REJECT or PREEMPT to a trigger that fires again before
// its previous plan finished (spec.md §4.14 step 6). A QUEUE fire is
// dispatched at once, without waiting for the previous plan.
type ExecutorScheduler struct {
	plans    planRunner
	sessions *session.Propagator
	parser   *iml.Parser

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
}

func NewExecutorScheduler(plans planRunner, sessions *session.Propagator, parser *iml.Parser) *ExecutorScheduler {
	return &ExecutorScheduler{
		plans:    plans,
		sessions: sessions,
		parser:   parser,
		inFlight: make(map[string]context.CancelFunc),
	}
}

func (s *ExecutorScheduler) Enqueue(ctx context.Context, t *Definition, fireEvent FireEvent) error {
	switch t.ConflictPolicy {
	case ConflictReject:
		s.mu.Lock()
		_, running := s.inFlight[t.TriggerID]
		s.mu.Unlock()
		if running {
			return fmt.Errorf("trigger %q already has a plan in flight, dropping fire (reject policy)", t.TriggerID)
		}
	case ConflictPreempt:
		s.mu.Lock()
		if cancel, running := s.inFlight[t.TriggerID]; running {
			cancel()
		}
		s.mu.Unlock()
	case ConflictQueue:
		// No admission check and no waiting: onWatcherFire dispatches each
		// fire on its own goroutine, so a second fire for the same trigger
		// dispatches its plan while the previous one may still be running.
	}

	payload := buildPlanPayload(t, fireEvent.PlanID)
	plan, err := iml.Parse(s.parser, payload)
	if err != nil {
		return fmt.Errorf("instantiate plan template for trigger %q: %w", t.TriggerID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.inFlight[t.TriggerID] = cancel
	s.mu.Unlock()

	if s.sessions != nil {
		s.sessions.Bind(plan.PlanID, fireEvent.AsTemplateContext())
	}
	defer func() {
		if s.sessions != nil {
			s.sessions.Unbind(plan.PlanID)
		}
		s.mu.Lock()
		delete(s.inFlight, t.TriggerID)
		s.mu.Unlock()
		cancel()
	}()

	_, err = s.plans.Run(runCtx, plan)
	return err
}
