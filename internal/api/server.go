// Package api implements the daemon's HTTP front door: the gin router and
// handlers that give an LLM (or any other local caller) the inbound
// contracts spec.md §6 defines — submit_plan, get_plan, list_plans,
// cancel_plan, submit_plan_group, submit_approval_decision, and trigger
// CRUD — plus a WebSocket upgrade endpoint and the Prometheus /metrics
// surface. Grounded on the teacher's pkg/api/handlers.go (Server struct
// wrapping its collaborators, one method per route, gin.H error bodies)
// generalised from a single-session chat API to the plan/trigger surface
// this daemon actually exposes.
package api

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llmos-bridge/daemon/internal/approval"
	"github.com/llmos-bridge/daemon/internal/buildinfo"
	"github.com/llmos-bridge/daemon/internal/eventbus"
	"github.com/llmos-bridge/daemon/internal/executor"
	"github.com/llmos-bridge/daemon/internal/iml"
	"github.com/llmos-bridge/daemon/internal/metrics"
	"github.com/llmos-bridge/daemon/internal/statestore"
	"github.com/llmos-bridge/daemon/internal/triggers"
)

// SyncSubmitTimeout is the hard ceiling spec.md §6 places on a synchronous
// submit_plan call: if the plan hasn't reached a terminal state by then,
// the caller gets back whatever state exists rather than blocking forever.
const SyncSubmitTimeout = 300 * time.Second

// Server wires every collaborator the HTTP surface dispatches into. It
// owns no business logic of its own beyond request/response shaping and
// the live-plan cancellation registry cancel_plan needs.
type Server struct {
	Parser   *iml.Parser
	Executor *executor.PlanExecutor
	Group    *executor.GroupExecutor
	Store    *statestore.Store
	Approval *approval.Gate
	Triggers *triggers.Module
	Events   eventbus.Bus
	WS       *eventbus.WSBus
	Metrics  *metrics.Metrics

	live liveRuns
}

// NewServer builds a Server. Every collaborator field on Server may be set
// directly by the caller after construction (cmd/llmosd wires them all in
// one place); NewServer only initialises the parts Server itself owns.
func NewServer() *Server {
	return &Server{live: newLiveRuns()}
}

// liveRuns tracks the context.CancelFunc of every plan currently executing,
// so cancel_plan can stop a specific in-flight Run call without the
// executor itself needing any notion of an out-of-band cancel request.
// Mirrors triggers.ExecutorScheduler's inFlight map — the same
// mutex-guarded "id -> cancel" pattern, one layer up the call stack.
type liveRuns struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newLiveRuns() liveRuns {
	return liveRuns{cancels: make(map[string]context.CancelFunc)}
}

func (l *liveRuns) register(planID string, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancels[planID] = cancel
}

func (l *liveRuns) unregister(planID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cancels, planID)
}

// cancel requests cancellation of planID's run, reporting whether it was
// actually found running.
func (l *liveRuns) cancel(planID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancel, ok := l.cancels[planID]
	if !ok {
		return false
	}
	cancel()
	delete(l.cancels, planID)
	return true
}

// Router builds the gin engine and registers every route. Routes are kept
// flat (no versioned group) since this is a local daemon with a single
// consumer, not a public multi-tenant API.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/health", s.health)
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	r.POST("/plans", s.submitPlan)
	r.GET("/plans", s.listPlans)
	r.GET("/plans/:plan_id", s.getPlan)
	r.POST("/plans/:plan_id/cancel", s.cancelPlan)
	r.POST("/plans/:plan_id/approvals", s.submitApprovalDecision)

	r.POST("/plan-groups", s.submitPlanGroup)

	r.POST("/triggers", s.registerTrigger)
	r.GET("/triggers", s.listTriggers)
	r.GET("/triggers/:trigger_id", s.getTrigger)
	r.POST("/triggers/:trigger_id/activate", s.activateTrigger)
	r.POST("/triggers/:trigger_id/deactivate", s.deactivateTrigger)
	r.DELETE("/triggers/:trigger_id", s.deleteTrigger)

	if s.WS != nil {
		r.GET("/ws", s.serveWebSocket)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "version": buildinfo.Full()})
}
