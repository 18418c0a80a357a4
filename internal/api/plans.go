package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/llmos-bridge/daemon/internal/iml"
	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/llmos-bridge/daemon/internal/statestore"
)

// submitPlanRequest is the wire body for POST /plans. Plan is kept as raw
// JSON rather than decoded into model.IMLPlan directly so the Parser's
// repair-then-validate pipeline (near-miss JSON, template-reference and
// DAG checks) runs uniformly regardless of whether the plan was hand-typed
// or emitted by an LLM.
type submitPlanRequest struct {
	Plan  json.RawMessage `json:"plan" binding:"required"`
	Async bool            `json:"async"`
}

type submitPlanResponse struct {
	PlanID  string            `json:"plan_id"`
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Actions []actionStateView `json:"actions,omitempty"`
}

// actionStateView is ActionState reshaped for the wire: the persisted
// struct's fields already carry json tags, so this only exists to give the
// response a stable, named shape independent of model.ActionState's
// internal layout.
type actionStateView struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Attempt  int    `json:"attempt"`
}

func actionViews(state *model.ExecutionState) []actionStateView {
	views := make([]actionStateView, 0, len(state.Actions))
	for _, a := range state.Actions {
		views = append(views, actionStateView{
			ActionID: a.ActionID,
			Status:   string(a.Status),
			Error:    a.Error,
			Attempt:  a.Attempt,
		})
	}
	return views
}

// submitPlan handles POST /plans — spec.md §6's submit_plan contract. A
// parse or validation failure never reaches the executor: it comes back as
// a 400 carrying the correction-prompt text an LLM-facing client can feed
// straight back to its model.
func (s *Server) submitPlan(c *gin.Context) {
	var req submitPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := iml.Parse(s.Parser, []byte(req.Plan))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             err.Error(),
			"correction_prompt": iml.FormatCorrectionPrompt(err),
		})
		return
	}
	if plan.PlanID == "" {
		plan.PlanID = uuid.New().String()
	}
	if plan.ProtocolVersion == "" {
		plan.ProtocolVersion = model.ProtocolVersion
	}

	if !req.Async {
		s.runSync(c, plan)
		return
	}
	s.runAsync(c, plan)
}

func (s *Server) runAsync(c *gin.Context, plan *model.IMLPlan) {
	ctx, cancel := context.WithCancel(context.Background())
	s.live.register(plan.PlanID, cancel)

	go func() {
		defer cancel()
		defer s.live.unregister(plan.PlanID)
		_, _ = s.Executor.Run(ctx, plan)
	}()

	c.JSON(http.StatusAccepted, submitPlanResponse{
		PlanID:  plan.PlanID,
		Status:  string(model.PlanQueued),
		Message: "plan accepted for asynchronous execution",
	})
}

func (s *Server) runSync(c *gin.Context, plan *model.IMLPlan) {
	ctx, cancel := context.WithTimeout(context.Background(), SyncSubmitTimeout)
	defer cancel()
	s.live.register(plan.PlanID, cancel)
	defer s.live.unregister(plan.PlanID)

	state, err := s.Executor.Run(ctx, plan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, submitPlanResponse{
		PlanID:  state.PlanID,
		Status:  string(state.PlanStatus),
		Message: "plan run finished",
		Actions: actionViews(state),
	})
}

// getPlan handles GET /plans/:plan_id.
func (s *Server) getPlan(c *gin.Context) {
	planID := c.Param("plan_id")
	state, ok, err := s.Store.Get(c.Request.Context(), planID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan not found", "plan_id": planID})
		return
	}
	c.JSON(http.StatusOK, state)
}

// listPlans handles GET /plans?status=&page=&per_page=.
func (s *Server) listPlans(c *gin.Context) {
	page := queryInt(c, "page", 1)
	perPage := queryInt(c, "per_page", 20)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 500 {
		perPage = 20
	}

	filter := statestoreFilter(c.Query("status"))
	plans, total, err := s.Store.List(c.Request.Context(), filter, perPage, (page-1)*perPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plans":    plans,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// cancelPlan handles POST /plans/:plan_id/cancel — spec.md §6's
// cancel_plan. Cancellation is cooperative: it cancels the run's context,
// which the wave loop observes between dispatches and which the Approval
// Gate treats as an immediate synthetic-timeout REJECT for any action of
// this plan currently awaiting a decision (spec.md §5).
func (s *Server) cancelPlan(c *gin.Context) {
	planID := c.Param("plan_id")
	cancelled := s.live.cancel(planID)
	c.JSON(http.StatusOK, gin.H{"plan_id": planID, "cancelled": cancelled})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// statestoreFilter builds a ListFilter from a status query param, treating
// an empty or unrecognised value as "no filter" rather than an error —
// list_plans is a convenience read path, not a validated contract.
func statestoreFilter(status string) statestore.ListFilter {
	switch st := model.PlanStatus(status); st {
	case model.PlanQueued, model.PlanRunning, model.PlanCompleted, model.PlanFailed, model.PlanCancelled, model.PlanRejected:
		return statestore.ListFilter{Status: st}
	}
	return statestore.ListFilter{}
}
