package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/llmos-bridge/daemon/internal/iml"
	"github.com/llmos-bridge/daemon/internal/model"
)

type submitPlanGroupRequest struct {
	Plans          []json.RawMessage `json:"plans" binding:"required"`
	MaxConcurrent  int               `json:"max_concurrent"`
	TimeoutSeconds float64           `json:"timeout_seconds"`
	GroupID        string            `json:"group_id"`
}

type planGroupResponse struct {
	GroupID     string                            `json:"group_id"`
	Status      string                            `json:"status"`
	PlanResults map[string]*model.ExecutionState `json:"plan_results"`
	Errors      map[string]string                `json:"errors"`
	Summary     string                            `json:"summary"`
	Duration    float64                           `json:"duration"`
}

// submitPlanGroup handles POST /plan-groups — spec.md §6's
// submit_plan_group, fanning each plan out through the Plan Group
// Executor and always blocking until the group finishes or its own
// timeout fires (a plan group is an inherently synchronous batch; there is
// no async variant in spec.md's contract).
func (s *Server) submitPlanGroup(c *gin.Context) {
	var req submitPlanGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Plans) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plans must be a non-empty array"})
		return
	}

	plans := make([]*model.IMLPlan, 0, len(req.Plans))
	for i, raw := range req.Plans {
		plan, err := iml.Parse(s.Parser, []byte(raw))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":             err.Error(),
				"correction_prompt": iml.FormatCorrectionPrompt(err),
				"plan_index":        i,
			})
			return
		}
		if plan.PlanID == "" {
			plan.PlanID = uuid.New().String()
		}
		plans = append(plans, plan)
	}

	groupID := req.GroupID
	if groupID == "" {
		groupID = uuid.New().String()
	}

	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	start := time.Now()
	result := s.Group.RunGroup(c.Request.Context(), plans, req.MaxConcurrent, timeout)
	duration := time.Since(start).Seconds()

	summary := result.GroupError
	if summary == "" {
		summary = string(result.Status)
	}

	c.JSON(http.StatusOK, planGroupResponse{
		GroupID:     groupID,
		Status:      string(result.Status),
		PlanResults: result.Results,
		Errors:      result.Errors,
		Summary:     summary,
		Duration:    duration,
	})
}
