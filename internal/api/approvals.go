package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llmos-bridge/daemon/internal/approval"
)

// submitApprovalDecisionRequest is the wire body for POST
// /plans/:plan_id/approvals — spec.md §6's submit_approval_decision.
type submitApprovalDecisionRequest struct {
	ActionID       string         `json:"action_id" binding:"required"`
	Decision       string         `json:"decision" binding:"required"`
	ModifiedParams map[string]any `json:"modified_params,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	ApprovedBy     string         `json:"approved_by,omitempty"`
}

// submitApprovalDecision resolves a pending approval request. applied is
// false when no such action is currently WAITING_APPROVAL on this plan
// (already decided, already timed out, or never requested) — the caller
// gets that back rather than an error, since by the time a human responds
// the gate may already have moved on.
func (s *Server) submitApprovalDecision(c *gin.Context) {
	planID := c.Param("plan_id")

	var req submitApprovalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := approval.Response{
		Decision:       approval.Decision(req.Decision),
		ModifiedParams: req.ModifiedParams,
		Reason:         req.Reason,
		ApprovedBy:     req.ApprovedBy,
		Timestamp:      time.Now().UTC(),
	}

	applied := s.Approval.SubmitDecision(planID, req.ActionID, resp)
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}
