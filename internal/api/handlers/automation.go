package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
	"github.com/frostdev-ops/pma-monitor/pkg/utils"
)

// GetAutomationStats returns rule and execution statistics
func (h *Handlers) GetAutomationStats(c *gin.Context) {
	utils.SendSuccess(c, h.engine.GetAutomationStats())
}

// GetRules returns the decision rules in priority order
func (h *Handlers) GetRules(c *gin.Context) {
	rules := h.engine.Rules()
	utils.SendSuccessWithMeta(c, rules, gin.H{"count": len(rules)})
}

type ruleEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetRuleEnabled turns a rule on or off
func (h *Handlers) SetRuleEnabled(c *gin.Context) {
	var req ruleEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.engine.SetRuleEnabled(c.Param("id"), *req.Enabled); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"id": c.Param("id"), "enabled": *req.Enabled})
}

// GetExecutions returns recent executions, optionally for one rule
func (h *Handlers) GetExecutions(c *gin.Context) {
	ruleID := c.Query("rule_id")
	outcome := c.Query("outcome")
	limit := queryLimit(c, 50)

	out := make([]automation.Execution, 0)
	for _, x := range h.engine.Executions(0) {
		if ruleID != "" && x.RuleID != ruleID {
			continue
		}
		if outcome != "" && string(x.Outcome) != outcome {
			continue
		}
		out = append(out, x)
		if len(out) == limit {
			break
		}
	}
	utils.SendSuccessWithMeta(c, out, gin.H{"count": len(out)})
}

// GetExecution returns one execution
func (h *Handlers) GetExecution(c *gin.Context) {
	x, ok := h.engine.Execution(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Execution not found")
		return
	}
	utils.SendSuccess(c, x)
}

// GetExecutionHistory returns persisted executions
func (h *Handlers) GetExecutionHistory(c *gin.Context) {
	if h.audit == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Execution history is not available")
		return
	}
	records, err := h.audit.ListExecutions(c.Request.Context(), c.Query("rule_id"), queryLimit(c, 100))
	if err != nil {
		h.log.WithError(err).Error("Failed to load execution history")
		utils.SendError(c, http.StatusInternalServerError, "Failed to load execution history")
		return
	}
	utils.SendSuccessWithMeta(c, records, gin.H{"count": len(records)})
}

type decisionRequest struct {
	actorRequest
	Reason string `json:"reason"`
}

func bindDecision(c *gin.Context) (decisionRequest, bool) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	return req, true
}

// ApproveExecution approves an execution waiting on its rule's approval gate
// and runs its actions
func (h *Handlers) ApproveExecution(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}
	x, err := h.engine.ApproveExecution(c.Request.Context(), c.Param("id"), actor(c, req.UserID))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, x)
}

// RejectExecution rejects an execution waiting on its rule's approval gate
func (h *Handlers) RejectExecution(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}
	x, err := h.engine.RejectExecution(c.Param("id"), actor(c, req.UserID), req.Reason)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, x)
}
