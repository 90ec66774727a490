package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-monitor/internal/core/workflow"
	"github.com/frostdev-ops/pma-monitor/pkg/utils"
)

// GetWorkflows returns the registered workflows
func (h *Handlers) GetWorkflows(c *gin.Context) {
	list := h.engine.Workflows()
	utils.SendSuccessWithMeta(c, list, gin.H{"count": len(list)})
}

type runWorkflowRequest struct {
	actorRequest
	Variables map[string]interface{} `json:"variables"`
}

// RunWorkflow starts a workflow by hand
func (h *Handlers) RunWorkflow(c *gin.Context) {
	var req runWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	instanceID, err := h.engine.RunWorkflow(c.Request.Context(), c.Param("id"), actor(c, req.UserID), req.Variables)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, utils.Response{
		Success:   true,
		Data:      gin.H{"instance_id": instanceID},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type workflowStatusRequest struct {
	Status workflow.Status `json:"status" binding:"required"`
}

// SetWorkflowStatus activates, pauses or disables a workflow
func (h *Handlers) SetWorkflowStatus(c *gin.Context) {
	var req workflowStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "status is required")
		return
	}
	if err := h.engine.SetWorkflowStatus(c.Param("id"), req.Status); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"id": c.Param("id"), "status": req.Status})
}

// GetWorkflowInstances returns recent workflow runs
func (h *Handlers) GetWorkflowInstances(c *gin.Context) {
	workflowID := c.Query("workflow_id")
	status := c.Query("status")
	limit := queryLimit(c, 50)

	out := make([]workflow.Instance, 0)
	for _, inst := range h.engine.WorkflowInstances(0) {
		if workflowID != "" && inst.WorkflowID != workflowID {
			continue
		}
		if status != "" && string(inst.Status) != status {
			continue
		}
		out = append(out, inst)
		if len(out) == limit {
			break
		}
	}
	utils.SendSuccessWithMeta(c, out, gin.H{"count": len(out)})
}

// GetWorkflowInstance returns one workflow run
func (h *Handlers) GetWorkflowInstance(c *gin.Context) {
	inst, ok := h.engine.WorkflowInstance(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Workflow instance not found")
		return
	}
	utils.SendSuccess(c, inst)
}

// GetWorkflowHistory returns persisted workflow runs
func (h *Handlers) GetWorkflowHistory(c *gin.Context) {
	if h.audit == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Workflow history is not available")
		return
	}
	runs, err := h.audit.ListWorkflowRuns(c.Request.Context(), c.Query("workflow_id"), queryLimit(c, 100))
	if err != nil {
		h.log.WithError(err).Error("Failed to load workflow history")
		utils.SendError(c, http.StatusInternalServerError, "Failed to load workflow history")
		return
	}
	utils.SendSuccessWithMeta(c, runs, gin.H{"count": len(runs)})
}

// ApproveWorkflowStep approves the step a run is waiting on
func (h *Handlers) ApproveWorkflowStep(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.engine.ApproveWorkflow(id, actor(c, req.UserID), req.Reason); err != nil {
		utils.SendAppError(c, err)
		return
	}
	inst, _ := h.engine.WorkflowInstance(id)
	utils.SendSuccess(c, inst)
}

// RejectWorkflowStep rejects the step a run is waiting on
func (h *Handlers) RejectWorkflowStep(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.engine.RejectWorkflow(id, actor(c, req.UserID), req.Reason); err != nil {
		utils.SendAppError(c, err)
		return
	}
	inst, _ := h.engine.WorkflowInstance(id)
	utils.SendSuccess(c, inst)
}
