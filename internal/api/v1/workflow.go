package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"forecaster/internal/workflow"
)

// NavigateRequest 导航请求
type NavigateRequest struct {
	Step string `json:"step" binding:"required"`
}

// GetWorkflow 当前工作流状态
// GET /api/workflow
func (h *Handler) GetWorkflow(c *gin.Context) {
	c.JSON(http.StatusOK, workflowResponse{Workflow: h.session.Snapshot()})
}

// Navigate 前往可用步骤；目标不可用时返回被拒绝的 transition
// POST /api/workflow/navigate
func (h *Handler) Navigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "step is required"})
		return
	}
	step, ok := workflow.ParseStep(req.Step)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown step " + req.Step})
		return
	}
	h.respond(c, h.session.Navigate(step))
}

// Restart 放弃当前数据集，回到上传
// POST /api/workflow/restart
func (h *Handler) Restart(c *gin.Context) {
	h.respond(c, h.session.StartNewDataset())
}
