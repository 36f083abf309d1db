package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"forecaster/internal/model"
	"forecaster/internal/workflow"
)

// StatusResponse 系统状态响应
type StatusResponse struct {
	workflow.Status
	Step          workflow.Step          `json:"step"`
	Models        []model.ModelSelection `json:"models"`
	DefaultConfig model.ForecastConfig   `json:"defaultConfig"`
}

// GetStatus 获取登录与工作流状态
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:        h.session.Status(),
		Step:          h.session.Snapshot().Step,
		Models:        model.KnownModels(),
		DefaultConfig: h.session.DefaultConfig(),
	})
}
