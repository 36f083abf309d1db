package v1

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"forecaster/internal/model"
	"forecaster/internal/workflow"
)

// ForecastRequest 预测请求；字段为空时使用默认配置
type ForecastRequest struct {
	Model   string `json:"model"`
	Horizon int    `json:"horizon"`
}

// ForecastResponse 当前任务
type ForecastResponse struct {
	Run      *model.ForecastRun `json:"run"`
	Workflow workflow.Snapshot  `json:"workflow"`
}

// StartForecast 提交预测并推送任务快照 (SSE 流式响应)
// 客户端断开不影响任务，之后可通过 GET /api/forecast 查询
// POST /api/forecast
func (h *Handler) StartForecast(c *gin.Context) {
	var req ForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forecast request"})
		return
	}

	cfg := model.ForecastConfig{Model: model.ModelSelection(req.Model), HorizonPeriods: req.Horizon}
	handle, err := h.session.StartForecast(c.Request.Context(), cfg)
	if err != nil {
		h.fail(c, err)
		return
	}

	w, ok := startSSE(c)
	if !ok {
		return
	}

	updates := handle.Subscribe()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case run, ok := <-updates:
			if !ok {
				return
			}
			w.send(runEvent(run))
		}
	}
}

// runEvent 任务快照对应的事件类型
func runEvent(run model.ForecastRun) ProgressEvent {
	switch run.Status {
	case model.RunSucceeded:
		return newEvent("done", run.Stage, run)
	case model.RunFailed:
		return newEvent("error", run.Error, run)
	case model.RunPending:
		return newEvent("start", run.Stage, run)
	}
	return newEvent("progress", run.Stage, run)
}

// GetForecast 当前关联到工作流的任务；没有时 run 为 null
// GET /api/forecast
func (h *Handler) GetForecast(c *gin.Context) {
	resp := ForecastResponse{Workflow: h.session.Snapshot()}
	if handle, ok := h.session.CurrentRun(); ok {
		run := handle.Snapshot()
		resp.Run = &run
	}
	c.JSON(http.StatusOK, resp)
}
