package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"forecaster/internal/forecast"
	"forecaster/internal/model"
	"forecaster/internal/workflow"
)

// Handler 浏览器 API 处理器
type Handler struct {
	session   *workflow.Session
	uploadDir string
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewHandler 创建处理器；uploadDir 为上传文件的暂存目录
func NewHandler(session *workflow.Session, uploadDir string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		session:   session,
		uploadDir: uploadDir,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 只监听本机
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.GetStatus)

	// 登录
	router.POST("/auth/login", h.Login)
	router.POST("/auth/register", h.Register)
	router.POST("/auth/logout", h.Logout)

	// 工作流
	router.GET("/workflow", h.GetWorkflow)
	router.POST("/workflow/navigate", h.Navigate)
	router.POST("/workflow/restart", h.Restart)

	// 上传
	router.POST("/upload", h.Upload)

	// 字段映射
	router.GET("/schema/fields", h.GetFields)
	router.PUT("/schema/mapping", h.SetMapping)
	router.DELETE("/schema/mapping/:field", h.ClearMapping)
	router.POST("/schema/mapping/reset", h.ResetMapping)
	router.POST("/schema/mapping/suggest", h.SuggestMapping)
	router.GET("/schema/validation", h.GetValidation)
	router.POST("/schema/validate", h.Validate)

	// 预测
	router.POST("/forecast", h.StartForecast)
	router.GET("/forecast", h.GetForecast)

	// 事件推送
	router.GET("/events", h.Events)
}

// statusOf 会话错误对应的 HTTP 状态码
func statusOf(err error) int {
	var subErr *workflow.SubmissionError
	switch {
	case errors.Is(err, workflow.ErrNotAuthenticated), errors.Is(err, workflow.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, workflow.ErrInvalidUpload), errors.Is(err, model.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrStepNotReady), errors.Is(err, workflow.ErrStale), errors.Is(err, forecast.ErrNoMapping):
		return http.StatusConflict
	case errors.As(err, &subErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrSessionClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorBody 错误响应体
func errorBody(err error) gin.H {
	var subErr *workflow.SubmissionError
	if errors.As(err, &subErr) {
		return gin.H{"error": subErr.Op + " failed", "detail": subErr.Detail}
	}
	return gin.H{"error": err.Error()}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, errorBody(err))
}

// workflowResponse 附带当前工作流状态的变更结果
type workflowResponse struct {
	Transition *workflow.Transition `json:"transition,omitempty"`
	Workflow   workflow.Snapshot    `json:"workflow"`
}

func (h *Handler) respond(c *gin.Context, tr workflow.Transition) {
	c.JSON(http.StatusOK, workflowResponse{Transition: &tr, Workflow: h.session.Snapshot()})
}
