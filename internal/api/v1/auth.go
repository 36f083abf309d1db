package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"forecaster/internal/backend"
)

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName"`
}

// Login 登录
// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	if err := h.session.Login(c.Request.Context(), backend.Credentials{Email: req.Email, Password: req.Password}); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Status())
}

// Register 注册，成功后需再登录
// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	p := backend.Profile{Email: req.Email, Password: req.Password, FullName: req.FullName}
	if err := h.session.Register(c.Request.Context(), p); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"registered": true})
}

// Logout 登出并清空工作流
// POST /api/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	h.respond(c, h.session.Logout())
}
