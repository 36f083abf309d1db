package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	v1 "forecaster/internal/api/v1"
	"forecaster/internal/config"
	"forecaster/internal/logging"
)

// devFrontendURL 开发模式下前端开发服务器地址
const devFrontendURL = "http://localhost:5173"

// Server HTTP服务器
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	logger  *zap.Logger
}

// NewServer 创建服务器
func NewServer(cfg *config.AppConfig, api *v1.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(logging.GinLogger(logger), logging.GinRecovery(logger))

	s := &Server{
		router:  router,
		httpSrv: &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
		logger:  logger,
	}
	s.setupRoutes(cfg.Server, api)
	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(cfg config.ServerConfig, api *v1.Handler) {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	api.RegisterRoutes(s.router.Group("/api"))

	switch {
	case cfg.DevMode:
		// 开发模式：重定向到前端开发服务器
		s.router.NoRoute(func(c *gin.Context) {
			if isAPIPath(c.Request.URL.Path) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.Redirect(http.StatusTemporaryRedirect, devFrontendURL+c.Request.URL.Path)
		})
	case cfg.StaticDir != "":
		s.serveStatic(cfg.StaticDir)
	default:
		s.router.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		})
	}
}

// serveStatic 提供前端构建产物，未知路径回退到 index.html（SPA 路由）
func (s *Server) serveStatic(dir string) {
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		s.logger.Warn("static dir has no index.html", zap.String("dir", dir), zap.Error(err))
	}

	s.router.Static("/assets", filepath.Join(dir, "assets"))
	s.router.StaticFile("/favicon.svg", filepath.Join(dir, "favicon.svg"))
	s.router.GET("/", func(c *gin.Context) {
		c.File(index)
	})
	s.router.NoRoute(func(c *gin.Context) {
		if isAPIPath(c.Request.URL.Path) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.File(index)
	})
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// Handler 路由（用于测试）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器，正常关闭时返回 nil；Shutdown 之后调用立即返回
func (s *Server) Run(addr string) error {
	s.httpSrv.Addr = addr
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接受新连接并等待进行中的请求
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
