package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/infrastructure/auth"
	"github.com/llmlb/llmlb/internal/infrastructure/monitoring"
	"github.com/llmlb/llmlb/internal/interfaces/http/handlers"
	"github.com/llmlb/llmlb/internal/interfaces/http/middleware"
	ws "github.com/llmlb/llmlb/internal/interfaces/websocket"
)

// Server wraps the gin engine and the underlying net/http.Server.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the HTTP listener.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// Handlers bundles every handler group the router wires, grouped the way
// spec.md §6 lists routes.
type Handlers struct {
	Inference *handlers.Inference
	Models    *handlers.Models
	Endpoints *handlers.Endpoints
	Auth      *handlers.Auth
	Dashboard *handlers.Dashboard
	Settings  *handlers.Settings
	System    *handlers.System
	WebSocket *ws.Handler
	Metrics   *monitoring.Metrics
	AuthSvc   *auth.Service
	AuthOff   bool
	Audit     middleware.AuditRecorder
}

// NewServer builds the gin engine, registers every route group, and
// wraps it in an http.Server bound to cfg.Host:cfg.Port.
func NewServer(cfg Config, h Handlers, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	if h.Metrics != nil {
		router.Use(h.Metrics.Middleware())
	}

	authenticate := middleware.Authenticate(h.AuthSvc, h.AuthOff)
	requireAdmin := middleware.RequireAdmin()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/version", h.System.Version)
	router.GET("/api/system", h.System.System)
	if h.Metrics != nil {
		router.GET("/metrics", h.Metrics.Handler())
	}

	v1 := router.Group("/v1", authenticate)
	{
		v1.POST("/chat/completions", h.Inference.ChatCompletions)
		v1.POST("/completions", h.Inference.Completions)
		v1.POST("/embeddings", h.Inference.Embeddings)
		v1.POST("/responses", h.Inference.Responses)
		v1.POST("/audio/transcriptions", h.Inference.AudioTranscriptions)
		v1.POST("/audio/speech", h.Inference.AudioSpeech)
		v1.POST("/images/generations", h.Inference.ImageGenerations)
		v1.POST("/images/edits", h.Inference.ImageEdits)
		v1.POST("/images/variations", h.Inference.ImageVariations)
		v1.GET("/models", h.Models.List)
	}

	audit := func(action string) gin.HandlerFunc {
		if h.Audit == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.Audit(h.Audit, action)
	}

	endpoints := router.Group("/api/endpoints", authenticate, requireAdmin)
	{
		endpoints.POST("", audit("endpoint.create"), h.Endpoints.Create)
		endpoints.GET("", h.Endpoints.List)
		endpoints.GET("/:id", h.Endpoints.Get)
		endpoints.PUT("/:id", audit("endpoint.update"), h.Endpoints.Update)
		endpoints.DELETE("/:id", audit("endpoint.delete"), h.Endpoints.Delete)
		endpoints.POST("/:id/test", audit("endpoint.test"), h.Endpoints.Test)
		endpoints.POST("/:id/sync", audit("endpoint.sync"), h.Endpoints.Sync)
		endpoints.POST("/:id/download", audit("endpoint.download"), h.Endpoints.Download)
		endpoints.GET("/:id/download/progress", h.Endpoints.DownloadProgress)
	}

	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/login", audit("auth.login"), h.Auth.Login)
		authGroup.GET("/me", authenticate, h.Auth.Me)

		admin := authGroup.Group("", authenticate, requireAdmin)
		admin.POST("/users", audit("user.create"), h.Auth.CreateUser)
		admin.GET("/users", h.Auth.ListUsers)
		admin.DELETE("/users/:id", audit("user.delete"), h.Auth.DeleteUser)
		admin.POST("/apikeys", audit("apikey.create"), h.Auth.CreateAPIKey)
		admin.GET("/apikeys", h.Auth.ListAPIKeys)
		admin.DELETE("/apikeys/:id", audit("apikey.revoke"), h.Auth.RevokeAPIKey)
		admin.POST("/invitations", audit("invitation.create"), h.Auth.CreateInvitation)
	}

	dashboard := router.Group("/api/dashboard", authenticate, requireAdmin)
	{
		dashboard.GET("/endpoints", h.Dashboard.Endpoints)
		dashboard.GET("/clients/heatmap", h.Dashboard.ClientsHeatmap)
		dashboard.GET("/clients/:ip/detail", h.Dashboard.ClientDetail)
		dashboard.GET("/request-responses", h.Dashboard.RequestResponses)
		dashboard.GET("/request-responses/export", h.Dashboard.ExportRequestResponses)
		dashboard.GET("/request-responses/:id", h.Dashboard.RequestResponseDetail)
	}

	settings := router.Group("/api/settings", authenticate, requireAdmin)
	{
		settings.GET("", h.Settings.List)
		settings.PUT("/:key", audit("setting.update"), h.Settings.Put)
	}

	update := router.Group("/api/system/update", authenticate, requireAdmin)
	{
		update.POST("/check", h.System.UpdateCheck)
		update.POST("/apply", audit("system.update.apply"), h.System.UpdateApply)
		update.POST("/apply/force", audit("system.update.apply_force"), h.System.UpdateApplyForce)
		update.POST("/rollback", audit("system.update.rollback"), h.System.UpdateRollback)
		update.GET("/history", h.System.UpdateHistory)
	}

	router.GET("/ws/dashboard", authenticate, requireAdmin, gin.WrapH(h.WebSocket))

	router.GET("/dashboard", serveDashboardShell)
	router.GET("/dashboard/*path", serveDashboardShell)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// serveDashboardShell returns the static SPA shell (spec.md §6: "mount
// point element with id root"). The dashboard's own JS bundle is built
// and deployed separately; this handler only guarantees the mount point
// every route under /dashboard resolves to.
func serveDashboardShell(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardShellHTML))
}

const dashboardShellHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>llmlb</title></head>
<body><div id="root"></div></body>
</html>
`

// Start begins serving in the background and returns immediately.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, bounded by ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
