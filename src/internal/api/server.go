package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"nudge/src/internal/gateway"
	"nudge/src/internal/session"
)

const ownerHeader = "X-User-ID"

type Server struct {
	Gateway *gateway.Gateway
	Engine  *gin.Engine

	handler http.Handler
}

func NewServer(gw *gateway.Gateway) *Server {
	e := gin.New()
	e.Use(gin.Recovery())
	s := &Server{
		Gateway: gw,
		Engine:  e,
	}
	s.Engine.Use(s.injectMiddleware())
	s.Engine.Use(s.authMiddleware())
	s.setupRoutesRest()
	s.setupRoutesWebSocket()
	s.setupRoutesAdmin()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Server-Key", ownerHeader},
	}).Handler(s.Engine)
	return s
}

// Handler is the gin engine wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) setupRoutesAdmin() {
	admin := s.Engine.Group("/api/admin/v1", s.adminMiddleware())
	{
		admin.GET("/health", s.handleAdminHealth)
		admin.GET("/config", s.handleGetConfig)
		admin.POST("/config", s.handleUpdateConfig)
		admin.GET("/sessions", s.handleListSessions)
		admin.GET("/sessions/:id", s.handleGetSession)
		admin.POST("/sessions/:id/reset", s.handleResetSession)
		admin.GET("/channels/:name", s.handleChannelStatus)
		admin.POST("/channels/:name/enroll", s.handleChannelEnroll)
		admin.GET("/channels/:name/devices", s.handleChannelDevices)
	}
}

func (s *Server) setupRoutesWebSocket() {
	s.Engine.GET("/ws", s.handleWebsocket)
}

func (s *Server) setupRoutesRest() {
	v1 := s.Engine.Group("/api/v1")
	{
		v1.POST("/prompt", s.handlePrompt)
		v1.GET("/tools", s.handleListTools)

		r := v1.Group("/reminders")
		r.GET("", s.handleListReminders)
		r.POST("", s.handleCreateReminder)
		r.GET("/:id", s.handleGetReminder)
		r.PATCH("/:id", s.handleUpdateReminder)
		r.DELETE("/:id", s.handleDeleteReminder)
		r.POST("/:id/complete", s.handleCompleteReminder)
		r.POST("/:id/uncomplete", s.handleTransition("uncomplete"))
		r.POST("/:id/archive", s.handleTransition("archive"))
		r.POST("/:id/unarchive", s.handleTransition("unarchive"))
	}
}

func (s *Server) injectMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("gateway", s.Gateway)
		owner := strings.TrimSpace(c.GetHeader(ownerHeader))
		if owner == "" {
			owner = strings.TrimSpace(c.Query("user"))
		}
		if owner == "" {
			owner = session.DefaultSessionID
		}
		c.Set("owner", owner)
		c.Next()
	}
}

func ownerOf(c *gin.Context) string {
	return c.GetString("owner")
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Admin endpoints use basic auth instead
		if strings.HasPrefix(c.Request.URL.Path, "/api/admin/v1") {
			c.Next()
			return
		}
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		gw := c.MustGet("gateway").(*gateway.Gateway)
		key := gw.Config.Server.Key
		if key == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Server-Key")

		isWebSocket := false
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			conn := strings.ToLower(c.GetHeader("Connection"))
			if strings.Contains(conn, "upgrade") {
				isWebSocket = true
			}
		}

		if isWebSocket {
			if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
				c.Set("nudge_ws_key", protocol)
			}
			if provided == "" {
				provided = c.Query("token")
			}
			if provided == "" {
				// Browsers can only pass the key as "nudge-key, <value>"
				const label = "nudge-key"
				parts := strings.Split(c.GetHeader("Sec-WebSocket-Protocol"), ",")
				for i, p := range parts {
					if strings.TrimSpace(p) == label && i+1 < len(parts) {
						provided = strings.TrimSpace(parts[i+1])
						break
					}
				}
			}
		}

		if provided != key {
			slog.Warn("unauthorized request", "path", c.Request.URL.Path, "remote", c.ClientIP(), "provided", provided != "")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing server key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		gw := c.MustGet("gateway").(*gateway.Gateway)
		user := gw.Config.Server.AdminUser
		pass := gw.Config.Server.AdminPass

		// No admin credentials configured means no admin access
		if user == "" || pass == "" {
			c.Header("WWW-Authenticate", `Basic realm="Admin Restricted"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		providedUser, providedPass, ok := c.Request.BasicAuth()
		if !ok || providedUser != user || providedPass != pass {
			c.Header("WWW-Authenticate", `Basic realm="Admin Restricted"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Next()
	}
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
		ReadTimeout:       600 * time.Second,
		WriteTimeout:      600 * time.Second,
		IdleTimeout:       1200 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	ctxShut, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server graceful shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return nil
}
