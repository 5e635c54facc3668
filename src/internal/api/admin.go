package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nudge/src/internal/config"
	"nudge/src/internal/gateway"
	"nudge/src/internal/system"
)

type adminHealthResponse struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Model    string      `json:"model"`
	Channels []string    `json:"channels"`
	Alerts   int         `json:"pending_alerts"`
	System   system.Info `json:"system"`
}

func (s *Server) handleAdminHealth(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	chs := make([]string, 0, len(gw.Channels))
	for name := range gw.Channels {
		chs = append(chs, name)
	}
	c.JSON(http.StatusOK, adminHealthResponse{
		Status:   "ok",
		Message:  "Admin API is operational",
		Model:    gw.PrimaryAgent.PrimaryModel(),
		Channels: chs,
		Alerts:   len(gw.Alerts.Pending()),
		System:   system.Collect(gw.Started),
	})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, gw.Config)
}

// handleUpdateConfig validates and persists a new configuration. It takes
// effect on the next start.
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var cfg config.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Secrets are never sent out, so keep the current ones unless replaced
	gw := c.MustGet("gateway").(*gateway.Gateway)
	if cfg.Server.AdminPass == "" {
		cfg.Server.AdminPass = gw.Config.Server.AdminPass
	}
	if cfg.Email.Password == "" {
		cfg.Email.Password = gw.Config.Email.Password
	}
	if cfg.Channels.IRC.Password == "" {
		cfg.Channels.IRC.Password = gw.Config.Channels.IRC.Password
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.Save(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "config saved, restart to apply"})
}

func (s *Server) handleListSessions(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, gw.ListSessions())
}

func (s *Server) handleGetSession(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	sess := gw.SessionMgr.GetSession(c.Param("id"))
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleResetSession(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	if !gw.SessionMgr.Reset(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := gw.SessionMgr.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "session reset"})
}

func (s *Server) handleChannelStatus(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, gw.ChannelStatus(c.Param("name")))
}

func (s *Server) handleChannelEnroll(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	if err := gw.ChannelEnroll(c.Request.Context(), c.Param("name")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enrollment started"})
}

func (s *Server) handleChannelDevices(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	devices, err := gw.ChannelListDevices(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, devices)
}
