package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gsemu-project/gsemu/internal/config"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// handleConnections lists live router connections, oldest first.
func (s *Server) handleConnections(c *gin.Context) {
	if s.deps.Connections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "router not running"})
		return
	}
	conns := s.deps.Connections.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":       len(conns),
		"connections": conns,
	})
}

// handleAudit returns the most recent audit rows, newest first.
func (s *Server) handleAudit(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log not available"})
		return
	}

	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := s.deps.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read audit log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(entries),
		"events": entries,
	})
}

// handleGames lists the products the GSConnect endpoint serves.
func (s *Server) handleGames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"games": s.cfg.GetGames(),
		"host":  s.cfg.GetServer().ExternalHost,
	})
}

// handleConfig returns the running configuration with secrets removed,
// plus the current validation warnings.
func (s *Server) handleConfig(c *gin.Context) {
	cdk := s.cfg.GetCDKey()
	cdk.StaticKey = redact(cdk.StaticKey)

	mqtt := s.cfg.GetMQTT()
	mqtt.KeyFile = redact(mqtt.KeyFile)

	apiCfg := s.cfg.GetAPI()
	apiCfg.TLSKeyFile = redact(apiCfg.TLSKeyFile)

	result := config.Validate(s.cfg)
	c.JSON(http.StatusOK, gin.H{
		"server":    s.cfg.GetServer(),
		"router":    s.cfg.GetRouter(),
		"cdkey":     cdk,
		"gsconnect": s.cfg.GetGSConnect(),
		"games":     s.cfg.GetGames(),
		"api":       apiCfg,
		"timers":    s.cfg.GetTimers(),
		"mqtt":      mqtt,
		"database":  s.cfg.GetDatabase(),
		"discovery": s.cfg.GetDiscovery(),
		"warnings":  result.Warnings,
	})
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return "********"
}
