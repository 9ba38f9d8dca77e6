package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gsemu-project/gsemu/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "gsemu",
		"version": s.deps.Version,
	})
}

// handleInfo returns host information and the service ports.
func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":       s.deps.Version,
		"external_host": s.cfg.GetServer().ExternalHost,
		"services":      s.cfg.Services(),
		"system":        util.GetSystemInfo(),
		"process":       util.GetProcessUsage(s.started),
	})
}
