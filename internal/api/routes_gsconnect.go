package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gsemu-project/gsemu/internal/gsconnect"
)

func (s *Server) registerGSConnect(router *gin.Engine) {
	router.GET("/", s.handleGSConnectIndex)
	router.GET("/gsinit.php", s.handleGSInit)
}

func (s *Server) handleGSConnectIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(gsconnect.IndexPage))
}

// handleGSInit serves the connection manifest for ?dp=<product>.
func (s *Server) handleGSInit(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		user = "Anonymous"
	}
	product := c.Query("dp")

	manifest, err := s.catalog.Manifest(product)
	switch {
	case errors.Is(err, gsconnect.ErrMissingProduct):
		s.logger.Warn().Str("user", user).Msg("gsinit request without product")
		c.String(http.StatusBadRequest, "missing product")
		return
	case errors.Is(err, gsconnect.ErrUnknownProduct):
		s.logger.Warn().Str("user", user).Str("product", product).Msg("unsupported product")
		c.String(http.StatusNotFound, "unsupported product")
		return
	case err != nil:
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info().Str("user", user).Str("product", product).Msg("client fetching manifest")
	c.Data(http.StatusOK, gsconnect.ContentType, []byte(manifest))
}
