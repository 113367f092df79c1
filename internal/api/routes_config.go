package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/statecast-project/statecast/internal/config"
)

// handleGetConfig returns the running configuration and its validation
// result.
func (s *Server) handleGetConfig(c *gin.Context) {
	result := config.Validate(s.cfg)
	c.JSON(http.StatusOK, gin.H{
		"server":           s.cfg.GetServer(),
		"application_data": s.cfg.GetApplicationData(),
		"valid":            result.IsValid(),
		"errors":           result.Errors,
		"warnings":         result.Warnings,
	})
}
