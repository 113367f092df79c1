package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	intnet "github.com/statecast-project/statecast/internal/network"
)

// handleKickSession disconnects one session.
func (s *Server) handleKickSession(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if err := s.deps.Sessions.Kick(id); err != nil {
		if errors.Is(err, intnet.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "id": id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().
		Uint64("session_id", id).
		Str("client_ip", c.ClientIP()).
		Msg("API: session kicked")

	c.JSON(http.StatusOK, gin.H{
		"status": "kicked",
		"id":     id,
	})
}
