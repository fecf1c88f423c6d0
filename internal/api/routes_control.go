package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/server"
)

// handleKickPlayer disconnects a player by id. The kick happens on the next
// tick.
func (s *Server) handleKickPlayer(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player id"})
		return
	}

	if err := s.game.Kick(uint8(id)); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, server.ErrUnknownPlayer):
			status = http.StatusNotFound
		case errors.Is(err, server.ErrCommandQueueFull):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "id": id})
		return
	}

	operator, _ := c.Get("operator")
	log.Info().
		Uint64("id", id).
		Interface("operator", operator).
		Msg("API: player kicked")

	c.JSON(http.StatusAccepted, gin.H{
		"status": "kicking",
		"id":     id,
	})
}
