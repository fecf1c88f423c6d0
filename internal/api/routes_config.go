package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/config"
)

// handleGetConfig returns the current configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	apiCfg := s.cfg.GetAPI()
	if apiCfg.AdminToken != "" {
		apiCfg.AdminToken = "********"
	}

	c.JSON(http.StatusOK, gin.H{
		"network":  s.cfg.GetNetwork(),
		"api":      apiCfg,
		"mqtt":     s.cfg.GetMQTT(),
		"database": s.cfg.GetDatabase(),
		"logging":  s.cfg.GetLogging(),
		"monitor":  s.cfg.GetMonitor(),
	})
}

// handleSetNetworkField updates one network setting. The change is saved
// and takes effect on the next start.
func (s *Server) handleSetNetworkField(c *gin.Context) {
	var body struct {
		Key   string      `json:"key" binding:"required"`
		Value interface{} `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetNetwork()
	if err := s.cfg.UpdateNetworkField(body.Key, body.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := config.Validate(s.cfg)
	if !result.IsValid() {
		s.restoreNetwork(previous)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": result.Errors})
		return
	}

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	operator, _ := c.Get("operator")
	log.Info().Str("key", body.Key).Interface("operator", operator).Msg("API: network config updated")

	c.JSON(http.StatusOK, gin.H{
		"status":           "updated",
		"restart_required": true,
		"network":          s.cfg.GetNetwork(),
	})
}

func (s *Server) restoreNetwork(n config.NetworkConfig) {
	s.cfg.SetNetwork(n)
}
