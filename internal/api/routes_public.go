package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/micromayhem/mayhem/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "mayhem",
		"version": s.version,
	})
}

func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":     s.version,
		"name":        "Micro Mayhem",
		"protocol_id": s.cfg.GetNetwork().ProtocolID,
	})
}

// handleGetServerInfo returns what a player needs to decide whether to join.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	snap := s.game.Snapshot()
	network := s.cfg.GetNetwork()
	sysInfo := util.GetSystemInfo()

	localIP, _ := util.GetLocalIP()

	c.JSON(http.StatusOK, gin.H{
		"address":     snap.Address,
		"local_ip":    localIP,
		"port":        network.ListenPort,
		"protocol_id": network.ProtocolID,
		"tick_rate":   snap.TickRate,
		"players":     snap.Active(),
		"capacity":    snap.Capacity,
		"os":          sysInfo.OS,
		"hostname":    sysInfo.Hostname,
	})
}
