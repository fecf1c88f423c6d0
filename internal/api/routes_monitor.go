package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/micromayhem/mayhem/internal/util"
)

// handleGetStatus returns the last published server snapshot.
func (s *Server) handleGetStatus(c *gin.Context) {
	snap := s.game.Snapshot()
	resp := gin.H{
		"address":      snap.Address,
		"tick":         snap.Tick,
		"tick_rate":    snap.TickRate,
		"uptime_sec":   int64(snap.Uptime(time.Now()).Seconds()),
		"capacity":     snap.Capacity,
		"registered":   len(snap.Players),
		"players":      snap.Active(),
		"projectiles":  snap.Projectiles,
		"rejected":     snap.Rejected,
		"unexpected":   snap.Unexpected,
		"drops":        snap.Drops,
		"drops_total":  snap.Drops.Total(),
		"last_tick_us": snap.LastTick.Microseconds(),
	}
	if s.eventBus != nil {
		delivered, failed := s.eventBus.Stats()
		resp["events"] = gin.H{"delivered": delivered, "failed": failed}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetPlayers(c *gin.Context) {
	players := s.game.Snapshot().Players
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

// handleGetSessions returns recent session history, newest first.
func (s *Server) handleGetSessions(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session history disabled"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	sessions, err := s.history.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleGetAlerts(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session history disabled"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	alerts, err := s.history.RecentAlerts(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// handleGetTicks returns long-tick statistics and current alerts.
func (s *Server) handleGetTicks(c *gin.Context) {
	monitor := s.game.Monitor()
	c.JSON(http.StatusOK, gin.H{
		"stats":  monitor.Stats(),
		"alerts": monitor.CheckThresholds(),
	})
}

// handleGetSystem returns host and process resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	resp := gin.H{"system": util.GetSystemInfo()}

	if hl, err := util.GetHostLoad(); err == nil {
		resp["load"] = hl
	}
	if proc, err := util.GetProcessUsage(); err == nil {
		resp["process"] = proc
	}
	if udp, err := util.GetUDPStats(); err == nil {
		resp["udp"] = udp
	}

	c.JSON(http.StatusOK, resp)
}

// parseLimit reads ?limit=, default 50, at most 500.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if limit > 500 {
		limit = 500
	}
	return limit, true
}
