package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wormnet-project/wormnet/internal/server"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "wormnet",
	})
}

// handleGetServerInfo returns the server name and occupancy.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	serverData := s.cfg.GetServerData()

	var connected, worms int
	err := s.game.Exec(c.Request.Context(), func(srv *server.Server) {
		connected = len(srv.Snapshot())
		worms = srv.Worms().Count()
	})
	if err != nil {
		respondExecError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"server_name":     serverData.Name,
		"game_port":       serverData.GamePort,
		"max_connections": serverData.MaxConnections,
		"connections":     connected,
		"worms":           worms,
		"uptime_sec":      int64(time.Since(s.started).Seconds()),
	})
}
