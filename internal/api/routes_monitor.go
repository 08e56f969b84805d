package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/server"
	"github.com/wormnet-project/wormnet/internal/util"
)

// handleListConnections returns every active connection.
func (s *Server) handleListConnections(c *gin.Context) {
	var infos []server.ConnectionInfo
	err := s.game.Exec(c.Request.Context(), func(srv *server.Server) {
		infos = srv.Snapshot()
	})
	if err != nil {
		respondExecError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":       len(infos),
		"connections": infos,
	})
}

// handleGetConnection returns one connection by slot.
func (s *Server) handleGetConnection(c *gin.Context) {
	slot, err := parseSlot(c)
	if err != nil {
		return
	}

	var (
		info    server.ConnectionInfo
		slotErr error
	)
	err = s.game.Exec(c.Request.Context(), func(srv *server.Server) {
		conn, err := srv.Slot(slot)
		if err != nil {
			slotErr = err
			return
		}
		info = srv.Info(conn)
	})
	if err == nil {
		err = slotErr
	}
	if err != nil {
		respondExecError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleListSessions returns the most recent journalled sessions.
func (s *Server) handleListSessions(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session journal disabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	sessions, err := s.sessions.ListSessions(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("API: failed to list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// handleListMutes returns the persisted mute list.
func (s *Server) handleListMutes(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session journal disabled"})
		return
	}
	mutes, err := s.sessions.ListMutes(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("API: failed to list mutes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list mutes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mutes": mutes})
}

// handleGetSystem returns host and process resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	resp := gin.H{"system": util.GetSystemInfo()}
	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	}
	if memory, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = memory
	}
	c.JSON(http.StatusOK, resp)
}
