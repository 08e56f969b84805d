package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/server"
)

// handleMute mutes the client in a slot. The mute is stored by host and
// applies again when the host reconnects.
func (s *Server) handleMute(c *gin.Context) {
	s.setMuted(c, true)
}

// handleUnmute lifts a mute.
func (s *Server) handleUnmute(c *gin.Context) {
	s.setMuted(c, false)
}

func (s *Server) setMuted(c *gin.Context, muted bool) {
	slot, err := parseSlot(c)
	if err != nil {
		return
	}

	var opErr error
	err = s.game.Exec(c.Request.Context(), func(srv *server.Server) {
		opErr = srv.SetMuted(slot, muted)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		respondExecError(c, err)
		return
	}

	admin, _ := c.Get("admin")
	log.Info().Int("slot", slot).Bool("muted", muted).Interface("admin", admin).Msg("API: mute changed")
	c.JSON(http.StatusOK, gin.H{"slot": slot, "muted": muted})
}

// handleKick drops the client in a slot.
func (s *Server) handleKick(c *gin.Context) {
	slot, err := parseSlot(c)
	if err != nil {
		return
	}

	var opErr error
	err = s.game.Exec(c.Request.Context(), func(srv *server.Server) {
		opErr = srv.Kick(slot)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		respondExecError(c, err)
		return
	}

	admin, _ := c.Get("admin")
	log.Info().Int("slot", slot).Interface("admin", admin).Msg("API: client kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "slot": slot})
}

// parseSlot extracts and validates the slot parameter from the URL.
func parseSlot(c *gin.Context) (int, error) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot"})
		if err == nil {
			err = server.ErrNoSuchSlot
		}
		return 0, err
	}
	return slot, nil
}

// respondExecError maps server errors to HTTP statuses.
func respondExecError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, server.ErrNoSuchSlot):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, server.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("API: request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
