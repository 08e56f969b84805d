package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/config"
)

const redacted = "********"

// handleGetConfig returns the current configuration with secrets hidden.
func (s *Server) handleGetConfig(c *gin.Context) {
	appData := s.cfg.GetApplicationData()
	if appData.Security.APIToken != "" {
		appData.Security.APIToken = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"server_data":      s.cfg.GetServerData(),
		"application_data": appData,
	})
}

// handleSetAppData replaces the application settings. Server settings
// need a restart and are not writable here.
func (s *Server) handleSetAppData(c *gin.Context) {
	var appData config.ApplicationData
	if err := c.ShouldBindJSON(&appData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	current := s.cfg.GetApplicationData()
	if appData.Security.APIToken == redacted {
		appData.Security.APIToken = current.Security.APIToken
	}

	candidate := config.DefaultConfig()
	candidate.ServerData = s.cfg.GetServerData()
	candidate.ApplicationData = appData
	if result := config.Validate(candidate); !result.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid configuration",
			"errors": result.Errors,
		})
		return
	}

	s.cfg.SetApplicationData(appData)
	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	admin, _ := c.Get("admin")
	log.Info().Interface("admin", admin).Msg("API: application data updated")

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
